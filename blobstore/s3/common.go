package s3

import (
	"context"
	"errors"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/hupe1980/cytogo/blobstore"
)

var errUploadAborted = errors.New("upload aborted")

// asNotFound maps the S3 "object does not exist" error family onto
// blobstore.ErrNotFound and returns every other error unchanged.
func asNotFound(err error) error {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return blobstore.ErrNotFound
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return blobstore.ErrNotFound
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return blobstore.ErrNotFound
		}
	}
	return err
}

// openBlob issues a single GetObject and returns a blob that streams
// the response body. Shared by Store and ExpressStore.
func openBlob(ctx context.Context, client Client, bucket, key string) (*objectBlob, error) {
	resp, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, asNotFound(err)
	}

	return &objectBlob{
		body: resp.Body,
		size: aws.ToInt64(resp.ContentLength),
	}, nil
}

// objectBlob implements blobstore.Blob over a GetObject body.
// Close releases the underlying connection.
type objectBlob struct {
	body io.ReadCloser
	size int64
}

func (b *objectBlob) Read(p []byte) (int, error) {
	if b.body == nil {
		return 0, os.ErrClosed
	}
	return b.body.Read(p)
}

func (b *objectBlob) Size() int64 {
	return b.size
}

func (b *objectBlob) Close() error {
	if b.body == nil {
		return nil
	}
	body := b.body
	b.body = nil
	return body.Close()
}

// listObjects pages through ListObjectsV2 and returns the names under
// fullPrefix relative to rootPrefix, in lexical order.
func listObjects(ctx context.Context, client Client, bucket, fullPrefix, rootPrefix string) ([]string, error) {
	var keys []string

	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(fullPrefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			relPath := aws.ToString(obj.Key)
			if rootPrefix != "" && strings.HasPrefix(relPath, rootPrefix) {
				relPath = strings.TrimPrefix(relPath, rootPrefix)
				relPath = strings.TrimPrefix(relPath, "/")
			}
			if relPath != "" {
				keys = append(keys, relPath)
			}
		}
	}

	sort.Strings(keys)
	return keys, nil
}

// newWritableBlob starts a background upload fed through a pipe.
// The object is committed when Close returns nil.
func newWritableBlob(ctx context.Context, uploader *manager.Uploader, bucket, key string, checksum bool) *writableBlob {
	pr, pw := io.Pipe()

	b := &writableBlob{
		pw:   pw,
		done: make(chan error, 1),
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   pr,
	}
	if checksum {
		input.ChecksumAlgorithm = types.ChecksumAlgorithmCrc32c
	}

	go func() {
		_, err := uploader.Upload(ctx, input)
		// Unblock any writer still feeding the pipe.
		_ = pr.CloseWithError(err)
		b.done <- err
	}()

	return b
}

// writableBlob implements blobstore.WritableBlob on a streaming
// multipart upload.
type writableBlob struct {
	pw     *io.PipeWriter
	done   chan error
	closed atomic.Bool

	closeMu  sync.Mutex
	closeErr error
}

func (b *writableBlob) Write(p []byte) (int, error) {
	if b.closed.Load() {
		return 0, io.ErrClosedPipe
	}
	return b.pw.Write(p)
}

func (b *writableBlob) Close() error {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()

	if !b.closed.CompareAndSwap(false, true) {
		return b.closeErr
	}

	// Closing the write end signals EOF to the uploader.
	if err := b.pw.Close(); err != nil {
		b.closeErr = err
		return err
	}

	// Wait for the upload to complete.
	b.closeErr = <-b.done
	return b.closeErr
}

// Abort cancels the upload. With LeavePartsOnError disabled (the
// default) the SDK aborts the multipart upload and S3 discards any
// parts already received.
func (b *writableBlob) Abort() error {
	b.closeMu.Lock()
	defer b.closeMu.Unlock()

	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	_ = b.pw.CloseWithError(errUploadAborted)
	b.closeErr = errUploadAborted

	// Wait for the uploader to finish tearing down.
	<-b.done
	return nil
}

// Sync is a no-op; data is only committed on Close.
func (b *writableBlob) Sync() error {
	return nil
}
