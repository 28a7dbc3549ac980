package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/cytogo/blobstore"
)

// LatestPointer is the reserved blob name that resolves to the most
// recently published bundle.
const LatestPointer = "LATEST"

// ErrConcurrentModification is returned when two publishers race on the
// same version.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// DDBCommitStore wraps a blob store with DynamoDB-coordinated versioned
// publishing. Bundle objects land in the wrapped store unchanged;
// DynamoDB conditional writes provide the atomic compare-and-swap that
// object stores lack, so concurrent publishers can never silently
// overwrite each other.
//
// Opening LatestPointer yields a small virtual blob whose content is
// the name of the newest published bundle. Writing LatestPointer
// commits a new version pointing at the bundle name in the payload.
// Publish does both steps: store the bundle under a fresh versioned
// name, then move the pointer.
//
// Table schema:
//   - Partition key: base_uri (string) - the store URI/namespace
//   - Sort key: version (number) - monotonically increasing version
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name cytogo-commits \
//	  --attribute-definitions AttributeName=base_uri,AttributeType=S AttributeName=version,AttributeType=N \
//	  --key-schema AttributeName=base_uri,KeyType=HASH AttributeName=version,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DDBCommitStore struct {
	store     blobstore.Store
	ddbClient DDBClient
	tableName string
	baseURI   string // partition key, e.g. "s3://bucket/prefix"
}

// Compile time check to ensure DDBCommitStore satisfies the Store interface.
var _ blobstore.Store = (*DDBCommitStore)(nil)

// DDBClient is the interface for the DynamoDB operations the commit
// store performs.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Version is one committed entry in the publish history.
type Version struct {
	Number uint64
	Bundle string
}

// NewDDBCommitStore creates a commit store over any blob store.
// baseURI namespaces the version history (e.g. "s3://bucket/prefix").
func NewDDBCommitStore(store blobstore.Store, ddbClient DDBClient, tableName, baseURI string) *DDBCommitStore {
	return &DDBCommitStore{
		store:     store,
		ddbClient: ddbClient,
		tableName: tableName,
		baseURI:   baseURI,
	}
}

// Publish stores data under a fresh versioned bundle name and commits
// the version. Returns the bundle name. On ErrConcurrentModification
// the orphaned object remains in the store but the pointer never
// referenced it; the caller may simply retry.
func (s *DDBCommitStore) Publish(ctx context.Context, data []byte) (string, error) {
	current, _, err := s.latestVersion(ctx)
	if err != nil {
		return "", err
	}

	next := current + 1
	name := bundleName(next)

	if err := s.store.Put(ctx, name, data); err != nil {
		return "", err
	}

	if err := s.commit(ctx, next, name); err != nil {
		return "", err
	}

	return name, nil
}

// Versions returns the publish history, oldest first.
func (s *DDBCommitStore) Versions(ctx context.Context) ([]Version, error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
	}

	var versions []Version

	for {
		resp, err := s.ddbClient.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("failed to query DynamoDB: %w", err)
		}

		for _, item := range resp.Items {
			number, bundle, err := decodeItem(item)
			if err != nil {
				return nil, err
			}
			versions = append(versions, Version{Number: number, Bundle: bundle})
		}

		if len(resp.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = resp.LastEvaluatedKey
	}

	return versions, nil
}

// Open opens a blob for reading. Opening LatestPointer returns a
// virtual blob containing the newest bundle name.
func (s *DDBCommitStore) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	if name == LatestPointer {
		version, bundle, err := s.latestVersion(ctx)
		if err != nil {
			return nil, err
		}
		if version == 0 {
			return nil, blobstore.ErrNotFound
		}
		return newPointerBlob([]byte(bundle)), nil
	}
	return s.store.Open(ctx, name)
}

// Put writes a blob. Writing LatestPointer commits a new version whose
// bundle name is the payload.
func (s *DDBCommitStore) Put(ctx context.Context, name string, data []byte) error {
	if name == LatestPointer {
		current, _, err := s.latestVersion(ctx)
		if err != nil {
			return err
		}
		return s.commit(ctx, current+1, string(data))
	}
	return s.store.Put(ctx, name, data)
}

// Create creates a writable blob in the wrapped store. LatestPointer
// cannot be streamed; commit it via Put or Publish.
func (s *DDBCommitStore) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	if name == LatestPointer {
		return nil, fmt.Errorf("s3: %s is committed via Put or Publish", LatestPointer)
	}
	return s.store.Create(ctx, name)
}

// Delete deletes a blob from the wrapped store.
func (s *DDBCommitStore) Delete(ctx context.Context, name string) error {
	return s.store.Delete(ctx, name)
}

// List lists blobs in the wrapped store.
func (s *DDBCommitStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.store.List(ctx, prefix)
}

// latestVersion queries DynamoDB for the newest committed version.
// A zero version means nothing has been published yet.
func (s *DDBCommitStore) latestVersion(ctx context.Context) (uint64, string, error) {
	resp, err := s.ddbClient.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("base_uri = :uri"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":uri": &types.AttributeValueMemberS{Value: s.baseURI},
		},
		ScanIndexForward: aws.Bool(false), // Descending order
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return 0, "", fmt.Errorf("failed to query DynamoDB: %w", err)
	}

	if len(resp.Items) == 0 {
		return 0, "", nil
	}

	return decodeItem(resp.Items[0])
}

// commit writes the version entry. The conditional expression makes a
// racing commit fail instead of overwriting.
func (s *DDBCommitStore) commit(ctx context.Context, version uint64, bundle string) error {
	_, err := s.ddbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item: map[string]types.AttributeValue{
			"base_uri":    &types.AttributeValueMemberS{Value: s.baseURI},
			"version":     &types.AttributeValueMemberN{Value: strconv.FormatUint(version, 10)},
			"bundle_path": &types.AttributeValueMemberS{Value: bundle},
		},
		ConditionExpression: aws.String("attribute_not_exists(version)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return ErrConcurrentModification
		}
		return fmt.Errorf("failed to commit version to DynamoDB: %w", err)
	}

	return nil
}

func decodeItem(item map[string]types.AttributeValue) (uint64, string, error) {
	versionAttr, ok := item["version"].(*types.AttributeValueMemberN)
	if !ok {
		return 0, "", errors.New("invalid version attribute in DynamoDB")
	}
	pathAttr, ok := item["bundle_path"].(*types.AttributeValueMemberS)
	if !ok {
		return 0, "", errors.New("invalid bundle_path attribute in DynamoDB")
	}

	version, err := strconv.ParseUint(versionAttr.Value, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("failed to parse version: %w", err)
	}

	return version, pathAttr.Value, nil
}

// bundleName formats the object name for a committed version.
func bundleName(version uint64) string {
	return fmt.Sprintf("bundle-%08d.cyt", version)
}

// pointerBlob is an in-memory blob holding the LATEST pointer content.
type pointerBlob struct {
	r    *bytes.Reader
	size int64
}

func newPointerBlob(content []byte) *pointerBlob {
	return &pointerBlob{
		r:    bytes.NewReader(content),
		size: int64(len(content)),
	}
}

func (b *pointerBlob) Read(p []byte) (int, error) {
	return b.r.Read(p)
}

func (b *pointerBlob) Size() int64 {
	return b.size
}

func (b *pointerBlob) Close() error {
	return nil
}
