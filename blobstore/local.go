package blobstore

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hupe1980/cytogo/internal/mmap"
)

// tmpPrefix marks in-flight writes so List never reports them.
const tmpPrefix = ".tmp-"

// LocalStore implements Store on the local file system.
//
// Reads are memory mapped, so repeated loads of the same bundle are
// served from the page cache. Writes go through a temp file and a
// rename, so a blob is either fully present or absent.
type LocalStore struct {
	root string
}

var _ Store = (*LocalStore)(nil)

// NewLocalStore creates a new LocalStore rooted at the given directory.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

// Open opens a blob for reading.
func (s *LocalStore) Open(_ context.Context, name string) (Blob, error) {
	m, err := mmap.Open(filepath.Join(s.root, name))
	if err != nil {
		// A missing file already satisfies errors.Is(err, ErrNotFound).
		return nil, err
	}

	// Bundles are consumed front to back.
	_ = m.Advise(mmap.AccessSequential)

	return &localBlob{m: m, r: bytes.NewReader(m.Bytes())}, nil
}

// Create starts a streaming write. The target becomes visible atomically
// when Close succeeds.
func (s *LocalStore) Create(_ context.Context, name string) (WritableBlob, error) {
	target := filepath.Join(s.root, name)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(s.root, tmpPrefix+"*")
	if err != nil {
		return nil, err
	}

	return &localWritableBlob{f: f, tmpName: f.Name(), target: target}, nil
}

// Put writes a blob atomically.
func (s *LocalStore) Put(ctx context.Context, name string, data []byte) error {
	w, err := s.Create(ctx, name)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Abort()
		return err
	}
	return w.Close()
}

// Delete removes a blob.
func (s *LocalStore) Delete(_ context.Context, name string) error {
	err := os.Remove(filepath.Join(s.root, name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// List returns all blob names with the given prefix, in lexical order.
// Names use forward slashes regardless of platform.
func (s *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	var names []string

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A store whose root was never created is simply empty.
			if path == s.root && os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tmpPrefix) {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		if name := filepath.ToSlash(rel); strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(names)
	return names, nil
}

// localBlob serves reads from the mapped region.
type localBlob struct {
	m *mmap.Mapping
	r *bytes.Reader
}

func (b *localBlob) Read(p []byte) (int, error) {
	if b.r == nil {
		return 0, os.ErrClosed
	}
	return b.r.Read(p)
}

func (b *localBlob) Size() int64 {
	return int64(b.m.Size())
}

func (b *localBlob) Close() error {
	b.r = nil
	return b.m.Close()
}

// localWritableBlob writes to a temp file and renames it into place on Close.
type localWritableBlob struct {
	f        *os.File
	tmpName  string
	target   string
	done     bool
	writeErr error
}

func (w *localWritableBlob) Write(p []byte) (int, error) {
	if w.done {
		return 0, os.ErrClosed
	}
	n, err := w.f.Write(p)
	if err != nil {
		w.writeErr = err
	}
	return n, err
}

func (w *localWritableBlob) Sync() error {
	if w.done {
		return os.ErrClosed
	}
	return w.f.Sync()
}

func (w *localWritableBlob) Close() error {
	if w.done {
		return os.ErrClosed
	}
	w.done = true

	// A failed write must never be committed.
	if w.writeErr != nil {
		_ = w.f.Close()
		_ = os.Remove(w.tmpName)
		return w.writeErr
	}

	if err := w.commit(); err != nil {
		_ = os.Remove(w.tmpName)
		return err
	}
	return nil
}

func (w *localWritableBlob) commit() error {
	// CreateTemp uses 0600; published blobs follow the usual umask.
	if err := w.f.Chmod(0o644); err != nil {
		_ = w.f.Close()
		return err
	}
	if err := w.f.Sync(); err != nil {
		_ = w.f.Close()
		return err
	}
	if err := w.f.Close(); err != nil {
		return err
	}
	if err := os.Rename(w.tmpName, w.target); err != nil {
		return err
	}

	// Best effort: fsync the directory so the rename is durable on POSIX.
	if dir, err := os.Open(filepath.Dir(w.target)); err == nil {
		_ = dir.Sync()
		_ = dir.Close()
	}
	return nil
}

func (w *localWritableBlob) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	_ = w.f.Close()
	return os.Remove(w.tmpName)
}
