package blobstore

import (
	"container/list"
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/cytogo/resource"
)

// CachingStore is a read-through cache in front of another Store.
//
// Whole blobs are cached on first read and evicted least-recently-used
// by byte size. Blobs larger than the configured capacity bypass the
// cache and stream straight from the inner store. Writes and deletes
// drop the cached copy once the inner store has committed them.
//
// The cache suits serving processes that reopen the same model bundle
// many times from a remote store.
type CachingStore struct {
	inner    Store
	rc       *resource.Controller
	capacity int64

	mu        sync.Mutex
	size      int64
	items     map[string]*list.Element
	evictList *list.List

	hits   atomic.Int64
	misses atomic.Int64
}

var _ Store = (*CachingStore)(nil)

type cacheEntry struct {
	name string
	data []byte
}

// NewCachingStore creates a CachingStore with the given capacity in
// bytes. A capacity <= 0 disables caching entirely. If rc is non-nil,
// cached bytes are accounted against its memory limit; blobs the
// controller declines are served uncached.
func NewCachingStore(inner Store, capacity int64, rc *resource.Controller) *CachingStore {
	return &CachingStore{
		inner:     inner,
		rc:        rc,
		capacity:  capacity,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
	}
}

// Open returns the cached blob when present, otherwise reads it from
// the inner store and admits it.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	if data, ok := s.get(name); ok {
		return newMemoryBlob(data), nil
	}

	blob, err := s.inner.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	if blob.Size() > s.capacity {
		// Can never fit; let the caller stream it directly.
		return blob, nil
	}

	data, err := io.ReadAll(blob)
	closeErr := blob.Close()
	if err != nil {
		return nil, err
	}
	if closeErr != nil {
		return nil, closeErr
	}

	s.set(name, data)
	return newMemoryBlob(data), nil
}

// Create passes the write through and drops any stale cached copy once
// the inner store commits it.
func (s *CachingStore) Create(ctx context.Context, name string) (WritableBlob, error) {
	w, err := s.inner.Create(ctx, name)
	if err != nil {
		return nil, err
	}
	return &invalidatingBlob{WritableBlob: w, store: s, name: name}, nil
}

// Put writes through to the inner store, then invalidates.
func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	if err := s.inner.Put(ctx, name, data); err != nil {
		return err
	}
	s.Invalidate(name)
	return nil
}

// Delete removes the blob from the inner store, then invalidates.
func (s *CachingStore) Delete(ctx context.Context, name string) error {
	if err := s.inner.Delete(ctx, name); err != nil {
		return err
	}
	s.Invalidate(name)
	return nil
}

// List is a pass-through; listings are never cached.
func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// Invalidate drops the cached copy of name, if any.
func (s *CachingStore) Invalidate(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.items[name]; ok {
		s.removeElement(ent)
	}
}

// Stats returns cache hit and miss counts.
func (s *CachingStore) Stats() (hits, misses int64) {
	return s.hits.Load(), s.misses.Load()
}

// Size returns the cached bytes currently held.
func (s *CachingStore) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

func (s *CachingStore) get(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.items[name]; ok {
		s.hits.Add(1)
		s.evictList.MoveToFront(ent)
		return ent.Value.(*cacheEntry).data, true
	}
	s.misses.Add(1)
	return nil, false
}

func (s *CachingStore) set(name string, data []byte) {
	size := int64(len(data))
	if size > s.capacity {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.items[name]; ok {
		s.removeElement(ent)
	}

	// Evict before acquiring so the controller sees released bytes first.
	for s.size+size > s.capacity {
		back := s.evictList.Back()
		if back == nil {
			break
		}
		s.removeElement(back)
	}

	if !s.rc.TryAcquireMemory(size) {
		// Over the global memory budget; serve this blob uncached.
		return
	}

	ent := s.evictList.PushFront(&cacheEntry{name: name, data: data})
	s.items[name] = ent
	s.size += size
}

// removeElement must be called with s.mu held.
func (s *CachingStore) removeElement(e *list.Element) {
	s.evictList.Remove(e)
	ent := e.Value.(*cacheEntry)
	delete(s.items, ent.name)
	s.size -= int64(len(ent.data))
	s.rc.ReleaseMemory(int64(len(ent.data)))
}

// invalidatingBlob defers invalidation until the write is committed.
type invalidatingBlob struct {
	WritableBlob
	store *CachingStore
	name  string
}

func (w *invalidatingBlob) Close() error {
	err := w.WritableBlob.Close()
	if err == nil {
		w.store.Invalidate(w.name)
	}
	return err
}
