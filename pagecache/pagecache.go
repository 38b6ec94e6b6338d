// Package pagecache provides a fixed-page-size FIFO cache over blob.Adaptor
// backends, plus a Storage facade that routes by URL scheme and serves
// page-aligned reads out of the cache before falling back to the adaptor.
//
// FIFO, not LRU: entries are evicted in insertion order regardless of how
// recently they were read. A hierarchical index's access pattern walks
// top-down through a small number of hot upper layers on every lookup, so
// recency tracking buys little, and a plain queue avoids the bookkeeping
// cost of promoting on every hit.
package pagecache

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"k8s.io/klog/v2"

	"github.com/airindex-go/airindex/blob"
)

type pageKey struct {
	path string
	page int64
}

// Cache is a fixed-page-size byte cache with FIFO eviction.
type Cache struct {
	mu       sync.Mutex
	pageSize int64
	maxPages int

	pages        map[pageKey][]byte
	fingerprints map[pageKey]uint64
	order        *list.List
	elems        map[pageKey]*list.Element
}

// NewCache returns an empty Cache holding up to maxPages pages of pageSize
// bytes each.
func NewCache(pageSize int64, maxPages int) *Cache {
	if pageSize <= 0 {
		panic("pagecache: pageSize must be positive")
	}
	return &Cache{
		pageSize:     pageSize,
		maxPages:     maxPages,
		pages:        make(map[pageKey][]byte),
		fingerprints: make(map[pageKey]uint64),
		order:        list.New(),
		elems:        make(map[pageKey]*list.Element),
	}
}

func (c *Cache) get(path string, page int64) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.pages[pageKey{path, page}]
	return data, ok
}

func (c *Cache) put(path string, page int64, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := pageKey{path, page}
	sum := xxhash.Sum64(data)
	if existing, exists := c.pages[key]; exists {
		// Two concurrent fetches can race to fill the same page; that's
		// fine as long as they agree on the bytes. A mismatch means the
		// backing file changed underneath a path we never invalidated.
		if c.fingerprints[key] != sum {
			klog.Errorf("pagecache: page %d of %s refetched with different contents (fetched %d bytes, had %d)",
				page, path, len(data), len(existing))
		}
		return
	}
	c.pages[key] = data
	c.fingerprints[key] = sum
	c.elems[key] = c.order.PushBack(key)
	for c.maxPages > 0 && c.order.Len() > c.maxPages {
		oldest := c.order.Front()
		okey := oldest.Value.(pageKey)
		c.order.Remove(oldest)
		delete(c.elems, okey)
		delete(c.fingerprints, okey)
		delete(c.pages, okey)
		klog.V(5).Infof("pagecache: evicted page %d of %s", okey.page, okey.path)
	}
}

// Invalidate drops every cached page belonging to path, used whenever path
// is overwritten or removed.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, elem := range c.elems {
		if key.path == path {
			c.order.Remove(elem)
			delete(c.elems, key)
			delete(c.fingerprints, key)
			delete(c.pages, key)
		}
	}
}

// Storage routes byte-range operations to a blob.Adaptor chosen by URL
// scheme, serving reads out of a shared page cache.
type Storage struct {
	cache    *Cache
	adaptors map[string]blob.Adaptor
}

// NewStorage returns a Storage with no registered adaptors and a cache of
// pageSize-byte pages, holding up to maxPages at once (0 for unbounded).
func NewStorage(pageSize int64, maxPages int) *Storage {
	return &Storage{cache: NewCache(pageSize, maxPages), adaptors: make(map[string]blob.Adaptor)}
}

// With registers adaptor for scheme and returns the Storage for chaining.
func (s *Storage) With(scheme string, adaptor blob.Adaptor) *Storage {
	s.adaptors[scheme] = adaptor
	return s
}

func (s *Storage) adaptorFor(scheme string) (blob.Adaptor, error) {
	a, ok := s.adaptors[scheme]
	if !ok {
		return nil, fmt.Errorf("pagecache: no adaptor registered for scheme %q", scheme)
	}
	return a, nil
}

// ReadRange returns the bytes in r, reading through the page cache: the
// first pass over [startPage, endPage] fills every missing page with one
// coalesced raw read spanning the first to the last miss, then a second
// pass stitches the (now all cached) pages into the result. A range too
// large to ever fit the cache bypasses it entirely and is read raw, and so
// is a range whose page-aligned fill fails (for example because the last
// page runs past the end of the file).
func (s *Storage) ReadRange(ctx context.Context, scheme, path string, r blob.Range) ([]byte, error) {
	adaptor, err := s.adaptorFor(scheme)
	if err != nil {
		return nil, err
	}

	pageSize := s.cache.pageSize
	if s.cache.maxPages > 0 && r.Length > int64(s.cache.maxPages)*pageSize {
		data, err := adaptor.ReadRange(ctx, path, r)
		if err != nil {
			return nil, fmt.Errorf("pagecache: oversize raw read of %s: %w", path, err)
		}
		return data, nil
	}

	startPage := r.Offset / pageSize
	endPage := (r.End() - 1) / pageSize

	if err := s.fillMissingSpan(ctx, adaptor, path, startPage, endPage); err != nil {
		data, rerr := adaptor.ReadRange(ctx, path, r)
		if rerr != nil {
			return nil, fmt.Errorf("pagecache: raw read of %s after failed fill (%v): %w", path, err, rerr)
		}
		return data, nil
	}

	var rope blob.Rope
	for page := startPage; page <= endPage; page++ {
		data, ok := s.cache.get(path, page)
		if !ok {
			// Still missing after the coalesced fill: an eviction raced in
			// between. Fetch just this page directly rather than fail.
			klog.Warningf("pagecache: page %d of %s missing after fill, fetching directly", page, path)
			fetched, err := adaptor.ReadRange(ctx, path, blob.Range{Offset: page * pageSize, Length: pageSize})
			if err != nil {
				return nil, fmt.Errorf("pagecache: fetch page %d of %s: %w", page, path, err)
			}
			s.cache.put(path, page, fetched)
			data = fetched
		}
		rope.Push(data)
	}

	windowStart := int(r.Offset - startPage*pageSize)
	return rope.CloneWithin(windowStart, windowStart+int(r.Length)), nil
}

// fillMissingSpan finds the contiguous run from the first to the last
// cache-missing page in [startPage, endPage] and fetches that whole span
// with a single raw read, rather than one read per missing page: a cache
// hit sitting between two misses gets refetched (put keeps the cached copy),
// but that trades a few redundant bytes for one round trip instead of several.
func (s *Storage) fillMissingSpan(ctx context.Context, adaptor blob.Adaptor, path string, startPage, endPage int64) error {
	firstMissing, lastMissing, anyMissing := int64(0), int64(0), false
	for page := startPage; page <= endPage; page++ {
		if _, ok := s.cache.get(path, page); !ok {
			if !anyMissing {
				firstMissing = page
				anyMissing = true
			}
			lastMissing = page
		}
	}
	if !anyMissing {
		return nil
	}

	pageSize := s.cache.pageSize
	span := blob.Range{Offset: firstMissing * pageSize, Length: (lastMissing - firstMissing + 1) * pageSize}
	data, err := adaptor.ReadRange(ctx, path, span)
	if err != nil {
		return fmt.Errorf("pagecache: fetch missing span [%d,%d] of %s: %w", firstMissing, lastMissing, path, err)
	}
	for page := firstMissing; page <= lastMissing; page++ {
		off := (page - firstMissing) * pageSize
		s.cache.put(path, page, data[off:off+pageSize])
	}
	return nil
}

// WarmCache pre-fetches r into the page cache without returning the bytes.
func (s *Storage) WarmCache(ctx context.Context, scheme, path string, r blob.Range) error {
	_, err := s.ReadRange(ctx, scheme, path, r)
	return err
}

// ReadAll returns path's full contents, bypassing the page cache: a stash
// index reads a whole small file once up front rather than paging through it.
func (s *Storage) ReadAll(ctx context.Context, scheme, path string) ([]byte, error) {
	adaptor, err := s.adaptorFor(scheme)
	if err != nil {
		return nil, err
	}
	data, err := adaptor.ReadAll(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("pagecache: read all of %s: %w", path, err)
	}
	return data, nil
}

// WarmCacheBytes seeds the page cache for path with data already in hand
// (as returned by ReadAll), splitting it into page-sized chunks so later
// ReadRange calls hit the cache instead of refetching.
func (s *Storage) WarmCacheBytes(path string, data []byte) {
	pageSize := s.cache.pageSize
	for offset := int64(0); offset < int64(len(data)); offset += pageSize {
		end := offset + pageSize
		if end > int64(len(data)) {
			end = int64(len(data))
		}
		s.cache.put(path, offset/pageSize, data[offset:end])
	}
}

// WriteAll replaces path's contents and invalidates any cached pages for it.
func (s *Storage) WriteAll(ctx context.Context, scheme, path string, data []byte) error {
	adaptor, err := s.adaptorFor(scheme)
	if err != nil {
		return err
	}
	if err := adaptor.WriteAll(ctx, path, data); err != nil {
		return err
	}
	s.cache.Invalidate(path)
	return nil
}

// Remove deletes path and invalidates any cached pages for it.
func (s *Storage) Remove(ctx context.Context, scheme, path string) error {
	adaptor, err := s.adaptorFor(scheme)
	if err != nil {
		return err
	}
	if err := adaptor.Remove(ctx, path); err != nil {
		return err
	}
	s.cache.Invalidate(path)
	return nil
}
