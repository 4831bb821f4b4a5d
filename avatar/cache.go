// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package avatar caches user avatar thumbnails fetched through the
// media API. Entries are keyed by a BLAKE3 keyed hash of the mxc://
// URI and the requested size, so a user changing their avatar URL
// naturally invalidates every cached size: the old entries are simply
// never looked up again. Concurrent requests for the same thumbnail
// coalesce onto a single fetch.
package avatar

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zeebo/blake3"
)

// ErrNoAvatar is returned when the source has no avatar URL set.
var ErrNoAvatar = errors.New("avatar: no avatar URL")

// Fetcher downloads a server-generated thumbnail for an mxc:// URI.
// *messaging.DirectSession satisfies this.
type Fetcher interface {
	MediaThumbnail(ctx context.Context, mxcURI string, width, height int) ([]byte, error)
}

// Source is anything with an avatar URL; *client.User satisfies this.
type Source interface {
	AvatarURL() string
}

// Key is the 32-byte BLAKE3 digest identifying one (URI, size) cache
// entry.
type Key [32]byte

// String returns an abbreviated hex form for logging.
func (k Key) String() string { return fmt.Sprintf("%x", k[:8]) }

// thumbnailDomainKey is the BLAKE3 keyed-hash domain for thumbnail
// cache keys: the ASCII domain name zero-padded to 32 bytes.
var thumbnailDomainKey = [32]byte{
	'w', 'e', 'a', 'v', 'e', '.', 'a', 'v', 'a', 't', 'a', 'r', '.',
	't', 'h', 'u', 'm', 'b', 'n', 'a', 'i', 'l', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// ThumbnailKey computes the cache key for an mxc:// URI at a size.
func ThumbnailKey(mxcURI string, width, height int) Key {
	hasher, err := blake3.NewKeyed(thumbnailDomainKey[:])
	if err != nil {
		panic("avatar: keyed hasher initialization failed: " + err.Error())
	}
	hasher.Write([]byte(mxcURI))
	var sizes [17]byte
	binary.LittleEndian.PutUint64(sizes[1:], uint64(width))
	binary.LittleEndian.PutUint64(sizes[9:], uint64(height))
	hasher.Write(sizes[:])

	var key Key
	copy(key[:], hasher.Sum(nil))
	return key
}

type fetchFlight struct {
	done chan struct{}
	data []byte
	err  error
}

// Cache is an in-memory thumbnail store with single-flight fetching:
// at most one download runs per (URI, size) at a time, and concurrent
// callers share its result. Failed fetches are not cached; the next
// caller retries.
type Cache struct {
	fetcher Fetcher
	logger  *slog.Logger

	mu       sync.Mutex
	entries  map[Key][]byte
	byURI    map[string][]Key
	inflight map[Key]*fetchFlight
}

// NewCache creates a Cache over a thumbnail fetcher. A nil logger
// defaults to slog.Default().
func NewCache(fetcher Fetcher, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		fetcher:  fetcher,
		logger:   logger,
		entries:  make(map[Key][]byte),
		byURI:    make(map[string][]Key),
		inflight: make(map[Key]*fetchFlight),
	}
}

// Thumbnail returns the cached thumbnail for the source's current
// avatar at the given size, fetching it on a miss. Returns ErrNoAvatar
// when the source has no avatar URL.
func (c *Cache) Thumbnail(ctx context.Context, source Source, width, height int) ([]byte, error) {
	mxcURI := source.AvatarURL()
	if mxcURI == "" {
		return nil, ErrNoAvatar
	}
	return c.ThumbnailURI(ctx, mxcURI, width, height)
}

// ThumbnailURI is Thumbnail for callers that already hold the mxc://
// URI.
func (c *Cache) ThumbnailURI(ctx context.Context, mxcURI string, width, height int) ([]byte, error) {
	key := ThumbnailKey(mxcURI, width, height)

	c.mu.Lock()
	if data, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return data, nil
	}
	if flight, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-flight.done:
			return flight.data, flight.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	flight := &fetchFlight{done: make(chan struct{})}
	c.inflight[key] = flight
	c.mu.Unlock()

	data, err := c.fetcher.MediaThumbnail(ctx, mxcURI, width, height)

	c.mu.Lock()
	delete(c.inflight, key)
	if err == nil {
		c.entries[key] = data
		c.byURI[mxcURI] = append(c.byURI[mxcURI], key)
	} else {
		c.logger.Warn("thumbnail fetch failed",
			"uri", mxcURI, "width", width, "height", height, "error", err)
	}
	c.mu.Unlock()

	flight.data = data
	flight.err = err
	close(flight.done)
	return data, err
}

// Invalidate drops every cached size of an mxc:// URI. Call this from
// an avatar-changed hook to reclaim memory for the replaced avatar;
// correctness does not depend on it, since lookups always key on the
// current URI.
func (c *Cache) Invalidate(mxcURI string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.byURI[mxcURI] {
		delete(c.entries, key)
	}
	delete(c.byURI, mxcURI)
}

// Len returns the number of cached thumbnails.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
