// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package avatar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
)

type fakeFetcher struct {
	calls   atomic.Int64
	block   chan struct{} // if non-nil, fetches wait on it
	failURI string
}

func (f *fakeFetcher) MediaThumbnail(_ context.Context, mxcURI string, width, height int) ([]byte, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	if mxcURI == f.failURI {
		return nil, errors.New("thumbnail generation failed")
	}
	return fmt.Appendf(nil, "%s@%dx%d", mxcURI, width, height), nil
}

type staticSource string

func (s staticSource) AvatarURL() string { return string(s) }

func newTestCache(fetcher *fakeFetcher) *Cache {
	return NewCache(fetcher, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestThumbnailFetchAndHit(t *testing.T) {
	fetcher := &fakeFetcher{}
	cache := newTestCache(fetcher)
	source := staticSource("mxc://example.com/abc")

	data, err := cache.Thumbnail(context.Background(), source, 64, 64)
	if err != nil {
		t.Fatalf("Thumbnail failed: %v", err)
	}
	if !bytes.Equal(data, []byte("mxc://example.com/abc@64x64")) {
		t.Errorf("unexpected thumbnail bytes: %s", data)
	}

	// Second request is served from the cache.
	if _, err := cache.Thumbnail(context.Background(), source, 64, 64); err != nil {
		t.Fatalf("Thumbnail failed: %v", err)
	}
	if got := fetcher.calls.Load(); got != 1 {
		t.Errorf("expected 1 fetch, got %d", got)
	}

	// A different size is a different entry.
	if _, err := cache.Thumbnail(context.Background(), source, 128, 128); err != nil {
		t.Fatalf("Thumbnail failed: %v", err)
	}
	if got := fetcher.calls.Load(); got != 2 {
		t.Errorf("expected 2 fetches, got %d", got)
	}
	if cache.Len() != 2 {
		t.Errorf("expected 2 cached entries, got %d", cache.Len())
	}
}

func TestThumbnailNoAvatar(t *testing.T) {
	cache := newTestCache(&fakeFetcher{})
	if _, err := cache.Thumbnail(context.Background(), staticSource(""), 64, 64); !errors.Is(err, ErrNoAvatar) {
		t.Errorf("expected ErrNoAvatar, got: %v", err)
	}
}

func TestThumbnailSingleFlight(t *testing.T) {
	fetcher := &fakeFetcher{block: make(chan struct{})}
	cache := newTestCache(fetcher)
	source := staticSource("mxc://example.com/abc")

	const concurrent = 8
	var group sync.WaitGroup
	results := make([][]byte, concurrent)
	for i := range concurrent {
		group.Add(1)
		go func() {
			defer group.Done()
			data, err := cache.Thumbnail(context.Background(), source, 64, 64)
			if err != nil {
				t.Errorf("Thumbnail failed: %v", err)
			}
			results[i] = data
		}()
	}

	// All callers are either in the fetch or attached to it; releasing
	// the single fetch satisfies everyone.
	close(fetcher.block)
	group.Wait()

	if got := fetcher.calls.Load(); got != 1 {
		t.Errorf("expected a single coalesced fetch, got %d", got)
	}
	for i, data := range results {
		if !bytes.Equal(data, results[0]) {
			t.Errorf("caller %d got different bytes", i)
		}
	}
}

func TestFailedFetchIsNotCached(t *testing.T) {
	fetcher := &fakeFetcher{failURI: "mxc://example.com/bad"}
	cache := newTestCache(fetcher)
	source := staticSource("mxc://example.com/bad")

	if _, err := cache.Thumbnail(context.Background(), source, 64, 64); err == nil {
		t.Fatal("expected fetch error")
	}
	if _, err := cache.Thumbnail(context.Background(), source, 64, 64); err == nil {
		t.Fatal("expected fetch error")
	}
	if got := fetcher.calls.Load(); got != 2 {
		t.Errorf("failures must not be cached, got %d fetches", got)
	}
	if cache.Len() != 0 {
		t.Errorf("expected empty cache, got %d entries", cache.Len())
	}
}

func TestInvalidateDropsAllSizes(t *testing.T) {
	fetcher := &fakeFetcher{}
	cache := newTestCache(fetcher)
	source := staticSource("mxc://example.com/abc")

	for _, size := range []int{32, 64, 128} {
		if _, err := cache.Thumbnail(context.Background(), source, size, size); err != nil {
			t.Fatalf("Thumbnail failed: %v", err)
		}
	}
	cache.Invalidate("mxc://example.com/abc")
	if cache.Len() != 0 {
		t.Errorf("expected empty cache after invalidation, got %d", cache.Len())
	}

	if _, err := cache.Thumbnail(context.Background(), source, 64, 64); err != nil {
		t.Fatalf("Thumbnail failed: %v", err)
	}
	if got := fetcher.calls.Load(); got != 4 {
		t.Errorf("expected a refetch after invalidation, got %d fetches", got)
	}
}

func TestThumbnailKeyDistinctness(t *testing.T) {
	base := ThumbnailKey("mxc://example.com/abc", 64, 64)
	tests := []struct {
		name string
		key  Key
	}{
		{"different URI", ThumbnailKey("mxc://example.com/xyz", 64, 64)},
		{"different width", ThumbnailKey("mxc://example.com/abc", 32, 64)},
		{"different height", ThumbnailKey("mxc://example.com/abc", 64, 32)},
	}
	for _, tt := range tests {
		if tt.key == base {
			t.Errorf("%s produced the same key", tt.name)
		}
	}
	if again := ThumbnailKey("mxc://example.com/abc", 64, 64); again != base {
		t.Error("key derivation is not deterministic")
	}
}
