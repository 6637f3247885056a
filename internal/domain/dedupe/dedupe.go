// Package dedupe tracks in-flight scoring jobs so a submission is queued at most once at a time.
package dedupe

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultMaxSize = 10_000

// Deduper records seen submission IDs.
type Deduper interface {
	// SeenAndRecord atomically checks if id was seen and records it if not.
	// Returns true if id was already seen, false if it was newly recorded.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord removes an ID from the seen list, allowing it to be queued again.
	// Used when a job finishes or could not be enqueued.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// lruDeduper bounds memory with least-recently-used eviction.
type lruDeduper struct {
	maxSize int
	cache   *lru.Cache[string, struct{}]
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &lruDeduper{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxSize <= 0 {
		d.maxSize = defaultMaxSize
	}
	// lru.New only fails on a non-positive size.
	cache, _ := lru.New[string, struct{}](d.maxSize)
	d.cache = cache
	return d
}

func (d *lruDeduper) SeenAndRecord(_ context.Context, id string) bool {
	found, _ := d.cache.ContainsOrAdd(id, struct{}{})
	return found
}

func (d *lruDeduper) Unrecord(_ context.Context, id string) {
	d.cache.Remove(id)
}

// Size returns the current number of entries in the deduper.
func (d *lruDeduper) Size() int64 {
	return int64(d.cache.Len())
}
