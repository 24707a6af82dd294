package extract

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
)

const (
	defaultNumCounters = 1e6
	defaultMaxCost     = 256 << 20
	defaultBufferItems = 64
)

// MemoConfig sizes a Memo. Zero fields take defaults.
type MemoConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
}

type memoEntry struct {
	size    int64
	modTime time.Time
	result  FileResult
}

// Memo remembers per-file extraction results across runs of a long-lived
// process. An entry is reused only while the file's size and modification
// time are unchanged. Failed extractions are never remembered.
type Memo struct {
	cache  *ristretto.Cache
	dec    Decoder
	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemo wraps dec with a memo.
func NewMemo(dec Decoder, cfg MemoConfig) (*Memo, error) {
	cfg = applyDefaults(cfg)
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("extract memo: %w", err)
	}
	return &Memo{cache: cache, dec: dec}, nil
}

func applyDefaults(cfg MemoConfig) MemoConfig {
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = defaultNumCounters
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = defaultMaxCost
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = defaultBufferItems
	}
	return cfg
}

// File returns the memoized result for path, extracting it on a miss.
func (m *Memo) File(path string) (FileResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		// Let the decoder report the failure.
		return File(m.dec, path)
	}

	if v, ok := m.cache.Get(path); ok {
		if e, ok := v.(*memoEntry); ok && e.size == info.Size() && e.modTime.Equal(info.ModTime()) {
			m.hits.Add(1)
			return e.result, nil
		}
	}
	m.misses.Add(1)

	res, err := File(m.dec, path)
	if err != nil {
		return res, err
	}
	m.cache.Set(path, &memoEntry{size: info.Size(), modTime: info.ModTime(), result: res}, cost(res))
	return res, nil
}

func cost(res FileResult) int64 {
	c := int64(len(res.Path) + len(res.Encoding) + 64)
	for _, s := range res.Sentences {
		c += int64(len(s)) + 16
	}
	return c
}

// Wait blocks until pending writes are visible.
func (m *Memo) Wait() { m.cache.Wait() }

// Hits returns the number of memo hits.
func (m *Memo) Hits() int64 { return m.hits.Load() }

// Misses returns the number of memo misses.
func (m *Memo) Misses() int64 { return m.misses.Load() }

// Close releases the memo.
func (m *Memo) Close() { m.cache.Close() }
