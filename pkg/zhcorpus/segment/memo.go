package segment

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Memo caches segmentation results per sentence.
type Memo struct {
	seg   Segmenter
	cache *lru.Cache[string, []string]
}

// Memoize wraps seg with an LRU of the given size.
func Memoize(seg Segmenter, size int) (*Memo, error) {
	cache, err := lru.New[string, []string](size)
	if err != nil {
		return nil, fmt.Errorf("segment memo: %w", err)
	}
	return &Memo{seg: seg, cache: cache}, nil
}

func (m *Memo) Name() string { return m.seg.Name() }

// Fingerprint forwards the wrapped segmenter's fingerprint.
func (m *Memo) Fingerprint() string {
	if f, ok := m.seg.(Fingerprinter); ok {
		return f.Fingerprint()
	}
	return ""
}

// Segment returns the cached result or segments and caches.
// Callers must not modify the returned slice.
func (m *Memo) Segment(sentence string) []string {
	if words, ok := m.cache.Get(sentence); ok {
		return words
	}
	words := m.seg.Segment(sentence)
	m.cache.Add(sentence, words)
	return words
}

// Len returns the number of cached sentences.
func (m *Memo) Len() int { return m.cache.Len() }
