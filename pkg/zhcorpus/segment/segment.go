// Package segment splits sentences into words.
//
// Backends are looked up by identifier in Backends. The identifier, together
// with any dictionary the backend loads, identifies the word set it produces.
package segment

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/cognicore/zhcorpus/pkg/zhcorpus/internalerr"
)

// Segmenter splits one sentence into ordered word tokens.
type Segmenter interface {
	Name() string
	Segment(sentence string) []string
}

// Fingerprinter is implemented by segmenters whose output depends on data
// beyond their name, such as a dictionary.
type Fingerprinter interface {
	Fingerprint() string
}

// Options configures a backend.
type Options struct {
	// DictPath is a user dictionary for the dict backend.
	DictPath string
	// MemoSize bounds the per-sentence result memo. Zero disables it.
	MemoSize int
	Logger   *slog.Logger
}

// Factory builds a backend.
type Factory func(opts Options) (Segmenter, error)

// Backends maps backend identifiers to factories.
var Backends = map[string]Factory{
	DictName:    newDictBackend,
	BigramName:  newBigramBackend,
	UnicodeName: newUnicodeBackend,
}

// Names returns the registered backend identifiers, sorted.
func Names() []string {
	return slices.Sorted(maps.Keys(Backends))
}

// New builds the backend registered under id, wrapped in a memo when
// opts.MemoSize is positive.
func New(id string, opts Options) (Segmenter, error) {
	factory, ok := Backends[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %v)", internalerr.ErrUnknownBackend, id, Names())
	}
	seg, err := factory(opts)
	if err != nil {
		return nil, fmt.Errorf("segment backend %s: %w", id, err)
	}
	if opts.MemoSize <= 0 {
		return seg, nil
	}
	memo, err := Memoize(seg, opts.MemoSize)
	if err != nil {
		return nil, err
	}
	return memo, nil
}

// Identity names the word set a segmenter produces: its name, plus its
// fingerprint when it has one.
func Identity(seg Segmenter) string {
	if f, ok := seg.(Fingerprinter); ok {
		if fp := f.Fingerprint(); fp != "" {
			return seg.Name() + ":" + fp
		}
	}
	return seg.Name()
}

// Words segments every sentence and returns the distinct words, sorted.
// Empty tokens are dropped.
func Words(ctx context.Context, seg Segmenter, sentences []string) ([]string, error) {
	set := make(map[string]struct{}, len(sentences))
	for i, s := range sentences {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		for _, w := range seg.Segment(s) {
			if w != "" {
				set[w] = struct{}{}
			}
		}
	}
	return slices.Sorted(maps.Keys(set)), nil
}
