package segment

import (
	"fmt"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/lang/cjk"
	bleveunicode "github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/registry"
)

// Backend identifiers of the bleve analysis backends.
const (
	BigramName  = "bigram"
	UnicodeName = "unicode"
)

// Analysis segments with a bleve analysis component.
type Analysis struct {
	name     string
	analyzer analysis.Analyzer
}

func (a *Analysis) Name() string { return a.name }

// Segment returns the terms of the token stream in order.
func (a *Analysis) Segment(sentence string) []string {
	tokens := a.analyzer.Analyze([]byte(sentence))
	words := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		words = append(words, string(tok.Term))
	}
	return words
}

// NewBigram returns a segmenter producing overlapping character bigrams
// with bleve's cjk analyzer. Isolated characters come out as unigrams.
func NewBigram() (*Analysis, error) {
	cache := registry.NewCache()
	analyzer, err := cache.AnalyzerNamed(cjk.AnalyzerName)
	if err != nil {
		return nil, fmt.Errorf("cjk analyzer: %w", err)
	}
	return &Analysis{name: BigramName, analyzer: analyzer}, nil
}

// NewUnicode returns a segmenter using bleve's UAX#29 word tokenizer, which
// emits one token per ideograph.
func NewUnicode() (*Analysis, error) {
	cache := registry.NewCache()
	tokenizer, err := cache.TokenizerNamed(bleveunicode.Name)
	if err != nil {
		return nil, fmt.Errorf("unicode tokenizer: %w", err)
	}
	return &Analysis{
		name:     UnicodeName,
		analyzer: &analysis.DefaultAnalyzer{Tokenizer: tokenizer},
	}, nil
}

func newBigramBackend(Options) (Segmenter, error) {
	a, err := NewBigram()
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newUnicodeBackend(Options) (Segmenter, error) {
	a, err := NewUnicode()
	if err != nil {
		return nil, err
	}
	return a, nil
}
