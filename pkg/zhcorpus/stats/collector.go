// Package stats derives the counter table reported at the end of a run.
package stats

import "unicode/utf8"

// Counter names.
const (
	SentenceCount     = "sentence-count"
	SentenceChars     = "sentence-chars"
	WordCount         = "word-count"
	WordChars         = "word-chars"
	SearchedFileCount = "searched-file-count"
	ValidFileCount    = "valid-file-count"
	FailedFileCount   = "failed-file-count"
)

// Counters lists every counter in report order.
var Counters = []string{
	SentenceCount,
	SentenceChars,
	WordCount,
	WordChars,
	SearchedFileCount,
	ValidFileCount,
	FailedFileCount,
}

// Statistics maps counter names to values.
type Statistics map[string]int64

// Input is everything the counters are derived from.
type Input struct {
	TargetFiles []string
	ValidFiles  []string
	Sentences   []string
	Words       []string
	FailedFiles int
}

// Collect computes the counters. Character counts are in runes.
func Collect(in Input) Statistics {
	return Statistics{
		SentenceCount:     int64(len(in.Sentences)),
		SentenceChars:     runeTotal(in.Sentences),
		WordCount:         int64(len(in.Words)),
		WordChars:         runeTotal(in.Words),
		SearchedFileCount: int64(len(in.TargetFiles)),
		ValidFileCount:    int64(len(in.ValidFiles)),
		FailedFileCount:   int64(in.FailedFiles),
	}
}

func runeTotal(items []string) int64 {
	var n int64
	for _, s := range items {
		n += int64(utf8.RuneCountInString(s))
	}
	return n
}
