// Package corpus deduplicates extracted sentences and tracks where each one
// was first seen.
package corpus

import (
	"slices"
	"strings"
)

// Record ties a sentence to the first file that produced it.
type Record struct {
	Sentence string
	Path     string
}

// Builder accumulates per-file extraction results. It is owned by a single
// goroutine; callers must ingest files in discovery order for provenance to
// be deterministic.
type Builder struct {
	provenance map[string]string
	order      []string
	validFiles []string
	failed     []string
	seenFiles  map[string]struct{}
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		provenance: make(map[string]string),
		seenFiles:  make(map[string]struct{}),
	}
}

// Ingest adds the sentences of one file. New sentences are recorded with
// path as their provenance; known sentences keep the provenance they have.
// A file with at least one sentence is listed as valid once. Ingesting the
// same file twice changes nothing.
func (b *Builder) Ingest(path string, sentences []string) {
	if len(sentences) == 0 {
		return
	}
	if _, seen := b.seenFiles[path]; seen {
		return
	}
	b.seenFiles[path] = struct{}{}
	b.validFiles = append(b.validFiles, path)

	for _, s := range sentences {
		if _, known := b.provenance[s]; known {
			continue
		}
		b.provenance[s] = path
		b.order = append(b.order, s)
	}
}

// Reject records a file that could not be decoded. It contributes nothing
// to the corpus and is listed once among the failed files.
func (b *Builder) Reject(path string) {
	if _, seen := b.seenFiles[path]; seen {
		return
	}
	b.seenFiles[path] = struct{}{}
	b.failed = append(b.failed, path)
}

// Len returns the number of distinct sentences.
func (b *Builder) Len() int { return len(b.provenance) }

// Contains reports whether s is in the corpus.
func (b *Builder) Contains(s string) bool {
	_, ok := b.provenance[s]
	return ok
}

// ProvenanceOf returns the file that first produced s.
func (b *Builder) ProvenanceOf(s string) (string, bool) {
	path, ok := b.provenance[s]
	return path, ok
}

// Sentences returns the distinct sentences, sorted.
func (b *Builder) Sentences() []string {
	out := slices.Clone(b.order)
	slices.Sort(out)
	return out
}

// Provenance returns one record per sentence, sorted by sentence.
func (b *Builder) Provenance() []Record {
	out := make([]Record, 0, len(b.provenance))
	for s, path := range b.provenance {
		out = append(out, Record{Sentence: s, Path: path})
	}
	SortRecords(out)
	return out
}

// ValidFiles returns the files that produced at least one sentence, in
// ingest order.
func (b *Builder) ValidFiles() []string {
	return slices.Clone(b.validFiles)
}

// FailedFiles returns the rejected files in ingest order. The result is
// never nil.
func (b *Builder) FailedFiles() []string {
	out := make([]string, len(b.failed))
	copy(out, b.failed)
	return out
}

// Snapshot freezes the builder's state.
func (b *Builder) Snapshot() Snapshot {
	return Snapshot{
		Sentences:   b.Sentences(),
		Provenance:  b.Provenance(),
		ValidFiles:  b.ValidFiles(),
		FailedFiles: b.FailedFiles(),
	}
}

// Snapshot is the result of the sentence stage: the deduplicated corpus,
// its provenance table, the valid file list and the files that failed to
// decode.
type Snapshot struct {
	Sentences   []string
	Provenance  []Record
	ValidFiles  []string
	FailedFiles []string
}

// SortRecords orders records by sentence, then path.
func SortRecords(records []Record) {
	slices.SortFunc(records, func(a, b Record) int {
		if c := strings.Compare(a.Sentence, b.Sentence); c != 0 {
			return c
		}
		return strings.Compare(a.Path, b.Path)
	})
}
