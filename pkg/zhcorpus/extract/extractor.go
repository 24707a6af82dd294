// Package extract finds runs of Chinese ideographs in decoded text.
package extract

import (
	"strings"
)

// Ideograph range covered by extraction: the CJK Unified Ideographs block
// as assigned in Unicode 4.0.
const (
	FirstIdeograph = '\u4e00' // 一
	LastIdeograph  = '\u9fa5' // 龥
)

// IsIdeograph reports whether r is in the extracted range.
func IsIdeograph(r rune) bool {
	return r >= FirstIdeograph && r <= LastIdeograph
}

// Sentences returns every maximal run of ideographs in text, in order of
// appearance. Runs never span a line break. Repeated runs are all returned.
func Sentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for line := range strings.Lines(text) {
		for _, r := range line {
			if IsIdeograph(r) {
				current.WriteRune(r)
				continue
			}
			if current.Len() > 0 {
				sentences = append(sentences, current.String())
				current.Reset()
			}
		}
		// Don't carry a run across the line break
		if current.Len() > 0 {
			sentences = append(sentences, current.String())
			current.Reset()
		}
	}

	return sentences
}

// Decoder is the part of decode.Decoder extraction needs.
type Decoder interface {
	Decode(path string) (text string, encoding string, err error)
}

// FileResult is the extraction result of one file.
type FileResult struct {
	Path      string
	Encoding  string
	Sentences []string
}

// File decodes path and extracts its sentences.
func File(dec Decoder, path string) (FileResult, error) {
	text, enc, err := dec.Decode(path)
	if err != nil {
		return FileResult{Path: path}, err
	}
	return FileResult{Path: path, Encoding: enc, Sentences: Sentences(text)}, nil
}
