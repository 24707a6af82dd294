package internalerr

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common cases
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrRootPath        = errors.New("invalid root path")
	ErrDecodeExhausted = errors.New("no candidate encoding could decode file")
	ErrCacheCorrupt    = errors.New("cache entry corrupt")
	ErrTraversal       = errors.New("traversal failed")
	ErrUnknownBackend  = errors.New("unknown segmentation backend")
	ErrUnknownEncoding = errors.New("unknown encoding")
)

// Attempt records one candidate encoding tried on a file and why it failed.
type Attempt struct {
	Encoding string
	Err      error
}

// DecodeExhaustedError reports a file that none of the candidate encodings could read.
type DecodeExhaustedError struct {
	Path     string
	Attempts []Attempt
}

func (e *DecodeExhaustedError) Error() string {
	reasons := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		reasons = append(reasons, fmt.Sprintf("%s: %v", a.Encoding, a.Err))
	}
	return fmt.Sprintf("can't decode file %s (%s)", e.Path, strings.Join(reasons, "; "))
}

func (e *DecodeExhaustedError) Is(target error) bool {
	return target == ErrDecodeExhausted
}

// CacheCorruptError reports a persisted stage entry that exists but cannot be used.
// A missing entry is never reported with this type.
type CacheCorruptError struct {
	Stage    string
	Artifact string
	Err      error
}

func (e *CacheCorruptError) Error() string {
	if e.Artifact == "" {
		return fmt.Sprintf("cache stage %s corrupt: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("cache stage %s corrupt (%s): %v", e.Stage, e.Artifact, e.Err)
}

func (e *CacheCorruptError) Unwrap() error { return e.Err }

func (e *CacheCorruptError) Is(target error) bool {
	return target == ErrCacheCorrupt
}

// TraversalError reports a directory entry that could not be read during scanning.
// Scanning continues past it.
type TraversalError struct {
	Path string
	Err  error
}

func (e *TraversalError) Error() string {
	return fmt.Sprintf("traverse %s: %v", e.Path, e.Err)
}

func (e *TraversalError) Unwrap() error { return e.Err }

func (e *TraversalError) Is(target error) bool {
	return target == ErrTraversal
}
