package cache

import (
	"context"
	"time"
)

// Manifest records which artifacts each stage last persisted, under which
// key and with which content digest.
type Manifest interface {
	Close() error

	// Entries returns the rows of stage, or of every stage when stage is
	// empty, ordered by stage then artifact.
	Entries(ctx context.Context, stage string) ([]Entry, error)

	// Replace atomically swaps all rows of stage for entries.
	Replace(ctx context.Context, stage string, entries []Entry) error

	// Delete removes all rows of stage.
	Delete(ctx context.Context, stage string) error
}

// Entry is one persisted artifact.
type Entry struct {
	Stage     string
	Artifact  string
	Key       string
	Digest    string
	RunID     string
	CreatedAt time.Time
}
