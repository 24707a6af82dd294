// Package cache memoizes pipeline stages on disk.
//
// Each stage persists a group of JSON artifacts in the cache directory and
// records them in a Manifest. Depending on the validation mode, a persisted
// group is reused on trust, or only when its key and file digests match.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/cognicore/zhcorpus/pkg/zhcorpus/config"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/internalerr"
)

// Outcome tells how a stage result was obtained.
type Outcome string

const (
	OutcomeLoaded     Outcome = "loaded"
	OutcomeComputed   Outcome = "computed"
	OutcomeRecomputed Outcome = "recomputed"
)

// Options configures a Cache.
type Options struct {
	Dir       string
	Manifest  Manifest
	Validate  string
	OnCorrupt string
	Refresh   []string
	Disable   bool
	RunID     string
	Logger    *slog.Logger
	Now       func() time.Time
}

// Cache persists stage results in a directory.
type Cache struct {
	dir      string
	manifest Manifest
	validate string
	corrupt  string
	refresh  []string
	disable  bool
	runID    string
	logger   *slog.Logger
	now      func() time.Time
}

// Stage identifies one memoized computation. Key is ignored when the
// validation mode is none.
type Stage struct {
	Name string
	Key  string
}

// New creates the cache directory if needed.
func New(opts Options) (*Cache, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("%w: cache directory is required", internalerr.ErrInvalidConfig)
	}
	if opts.Manifest == nil {
		return nil, fmt.Errorf("%w: cache manifest is required", internalerr.ErrInvalidConfig)
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	if opts.Validate == "" {
		opts.Validate = config.ValidateConfig
	}
	if opts.OnCorrupt == "" {
		opts.OnCorrupt = config.OnCorruptFail
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{
		dir:      opts.Dir,
		manifest: opts.Manifest,
		validate: opts.Validate,
		corrupt:  opts.OnCorrupt,
		refresh:  opts.Refresh,
		disable:  opts.Disable,
		runID:    opts.RunID,
		logger:   opts.Logger,
		now:      opts.Now,
	}, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// ValidateMode returns the configured validation mode.
func (c *Cache) ValidateMode() string { return c.validate }

// WithRunID returns a shallow copy of c stamping rows with runID.
func (c *Cache) WithRunID(runID string) *Cache {
	cp := *c
	cp.runID = runID
	return &cp
}

// Refreshes reports whether the persisted entry of stage is ignored. Under
// tree validation the scan is always redone.
func (c *Cache) Refreshes(stage string) bool {
	if c.disable || slices.Contains(c.refresh, stage) {
		return true
	}
	return c.validate == config.ValidateTree && stage == config.StageTargetFiles
}

// Memoize returns the persisted result of st when it is usable, and
// otherwise runs compute and persists its result. A result computed under a
// cancelled context is never persisted.
func Memoize[T any](ctx context.Context, c *Cache, st Stage, codec Codec[T], compute func(context.Context) (T, error)) (T, Outcome, error) {
	var zero T
	start := time.Now()
	outcome := OutcomeComputed

	if !c.Refreshes(st.Name) {
		files, found, err := c.load(ctx, st, codec.Artifacts())
		if err == nil && found {
			v, derr := codec.Decode(files)
			if derr == nil {
				c.logger.Info("stage loaded", "stage", st.Name, "outcome", OutcomeLoaded, "duration", time.Since(start))
				return v, OutcomeLoaded, nil
			}
			err = &internalerr.CacheCorruptError{Stage: st.Name, Err: derr}
		}
		if err != nil {
			if !errors.Is(err, internalerr.ErrCacheCorrupt) || c.corrupt != config.OnCorruptRecompute {
				return zero, "", err
			}
			c.logger.Warn("recomputing corrupt stage", "stage", st.Name, "error", err)
			outcome = OutcomeRecomputed
		}
	}

	v, err := compute(ctx)
	if err != nil {
		return zero, "", err
	}
	if err := ctx.Err(); err != nil {
		return zero, "", err
	}

	files, err := codec.Encode(v)
	if err != nil {
		return zero, "", fmt.Errorf("encode stage %s: %w", st.Name, err)
	}
	if err := c.store(ctx, st, files); err != nil {
		return zero, "", err
	}

	c.logger.Info("stage computed", "stage", st.Name, "outcome", outcome, "duration", time.Since(start))
	return v, outcome, nil
}

// WriteOnly persists artifacts that are never read back, such as statistics.
func (c *Cache) WriteOnly(ctx context.Context, stage string, files map[string][]byte) error {
	return c.store(ctx, Stage{Name: stage}, files)
}

// load reads the artifact group of st. found is false when nothing usable
// was persisted; a group that exists but cannot be trusted is an error.
func (c *Cache) load(ctx context.Context, st Stage, artifacts []string) (map[string][]byte, bool, error) {
	if c.validate == config.ValidateNone {
		return c.loadOnExistence(st, artifacts)
	}

	entries, err := c.manifest.Entries(ctx, st.Name)
	if err != nil {
		return nil, false, fmt.Errorf("read manifest for %s: %w", st.Name, err)
	}
	if len(entries) == 0 {
		return nil, false, nil
	}

	byArtifact := make(map[string]Entry, len(entries))
	for _, e := range entries {
		byArtifact[e.Artifact] = e
	}

	// A stale key means the inputs changed; that is a miss, not corruption.
	for _, e := range entries {
		if e.Key != st.Key {
			c.logger.Debug("stage key changed", "stage", st.Name, "artifact", e.Artifact)
			return nil, false, nil
		}
	}

	files := make(map[string][]byte, len(artifacts))
	var missing []string
	for _, name := range artifacts {
		e, ok := byArtifact[name]
		if !ok {
			return nil, false, &internalerr.CacheCorruptError{Stage: st.Name, Artifact: name, Err: errors.New("missing from manifest")}
		}
		data, err := os.ReadFile(filepath.Join(c.dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			missing = append(missing, name)
			continue
		}
		if err != nil {
			return nil, false, &internalerr.CacheCorruptError{Stage: st.Name, Artifact: name, Err: err}
		}
		if got := Digest(data); got != e.Digest {
			return nil, false, &internalerr.CacheCorruptError{Stage: st.Name, Artifact: name, Err: fmt.Errorf("digest %s, manifest has %s", shortDigest(got), shortDigest(e.Digest))}
		}
		files[name] = data
	}

	// Deleting a stage's files is how a user forces it to be recomputed.
	switch {
	case len(missing) == len(artifacts):
		c.logger.Debug("stage artifacts removed", "stage", st.Name)
		return nil, false, nil
	case len(missing) > 0:
		return nil, false, &internalerr.CacheCorruptError{Stage: st.Name, Artifact: missing[0], Err: errors.New("partial artifact group")}
	}
	return files, true, nil
}

// loadOnExistence trusts any complete group of files.
func (c *Cache) loadOnExistence(st Stage, artifacts []string) (map[string][]byte, bool, error) {
	files := make(map[string][]byte, len(artifacts))
	var missing []string
	for _, name := range artifacts {
		data, err := os.ReadFile(filepath.Join(c.dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			missing = append(missing, name)
			continue
		}
		if err != nil {
			return nil, false, &internalerr.CacheCorruptError{Stage: st.Name, Artifact: name, Err: err}
		}
		files[name] = data
	}

	switch {
	case len(missing) == len(artifacts):
		return nil, false, nil
	case len(missing) > 0:
		return nil, false, &internalerr.CacheCorruptError{Stage: st.Name, Artifact: missing[0], Err: errors.New("partial artifact group")}
	}
	return files, true, nil
}

// store writes the group atomically: every file goes to a temp file first,
// the stage's manifest rows are dropped, the files are renamed into place
// and the new rows are committed together.
func (c *Cache) store(ctx context.Context, st Stage, files map[string][]byte) error {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	slices.Sort(names)

	now := c.now().UTC()
	entries := make([]Entry, len(names))
	for i, name := range names {
		entries[i] = Entry{
			Stage:     st.Name,
			Artifact:  name,
			Key:       st.Key,
			Digest:    Digest(files[name]),
			RunID:     c.runID,
			CreatedAt: now,
		}
	}

	if c.unchanged(ctx, st.Name, entries) {
		c.logger.Debug("stage artifacts unchanged", "stage", st.Name)
		return nil
	}

	temps := make(map[string]string, len(names))
	cleanup := func() {
		for _, tmp := range temps {
			_ = os.Remove(tmp)
		}
	}
	for _, name := range names {
		tmp, err := writeTemp(c.dir, name, files[name])
		if err != nil {
			cleanup()
			return fmt.Errorf("write %s: %w", name, err)
		}
		temps[name] = tmp
	}

	if err := c.manifest.Delete(ctx, st.Name); err != nil {
		cleanup()
		return fmt.Errorf("clear manifest for %s: %w", st.Name, err)
	}
	for _, name := range names {
		if err := os.Rename(temps[name], filepath.Join(c.dir, name)); err != nil {
			cleanup()
			return fmt.Errorf("rename %s: %w", name, err)
		}
		delete(temps, name)
	}
	if err := c.manifest.Replace(ctx, st.Name, entries); err != nil {
		return fmt.Errorf("record manifest for %s: %w", st.Name, err)
	}
	return nil
}

// unchanged reports whether the manifest already records exactly these
// artifacts with the same key and content, and the files are in place.
func (c *Cache) unchanged(ctx context.Context, stage string, entries []Entry) bool {
	current, err := c.manifest.Entries(ctx, stage)
	if err != nil || len(current) != len(entries) {
		return false
	}
	for i, e := range entries {
		cur := current[i]
		if cur.Artifact != e.Artifact || cur.Key != e.Key || cur.Digest != e.Digest {
			return false
		}
		data, err := os.ReadFile(filepath.Join(c.dir, e.Artifact))
		if err != nil || Digest(data) != e.Digest {
			return false
		}
	}
	return true
}

func writeTemp(dir, name string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return "", err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return tmp, nil
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

// Status returns every manifest row.
func (c *Cache) Status(ctx context.Context) ([]Entry, error) {
	return c.manifest.Entries(ctx, "")
}

// Clear removes the artifacts and manifest rows of the given stages, or of
// every stage when none is given.
func (c *Cache) Clear(ctx context.Context, stages ...string) error {
	if len(stages) == 0 {
		stages = append(config.MemoizedStages(), config.StageStatistics)
	}
	for _, stage := range stages {
		patterns, ok := stagePatterns[stage]
		if !ok {
			return fmt.Errorf("%w: unknown stage %q", internalerr.ErrInvalidInput, stage)
		}
		if err := c.manifest.Delete(ctx, stage); err != nil {
			return fmt.Errorf("clear manifest for %s: %w", stage, err)
		}
		for _, pattern := range patterns {
			matches, err := filepath.Glob(filepath.Join(c.dir, pattern))
			if err != nil {
				return err
			}
			for _, m := range matches {
				if err := os.Remove(m); err != nil && !errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("remove %s: %w", m, err)
				}
			}
		}
		c.logger.Info("stage cleared", "stage", stage)
	}
	return nil
}
