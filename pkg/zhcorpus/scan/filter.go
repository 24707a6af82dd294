// Package scan discovers candidate files under a directory tree.
//
// A Filter decides which directories are entered and which files are
// collected; a Scanner walks the tree depth-first and yields the collected
// paths lazily.
package scan

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"

	"github.com/cognicore/zhcorpus/pkg/zhcorpus/config"
)

// ErrInvalidPattern indicates an exclude pattern could not be compiled.
var ErrInvalidPattern = errors.New("invalid glob pattern")

// Filter holds the eligibility rules of a scan. It has no mutable state and
// is safe for concurrent use.
type Filter struct {
	ignoredDirs  map[string]struct{}
	suffixes     map[string]struct{}
	ignoredFiles map[string]struct{}
	excludes     []glob.Glob
	pruned       []string
}

// NewFilter builds a Filter from a normalized scan configuration.
func NewFilter(cfg config.ScanConfig) (*Filter, error) {
	excludes, err := compileGlobs(cfg.ExcludePatterns)
	if err != nil {
		return nil, err
	}

	return &Filter{
		ignoredDirs:  toSet(cfg.IgnoredDirs),
		suffixes:     toSet(cfg.Suffixes),
		ignoredFiles: toSet(cfg.IgnoredFiles),
		excludes:     excludes,
		pruned:       cleanAll(cfg.PrunedDirs),
	}, nil
}

// ShouldDescend reports whether a directory with the given base name may be
// entered. Matching is exact and case-sensitive.
func (f *Filter) ShouldDescend(name string) bool {
	_, ignored := f.ignoredDirs[name]
	return !ignored
}

// Descend reports whether the directory at path may be entered: its name is
// not ignored, and it is neither excluded nor pruned.
func (f *Filter) Descend(path string) bool {
	return f.ShouldDescend(filepath.Base(path)) && !f.Excluded(path) && !f.Pruned(path)
}

// ShouldCollect reports whether the file at path belongs to the target set:
// its extension is a configured suffix, and the path is neither explicitly
// ignored, matched by an exclude pattern, nor inside a pruned directory.
func (f *Filter) ShouldCollect(path string) bool {
	if _, ok := f.suffixes[filepath.Ext(path)]; !ok {
		return false
	}
	if _, ignored := f.ignoredFiles[path]; ignored {
		return false
	}
	return !f.Excluded(path) && !f.Pruned(path)
}

// Pruned reports whether path is a pruned directory or lies below one.
func (f *Filter) Pruned(path string) bool {
	for _, dir := range f.pruned {
		if path == dir || strings.HasPrefix(path, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Excluded reports whether path matches any exclude pattern. Patterns are
// matched against the slash-separated absolute path.
func (f *Filter) Excluded(path string) bool {
	if len(f.excludes) == 0 {
		return false
	}
	p := filepath.ToSlash(path)
	for _, g := range f.excludes {
		if g.Match(p) {
			return true
		}
	}
	return false
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	matchers := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		matcher, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, errors.Join(ErrInvalidPattern, err)
		}
		matchers = append(matchers, matcher)
	}
	return matchers, nil
}

func cleanAll(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		out = append(out, filepath.Clean(p))
	}
	return out
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
