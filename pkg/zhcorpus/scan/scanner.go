package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cognicore/zhcorpus/pkg/zhcorpus/config"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/internalerr"
)

// Scanner walks a directory tree and yields the files accepted by its Filter.
type Scanner struct {
	filter         *Filter
	followSymlinks bool
	logger         *slog.Logger
}

// NewScanner creates a Scanner for a normalized scan configuration.
func NewScanner(cfg config.ScanConfig, logger *slog.Logger) (*Scanner, error) {
	filter, err := NewFilter(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		filter:         filter,
		followSymlinks: cfg.FollowSymlinks,
		logger:         logger,
	}, nil
}

// Filter returns the eligibility rules used by the scanner.
func (s *Scanner) Filter() *Filter {
	return s.filter
}

// frame is one directory on the traversal stack.
type frame struct {
	dir     string
	entries []fs.DirEntry
	next    int
}

// Scan returns a lazy sequence of eligible file paths below root, in
// depth-first preorder with directory entries in lexical order.
//
// Each pair carries either a path (nil error) or an error. A
// *internalerr.TraversalError is recoverable and iteration continues after
// it. A root error (wrapping internalerr.ErrRootPath) or a context error
// ends the sequence. Every call starts a fresh traversal.
func (s *Scanner) Scan(ctx context.Context, root string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		root, err := resolveRoot(root)
		if err != nil {
			yield("", err)
			return
		}

		w := walker{s: s, visited: make(map[string]struct{})}
		if !w.enter(root, yield) {
			return
		}

		for len(w.stack) > 0 {
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}

			top := w.stack[len(w.stack)-1]
			if top.next >= len(top.entries) {
				w.stack = w.stack[:len(w.stack)-1]
				continue
			}
			entry := top.entries[top.next]
			top.next++

			if !w.visit(filepath.Join(top.dir, entry.Name()), entry, yield) {
				return
			}
		}
	}
}

type walker struct {
	s       *Scanner
	stack   []*frame
	visited map[string]struct{}
}

// visit handles one directory entry. It returns false when the consumer
// stopped the iteration.
func (w *walker) visit(path string, entry fs.DirEntry, yield func(string, error) bool) bool {
	switch mode := entry.Type(); {
	case mode.IsDir():
		if !w.s.filter.Descend(path) {
			return true
		}
		return w.enter(path, yield)

	case mode&fs.ModeSymlink != 0:
		return w.visitLink(path, yield)

	case mode.IsRegular():
		if w.s.filter.ShouldCollect(path) {
			return yield(path, nil)
		}
		return true

	default:
		// Devices, sockets and pipes are never collected.
		return true
	}
}

func (w *walker) visitLink(path string, yield func(string, error) bool) bool {
	info, err := os.Stat(path)
	if err != nil {
		return yield("", &internalerr.TraversalError{Path: path, Err: err})
	}

	switch {
	case info.Mode().IsRegular():
		if w.s.filter.ShouldCollect(path) {
			return yield(path, nil)
		}
		return true

	case info.IsDir():
		if !w.s.followSymlinks {
			w.s.logger.Debug("skipping symlinked directory", "path", path)
			return true
		}
		if !w.s.filter.Descend(path) {
			return true
		}
		return w.enter(path, yield)
	}

	return true
}

// enter reads dir and pushes it on the stack. When symlinks are followed,
// directories are tracked by real path so a cycle is entered only once.
func (w *walker) enter(dir string, yield func(string, error) bool) bool {
	if w.s.followSymlinks {
		real, err := filepath.EvalSymlinks(dir)
		if err != nil {
			return yield("", &internalerr.TraversalError{Path: dir, Err: err})
		}
		if _, seen := w.visited[real]; seen {
			w.s.logger.Debug("skipping already visited directory", "path", dir, "real", real)
			return true
		}
		w.visited[real] = struct{}{}
	}

	// ReadDir returns the entries it could read along with the error.
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !yield("", &internalerr.TraversalError{Path: dir, Err: err}) {
			return false
		}
	}
	if len(entries) > 0 {
		w.stack = append(w.stack, &frame{dir: dir, entries: entries})
	}
	return true
}

func resolveRoot(root string) (string, error) {
	if root == "" {
		return "", fmt.Errorf("%w: empty", internalerr.ErrRootPath)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", internalerr.ErrRootPath, root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", internalerr.ErrRootPath, abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", internalerr.ErrRootPath, abs)
	}
	return abs, nil
}

// Files drains a scan. Recoverable traversal errors are returned separately;
// any other error aborts and is returned as err.
func (s *Scanner) Files(ctx context.Context, root string) (files []string, skipped []*internalerr.TraversalError, err error) {
	for path, err := range s.Scan(ctx, root) {
		if err != nil {
			var te *internalerr.TraversalError
			if errors.As(err, &te) {
				s.logger.Warn("traversal error", "path", te.Path, "error", te.Err)
				skipped = append(skipped, te)
				continue
			}
			return nil, skipped, err
		}
		files = append(files, path)
	}
	return files, skipped, nil
}
