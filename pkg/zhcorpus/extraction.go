package zhcorpus

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/cognicore/zhcorpus/pkg/zhcorpus/config"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/corpus"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/extract"
)

// extracted is the result of one file, tagged with its discovery index.
type extracted struct {
	idx  int
	path string
	res  extract.FileResult
	err  error
}

// extractAll decodes and extracts files on a bounded pool of workers.
// Results are ingested by a single goroutine in discovery order, so the
// first file in traversal order that produced a sentence is its provenance
// no matter which worker finishes first.
func (p *Pipeline) extractAll(ctx context.Context, logger *slog.Logger, files []string) (corpus.Snapshot, []Failure, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := p.workers()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	out := make(chan extracted, workers)
	seq := &sequencer{
		pending: make(map[int]extracted),
		builder: corpus.NewBuilder(),
		abort:   p.cfg.Decode.OnError == config.OnErrorAbort,
		logger:  logger,
	}
	ingested := make(chan error, 1)
	go func() {
		ingested <- seq.drain(out, cancel)
	}()

	logger.Debug("extracting", "files", len(files), "workers", workers)

dispatch:
	for i, path := range files {
		select {
		case <-gctx.Done():
			break dispatch
		default:
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := p.extractor.File(path)
			select {
			case out <- extracted{idx: i, path: path, res: res, err: err}:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}

	werr := g.Wait()
	close(out)
	if err := <-ingested; err != nil {
		return corpus.Snapshot{}, seq.failures, err
	}
	if werr != nil {
		return corpus.Snapshot{}, seq.failures, werr
	}
	if err := ctx.Err(); err != nil {
		return corpus.Snapshot{}, seq.failures, err
	}
	if seq.next != len(files) {
		return corpus.Snapshot{}, seq.failures, fmt.Errorf("extraction stopped after %d of %d files", seq.next, len(files))
	}

	return seq.builder.Snapshot(), seq.failures, nil
}

// sequencer buffers out-of-order results and replays them by index.
type sequencer struct {
	next     int
	pending  map[int]extracted
	builder  *corpus.Builder
	abort    bool
	failures []Failure
	logger   *slog.Logger
}

// drain consumes out until it is closed. After the first fatal failure it
// cancels the workers and keeps draining so none of them blocks.
func (s *sequencer) drain(out <-chan extracted, cancel context.CancelFunc) error {
	var fatal error
	for r := range out {
		if fatal != nil {
			continue
		}
		if err := s.push(r); err != nil {
			fatal = err
			cancel()
		}
	}
	return fatal
}

func (s *sequencer) push(r extracted) error {
	s.pending[r.idx] = r
	for {
		next, ok := s.pending[s.next]
		if !ok {
			return nil
		}
		delete(s.pending, s.next)
		s.next++
		if err := s.apply(next); err != nil {
			return err
		}
	}
}

func (s *sequencer) apply(r extracted) error {
	if r.err != nil {
		if s.abort {
			return fmt.Errorf("extract %s: %w", r.path, r.err)
		}
		s.logger.Warn("skipping undecodable file", "path", r.path, "error", r.err)
		s.failures = append(s.failures, Failure{Path: r.path, Err: r.err})
		s.builder.Reject(r.path)
		return nil
	}

	s.logger.Debug("file extracted", "path", r.path, "encoding", r.res.Encoding, "sentences", len(r.res.Sentences))
	s.builder.Ingest(r.path, r.res.Sentences)
	return nil
}
