// Package zhcorpus extracts a deduplicated corpus of Chinese sentences from
// a source tree, optionally segments it into words, and memoizes every stage
// in a cache directory.
package zhcorpus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"time"

	"github.com/cognicore/zhcorpus/pkg/zhcorpus/cache"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/config"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/corpus"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/decode"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/extract"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/internalerr"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/scan"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/segment"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/stats"
)

// Extractor decodes one file and extracts its sentences. It must be safe for
// concurrent use.
type Extractor interface {
	File(path string) (extract.FileResult, error)
}

// Options configures a Pipeline. Config must already be prepared with
// config.Prepare. Decoder and Segmenter are built from Config when nil;
// Memo, when set, replaces Decoder as the extractor.
type Options struct {
	Config    *config.Config
	Logger    *slog.Logger
	Cache     *cache.Cache
	Decoder   extract.Decoder
	Segmenter segment.Segmenter
	Memo      *extract.Memo
}

// Pipeline runs the extraction stages.
type Pipeline struct {
	cfg       *config.Config
	logger    *slog.Logger
	cache     *cache.Cache
	scanner   *scan.Scanner
	extractor Extractor
	memo      *extract.Memo
	seg       segment.Segmenter
	ids       *runIDs
	closers   []func() error
}

// Failure is a file that could not be decoded.
type Failure struct {
	Path string
	Err  error
}

// Result is the outcome of one run.
type Result struct {
	RunID       string
	TargetFiles []string
	Sentences   []string
	Provenance  []corpus.Record
	ValidFiles  []string
	FailedFiles []string
	Words       []string
	Stats       stats.Statistics
	// Failures holds the decode failures observed by this run. It is empty
	// when the sentences stage was loaded from cache; FailedFiles is not.
	Failures []Failure
	Skipped  []*internalerr.TraversalError
	Outcomes map[string]cache.Outcome
	// MemoHits and MemoMisses count files this run took from, or added to,
	// the extraction memo. Both are zero without a memo.
	MemoHits   int64
	MemoMisses int64
}

// New creates a Pipeline with the given dependencies.
func New(opts Options) (*Pipeline, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("%w: config is required", internalerr.ErrInvalidConfig)
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("%w: cache is required", internalerr.ErrInvalidConfig)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := opts.Config

	scanner, err := scan.NewScanner(cfg.Scan, logger)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:     cfg,
		logger:  logger,
		cache:   opts.Cache,
		scanner: scanner,
		seg:     opts.Segmenter,
		ids:     newRunIDs(),
	}

	switch {
	case opts.Memo != nil:
		p.extractor = opts.Memo
		p.memo = opts.Memo
	default:
		dec := opts.Decoder
		if dec == nil {
			d, err := decode.New(cfg.Decode.Encodings, logger)
			if err != nil {
				return nil, err
			}
			dec = d
		}
		p.extractor = decoderExtractor{dec: dec}
	}

	if cfg.Segment.Enabled && p.seg == nil {
		seg, err := segment.New(cfg.Segment.Backend, segment.Options{
			DictPath: cfg.Segment.DictPath,
			MemoSize: cfg.Segment.MemoSize,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		p.seg = seg
	}

	return p, nil
}

// Close releases resources owned by the pipeline.
func (p *Pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		errs = append(errs, p.closers[i]())
	}
	p.closers = nil
	return errors.Join(errs...)
}

// Config returns the configuration the pipeline runs with.
func (p *Pipeline) Config() *config.Config { return p.cfg }

// Cache returns the stage cache.
func (p *Pipeline) Cache() *cache.Cache { return p.cache }

// Scanner returns the tree scanner.
func (p *Pipeline) Scanner() *scan.Scanner { return p.scanner }

// Run executes every stage. A decode failure aborts the run only under the
// abort policy; the returned error then names the file.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := p.newResult()
	logger := p.logger.With("run_id", res.RunID)
	c := p.cache.WithRunID(res.RunID)

	if err := p.targetFiles(ctx, c, res); err != nil {
		return nil, err
	}
	snap, err := p.sentences(ctx, c, logger, res)
	if err != nil {
		return nil, err
	}
	if err := p.words(ctx, c, snap, res); err != nil {
		return nil, err
	}

	res.Stats = stats.Collect(stats.Input{
		TargetFiles: res.TargetFiles,
		ValidFiles:  res.ValidFiles,
		Sentences:   res.Sentences,
		Words:       res.Words,
		FailedFiles: len(res.FailedFiles),
	})
	files, err := cache.EncodeStatistics(res.Stats)
	if err != nil {
		return nil, fmt.Errorf("encode statistics: %w", err)
	}
	if err := c.WriteOnly(ctx, config.StageStatistics, files); err != nil {
		return nil, fmt.Errorf("write statistics: %w", err)
	}

	logger.Info("run finished",
		"target_files", len(res.TargetFiles),
		"valid_files", len(res.ValidFiles),
		"failed_files", len(res.FailedFiles),
		"sentences", len(res.Sentences),
		"words", len(res.Words),
		"memo_hits", res.MemoHits,
		"memo_misses", res.MemoMisses,
		"duration", time.Since(start))
	return res, nil
}

// Scan executes only the target-files stage.
func (p *Pipeline) Scan(ctx context.Context) (*Result, error) {
	res := p.newResult()
	if err := p.targetFiles(ctx, p.cache.WithRunID(res.RunID), res); err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Pipeline) newResult() *Result {
	return &Result{
		RunID:    p.ids.next(),
		Outcomes: make(map[string]cache.Outcome, 3),
	}
}

func (p *Pipeline) targetFiles(ctx context.Context, c *cache.Cache, res *Result) error {
	key, err := p.cfg.Scan.Fingerprint()
	if err != nil {
		return err
	}

	tf, outcome, err := cache.Memoize(ctx, c, cache.Stage{Name: config.StageTargetFiles, Key: key}, cache.TargetFilesCodec(),
		func(ctx context.Context) (cache.TargetFiles, error) {
			files, skipped, err := p.scanner.Files(ctx, p.cfg.Scan.Root)
			if err != nil {
				return cache.TargetFiles{}, err
			}
			res.Skipped = skipped
			return cache.TargetFiles{Files: files, Suffixes: p.cfg.Scan.Suffixes}, nil
		})
	if err != nil {
		return fmt.Errorf("stage %s: %w", config.StageTargetFiles, err)
	}

	res.TargetFiles = tf.Files
	res.Outcomes[config.StageTargetFiles] = outcome
	return nil
}

// sentencesKey covers the scan result, the decode settings and, under tree
// validation, the size and mtime of every target file.
func (p *Pipeline) sentencesKey(c *cache.Cache, files []string) (string, error) {
	upstream, err := cache.DigestOf(cache.TargetFilesCodec(), cache.TargetFiles{Files: files, Suffixes: p.cfg.Scan.Suffixes})
	if err != nil {
		return "", err
	}
	decodeFP, err := p.cfg.Decode.Fingerprint()
	if err != nil {
		return "", err
	}
	parts := []string{upstream, decodeFP}
	if c.ValidateMode() == config.ValidateTree {
		parts = append(parts, cache.TreeSignature(files))
	}
	return cache.Key(parts...), nil
}

func (p *Pipeline) sentences(ctx context.Context, c *cache.Cache, logger *slog.Logger, res *Result) (corpus.Snapshot, error) {
	key, err := p.sentencesKey(c, res.TargetFiles)
	if err != nil {
		return corpus.Snapshot{}, err
	}

	snap, outcome, err := cache.Memoize(ctx, c, cache.Stage{Name: config.StageSentences, Key: key}, cache.SentencesCodec(),
		func(ctx context.Context) (corpus.Snapshot, error) {
			hits, misses := p.memoCounts()
			snap, failures, err := p.extractAll(ctx, logger, res.TargetFiles)
			res.Failures = failures
			if p.memo != nil {
				p.memo.Wait()
				h, m := p.memoCounts()
				res.MemoHits, res.MemoMisses = h-hits, m-misses
			}
			return snap, err
		})
	if err != nil {
		return corpus.Snapshot{}, fmt.Errorf("stage %s: %w", config.StageSentences, err)
	}

	res.Sentences = snap.Sentences
	res.Provenance = snap.Provenance
	res.ValidFiles = snap.ValidFiles
	res.FailedFiles = snap.FailedFiles
	res.Outcomes[config.StageSentences] = outcome
	return snap, nil
}

// words segments the corpus. Without segmentation the word set is the
// sentence set and is stored under the "none" backend.
func (p *Pipeline) words(ctx context.Context, c *cache.Cache, snap corpus.Snapshot, res *Result) error {
	upstream, err := cache.DigestOf(cache.SentencesCodec(), snap)
	if err != nil {
		return err
	}

	backend, identity := cache.NoBackend, cache.NoBackend
	compute := func(context.Context) ([]string, error) {
		return slices.Clone(snap.Sentences), nil
	}
	if p.cfg.Segment.Enabled && p.seg != nil {
		backend, identity = p.seg.Name(), segment.Identity(p.seg)
		compute = func(ctx context.Context) ([]string, error) {
			return segment.Words(ctx, p.seg, snap.Sentences)
		}
	}

	words, outcome, err := cache.Memoize(ctx, c, cache.Stage{Name: config.StageWords, Key: cache.Key(upstream, identity)},
		cache.WordsCodec(backend), compute)
	if err != nil {
		return fmt.Errorf("stage %s: %w", config.StageWords, err)
	}

	res.Words = words
	res.Outcomes[config.StageWords] = outcome
	return nil
}

func (p *Pipeline) memoCounts() (hits, misses int64) {
	if p.memo == nil {
		return 0, 0
	}
	return p.memo.Hits(), p.memo.Misses()
}

func (p *Pipeline) workers() int {
	if p.cfg.Workers > 0 {
		return p.cfg.Workers
	}
	return runtime.GOMAXPROCS(0)
}

type decoderExtractor struct {
	dec extract.Decoder
}

func (e decoderExtractor) File(path string) (extract.FileResult, error) {
	return extract.File(e.dec, path)
}
