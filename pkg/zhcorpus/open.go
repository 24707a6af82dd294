package zhcorpus

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cognicore/zhcorpus/pkg/zhcorpus/cache"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/cache/sqlite"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/config"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/decode"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/extract"
)

// OpenCache opens the cache described by cfg, with its manifest database
// inside the cache directory. Closing the returned manifest releases it.
func OpenCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*cache.Cache, cache.Manifest, error) {
	if err := os.MkdirAll(cfg.Cache.Dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create cache dir: %w", err)
	}
	manifest, err := sqlite.Open(ctx, filepath.Join(cfg.Cache.Dir, sqlite.FileName))
	if err != nil {
		return nil, nil, fmt.Errorf("open manifest: %w", err)
	}

	c, err := cache.New(cache.Options{
		Dir:       cfg.Cache.Dir,
		Manifest:  manifest,
		Validate:  cfg.Cache.Validate,
		OnCorrupt: cfg.Cache.OnCorrupt,
		Refresh:   cfg.Cache.Refresh,
		Disable:   cfg.Cache.Disable,
		Logger:    logger,
	})
	if err != nil {
		manifest.Close()
		return nil, nil, err
	}
	return c, manifest, nil
}

// Open builds a Pipeline and everything it depends on from cfg: the cache
// and its SQLite manifest, the decoder, a per-file extraction memo and the
// segmenter. Close releases them.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c, manifest, err := OpenCache(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	dec, err := decode.New(cfg.Decode.Encodings, logger)
	if err != nil {
		manifest.Close()
		return nil, err
	}
	memo, err := extract.NewMemo(dec, extract.MemoConfig{})
	if err != nil {
		manifest.Close()
		return nil, err
	}

	p, err := New(Options{
		Config: cfg,
		Logger: logger,
		Cache:  c,
		Memo:   memo,
	})
	if err != nil {
		memo.Close()
		manifest.Close()
		return nil, err
	}

	p.closers = append(p.closers, manifest.Close, func() error {
		memo.Close()
		return nil
	})
	return p, nil
}
