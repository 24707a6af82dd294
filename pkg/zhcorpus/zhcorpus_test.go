package zhcorpus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/cognicore/zhcorpus/pkg/zhcorpus/cache"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/cache/memstore"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/config"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/corpus"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/decode"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/extract"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/internalerr"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/stats"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFile(t *testing.T, root, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func testConfig(t *testing.T, root string, mutate func(*config.Config)) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Scan:    config.ScanConfig{Root: root, Suffixes: []string{".json", ".lua"}},
		Decode:  config.DecodeConfig{Encodings: []string{"utf-8", "gbk"}, OnError: config.OnErrorSkip},
		Segment: config.SegmentConfig{Backend: "dict"},
		Cache: config.CacheConfig{
			Dir:       filepath.Join(t.TempDir(), "cache"),
			Validate:  config.ValidateConfig,
			OnCorrupt: config.OnCorruptFail,
		},
		Workers: 4,
	}
	if mutate != nil {
		mutate(cfg)
	}
	if err := config.Prepare(cfg); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	return cfg
}

// newPipeline builds a pipeline over an in-memory manifest.
func newPipeline(t *testing.T, cfg *config.Config, opts Options) *Pipeline {
	t.Helper()
	c, err := cache.New(cache.Options{
		Dir:       cfg.Cache.Dir,
		Manifest:  memstore.New(),
		Validate:  cfg.Cache.Validate,
		OnCorrupt: cfg.Cache.OnCorrupt,
		Refresh:   cfg.Cache.Refresh,
		Disable:   cfg.Cache.Disable,
		Logger:    quietLogger(),
	})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	opts.Config = cfg
	opts.Cache = c
	opts.Logger = quietLogger()
	p, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

// exampleTree holds a.json with "你好世界" and b.lua with "-- 你好".
func exampleTree(t *testing.T) (root, a, b string) {
	t.Helper()
	root = t.TempDir()
	a = writeFile(t, root, "a.json", []byte(`"你好世界"`+"\n"))
	b = writeFile(t, root, "b.lua", []byte("-- 你好\n"))
	writeFile(t, root, "notes.txt", []byte("忽略这里\n"))
	return root, a, b
}

func TestRunExampleTree(t *testing.T) {
	root, a, b := exampleTree(t)
	p := newPipeline(t, testConfig(t, root, nil), Options{})

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if want := []string{a, b}; !reflect.DeepEqual(res.TargetFiles, want) {
		t.Errorf("TargetFiles = %v, want %v", res.TargetFiles, want)
	}
	if want := []string{"你好", "你好世界"}; !reflect.DeepEqual(res.Sentences, want) {
		t.Errorf("Sentences = %v, want %v", res.Sentences, want)
	}
	wantProv := []corpus.Record{{Sentence: "你好", Path: b}, {Sentence: "你好世界", Path: a}}
	if !reflect.DeepEqual(res.Provenance, wantProv) {
		t.Errorf("Provenance = %v, want %v", res.Provenance, wantProv)
	}
	if want := []string{a, b}; !reflect.DeepEqual(res.ValidFiles, want) {
		t.Errorf("ValidFiles = %v, want %v", res.ValidFiles, want)
	}
	if !reflect.DeepEqual(res.Words, res.Sentences) {
		t.Errorf("without segmentation Words = %v, want the sentences", res.Words)
	}

	want := stats.Statistics{
		stats.SentenceCount:     2,
		stats.SentenceChars:     6,
		stats.WordCount:         2,
		stats.WordChars:         6,
		stats.SearchedFileCount: 2,
		stats.ValidFileCount:    2,
		stats.FailedFileCount:   0,
	}
	if !reflect.DeepEqual(res.Stats, want) {
		t.Errorf("Stats = %v, want %v", res.Stats, want)
	}

	for _, stage := range config.MemoizedStages() {
		if res.Outcomes[stage] != cache.OutcomeComputed {
			t.Errorf("first run: %s outcome = %q", stage, res.Outcomes[stage])
		}
	}
	if res.RunID == "" {
		t.Error("run id should be set")
	}
}

func TestRunStatisticsConsistency(t *testing.T) {
	root := t.TempDir()
	for i := range 12 {
		writeFile(t, root, fmt.Sprintf("d%d/f%02d.lua", i%3, i), []byte(fmt.Sprintf("-- 第%d行\nlocal s = \"共同\"\n", i)))
	}
	writeFile(t, root, "empty.json", []byte("{}\n"))

	res, err := newPipeline(t, testConfig(t, root, nil), Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := res.Stats[stats.SentenceCount]; got != int64(len(res.Sentences)) {
		t.Errorf("sentence-count = %d, corpus has %d", got, len(res.Sentences))
	}
	if got := res.Stats[stats.WordCount]; got != int64(len(res.Words)) {
		t.Errorf("word-count = %d, word set has %d", got, len(res.Words))
	}
	valid, searched := res.Stats[stats.ValidFileCount], res.Stats[stats.SearchedFileCount]
	if valid != int64(len(res.ValidFiles)) || valid > searched {
		t.Errorf("valid-file-count = %d, searched = %d, valid files = %d", valid, searched, len(res.ValidFiles))
	}
	if searched != 13 || valid != 12 {
		t.Errorf("the empty file is searched but not valid: searched=%d valid=%d", searched, valid)
	}
	if !slices.IsSorted(res.Sentences) {
		t.Error("sentences must be sorted")
	}
	if len(slices.Compact(slices.Clone(res.Sentences))) != len(res.Sentences) {
		t.Error("sentences must be unique")
	}
}

// slowDecoder delays the files named in slow so later files finish first.
type slowDecoder struct {
	slow map[string]time.Duration
}

func (d slowDecoder) Decode(path string) (string, string, error) {
	time.Sleep(d.slow[filepath.Base(path)])
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	return string(data), "utf-8", nil
}

func TestRunProvenanceFollowsDiscoveryOrder(t *testing.T) {
	root := t.TempDir()
	var paths []string
	for i := range 40 {
		paths = append(paths, writeFile(t, root, fmt.Sprintf("f%02d.json", i), []byte("共享 独有"+string(rune(0x4e64+i))+"\n")))
	}
	dec := slowDecoder{slow: map[string]time.Duration{"f00.json": 50 * time.Millisecond, "f01.json": 20 * time.Millisecond}}

	cfg := testConfig(t, root, func(c *config.Config) { c.Workers = 8 })
	res, err := newPipeline(t, cfg, Options{Decoder: dec}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !reflect.DeepEqual(res.ValidFiles, paths) {
		t.Errorf("valid files must keep discovery order, got %v", res.ValidFiles)
	}
	for _, rec := range res.Provenance {
		if rec.Sentence == "共享" && rec.Path != paths[0] {
			t.Errorf("共享 provenance = %s, want the first discovered file %s", rec.Path, paths[0])
		}
	}
	if len(res.Sentences) != 41 {
		t.Errorf("got %d sentences, want 41", len(res.Sentences))
	}
}

var artifactFiles = []string{
	cache.TargetFilesFile,
	cache.SearchSuffixesFile,
	cache.SentencesFile,
	cache.SentencesDebugFile,
	cache.ValidFilesFile,
	cache.FailedFilesFile,
	cache.WordsFile(cache.NoBackend),
	cache.StatisticsFile,
}

func readArtifacts(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	out := make(map[string][]byte, len(artifactFiles))
	for _, name := range artifactFiles {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("artifact %s: %v", name, err)
		}
		out[name] = data
	}
	return out
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	root, _, _ := exampleTree(t)
	cfg := testConfig(t, root, nil)

	p, err := Open(ctx, cfg, quietLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	first, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	before := readArtifacts(t, cfg.Cache.Dir)

	// A new process sees the same manifest database.
	p, err = Open(ctx, cfg, quietLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p.Close()
	second, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	for _, stage := range config.MemoizedStages() {
		if second.Outcomes[stage] != cache.OutcomeLoaded {
			t.Errorf("second run: %s outcome = %q, want loaded", stage, second.Outcomes[stage])
		}
	}
	if !reflect.DeepEqual(first.Stats, second.Stats) {
		t.Errorf("stats differ: %v vs %v", first.Stats, second.Stats)
	}
	if first.RunID == second.RunID {
		t.Error("each run needs its own id")
	}

	after := readArtifacts(t, cfg.Cache.Dir)
	for _, name := range artifactFiles {
		if string(before[name]) != string(after[name]) {
			t.Errorf("%s changed on the second run", name)
		}
	}
}

func TestRunCacheInsideRootIsNotScanned(t *testing.T) {
	ctx := context.Background()
	root, a, b := exampleTree(t)
	cfg := testConfig(t, root, func(c *config.Config) {
		c.Cache.Dir = filepath.Join(root, ".zhcorpus-cache")
		c.Cache.Validate = config.ValidateTree
	})

	p, err := Open(ctx, cfg, quietLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer p.Close()

	first, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	before := readArtifacts(t, cfg.Cache.Dir)

	// Tree validation rescans, with the artifacts now on disk under the root.
	second, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	for _, res := range []*Result{first, second} {
		if want := []string{a, b}; !reflect.DeepEqual(res.TargetFiles, want) {
			t.Errorf("TargetFiles = %v, want %v", res.TargetFiles, want)
		}
		for _, rec := range res.Provenance {
			if strings.HasPrefix(rec.Path, cfg.Cache.Dir) {
				t.Errorf("sentence %q attributed to cache artifact %s", rec.Sentence, rec.Path)
			}
		}
	}
	if !reflect.DeepEqual(first.Stats, second.Stats) {
		t.Errorf("stats differ: %v vs %v", first.Stats, second.Stats)
	}
	if second.Outcomes[config.StageSentences] != cache.OutcomeLoaded {
		t.Errorf("second run: sentences outcome = %q, want loaded", second.Outcomes[config.StageSentences])
	}

	after := readArtifacts(t, cfg.Cache.Dir)
	for _, name := range artifactFiles {
		if string(before[name]) != string(after[name]) {
			t.Errorf("%s changed on the second run", name)
		}
	}
}

func TestRunReportsMemoReuse(t *testing.T) {
	root, _, _ := exampleTree(t)
	cfg := testConfig(t, root, func(c *config.Config) {
		c.Cache.Refresh = []string{config.StageSentences}
	})
	dec, err := decode.New(cfg.Decode.Encodings, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	memo, err := extract.NewMemo(dec, extract.MemoConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer memo.Close()
	p := newPipeline(t, cfg, Options{Memo: memo})

	first, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if first.MemoHits != 0 || first.MemoMisses != 2 {
		t.Errorf("first run memo = %d hits, %d misses; want 0, 2", first.MemoHits, first.MemoMisses)
	}

	second, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if second.MemoHits != 2 || second.MemoMisses != 0 {
		t.Errorf("second run memo = %d hits, %d misses; want 2, 0", second.MemoHits, second.MemoMisses)
	}
	if !reflect.DeepEqual(first.Sentences, second.Sentences) {
		t.Errorf("memoized run changed the corpus: %v vs %v", first.Sentences, second.Sentences)
	}
}

func TestRunWordsEqualSentencesWithoutSegmentation(t *testing.T) {
	root, _, _ := exampleTree(t)
	cfg := testConfig(t, root, nil)
	if _, err := newPipeline(t, cfg, Options{}).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	files := readArtifacts(t, cfg.Cache.Dir)
	if string(files[cache.WordsFile(cache.NoBackend)]) != string(files[cache.SentencesFile]) {
		t.Errorf("words.none.json = %s, sentences.json = %s", files[cache.WordsFile(cache.NoBackend)], files[cache.SentencesFile])
	}
}

func TestRunWithSegmentation(t *testing.T) {
	root, _, _ := exampleTree(t)
	cfg := testConfig(t, root, func(c *config.Config) {
		c.Segment.Enabled = true
		c.Segment.Backend = "unicode"
	})

	res, err := newPipeline(t, cfg, Options{}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if want := []string{"世", "你", "好", "界"}; !reflect.DeepEqual(res.Words, want) {
		t.Errorf("Words = %v, want %v", res.Words, want)
	}
	if res.Stats[stats.WordCount] != 4 || res.Stats[stats.WordChars] != 4 {
		t.Errorf("word counters = %v", res.Stats)
	}
	if _, err := os.Stat(filepath.Join(cfg.Cache.Dir, cache.WordsFile("unicode"))); err != nil {
		t.Errorf("backend word artifact missing: %v", err)
	}
}

func TestRunSwitchingBackendRecomputesWords(t *testing.T) {
	ctx := context.Background()
	root, _, _ := exampleTree(t)
	cfg := testConfig(t, root, func(c *config.Config) {
		c.Segment.Enabled = true
		c.Segment.Backend = "unicode"
	})
	p := newPipeline(t, cfg, Options{})
	if _, err := p.Run(ctx); err != nil {
		t.Fatal(err)
	}

	bigram := *cfg
	bigram.Segment.Backend = "bigram"
	p2, err := New(Options{Config: &bigram, Cache: p.Cache(), Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	res, err := p2.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.Outcomes[config.StageSentences] != cache.OutcomeLoaded {
		t.Errorf("sentences should be reused, got %q", res.Outcomes[config.StageSentences])
	}
	if res.Outcomes[config.StageWords] != cache.OutcomeComputed {
		t.Errorf("words must be recomputed for a new backend, got %q", res.Outcomes[config.StageWords])
	}
	if !slices.Contains(res.Words, "世界") {
		t.Errorf("bigram words = %v", res.Words)
	}
}

func TestRunSkipsUndecodableFiles(t *testing.T) {
	ctx := context.Background()
	root, a, b := exampleTree(t)
	bad := writeFile(t, root, "bad.lua", []byte{0xff, 0xff, 0xff})
	cfg := testConfig(t, root, nil)
	p := newPipeline(t, cfg, Options{})

	res, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.Failures) != 1 || res.Failures[0].Path != bad {
		t.Fatalf("Failures = %v", res.Failures)
	}
	if !errors.Is(res.Failures[0].Err, internalerr.ErrDecodeExhausted) {
		t.Errorf("failure should be DecodeExhausted: %v", res.Failures[0].Err)
	}
	if !reflect.DeepEqual(res.FailedFiles, []string{bad}) {
		t.Errorf("FailedFiles = %v", res.FailedFiles)
	}
	if !reflect.DeepEqual(res.ValidFiles, []string{a, b}) {
		t.Errorf("ValidFiles = %v", res.ValidFiles)
	}
	if res.Stats[stats.FailedFileCount] != 1 || res.Stats[stats.SearchedFileCount] != 3 {
		t.Errorf("stats = %v", res.Stats)
	}

	again, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(again.Failures) != 0 {
		t.Errorf("a loaded stage reports no fresh failures, got %v", again.Failures)
	}
	if !reflect.DeepEqual(again.Stats, res.Stats) {
		t.Errorf("stats must survive a cache load: %v vs %v", again.Stats, res.Stats)
	}
}

func TestRunAbortsOnDecodeFailure(t *testing.T) {
	root, _, _ := exampleTree(t)
	bad := writeFile(t, root, "bad.lua", []byte{0xff, 0xff, 0xff})
	writeFile(t, root, "c.lua", []byte{0xfe, 0xfe, 0xfe})
	cfg := testConfig(t, root, func(c *config.Config) { c.Decode.OnError = config.OnErrorAbort })

	_, err := newPipeline(t, cfg, Options{}).Run(context.Background())
	if err == nil {
		t.Fatal("expected the run to abort")
	}
	if !errors.Is(err, internalerr.ErrDecodeExhausted) {
		t.Errorf("error should wrap ErrDecodeExhausted: %v", err)
	}
	if !strings.Contains(err.Error(), bad) {
		t.Errorf("error should name the first failing file %s: %v", bad, err)
	}
	if _, statErr := os.Stat(filepath.Join(cfg.Cache.Dir, cache.SentencesFile)); !os.IsNotExist(statErr) {
		t.Error("an aborted sentences stage must not be persisted")
	}
	if _, statErr := os.Stat(filepath.Join(cfg.Cache.Dir, cache.TargetFilesFile)); statErr != nil {
		t.Errorf("the completed scan stage should be persisted: %v", statErr)
	}
}

func TestRunTreeValidationSeesEdits(t *testing.T) {
	ctx := context.Background()
	root, _, b := exampleTree(t)

	edit := func() {
		writeFile(t, root, "b.lua", []byte("-- 再见朋友们\n"))
		later := time.Now().Add(time.Minute)
		if err := os.Chtimes(b, later, later); err != nil {
			t.Fatal(err)
		}
	}

	t.Run("config validation reuses the stale corpus", func(t *testing.T) {
		root, _, _ := exampleTree(t)
		p := newPipeline(t, testConfig(t, root, nil), Options{})
		if _, err := p.Run(ctx); err != nil {
			t.Fatal(err)
		}
		writeFile(t, root, "b.lua", []byte("-- 再见朋友们\n"))

		res, err := p.Run(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if res.Outcomes[config.StageSentences] != cache.OutcomeLoaded {
			t.Errorf("sentences outcome = %q, want loaded", res.Outcomes[config.StageSentences])
		}
	})

	cfg := testConfig(t, root, func(c *config.Config) { c.Cache.Validate = config.ValidateTree })
	p := newPipeline(t, cfg, Options{})
	if _, err := p.Run(ctx); err != nil {
		t.Fatal(err)
	}
	edit()

	res, err := p.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Outcomes[config.StageTargetFiles] != cache.OutcomeComputed {
		t.Errorf("tree validation always rescans, got %q", res.Outcomes[config.StageTargetFiles])
	}
	if res.Outcomes[config.StageSentences] != cache.OutcomeComputed {
		t.Errorf("an edited file must invalidate sentences, got %q", res.Outcomes[config.StageSentences])
	}
	if !slices.Contains(res.Sentences, "再见朋友们") || slices.Contains(res.Sentences, "你好") {
		t.Errorf("Sentences = %v", res.Sentences)
	}
}

func TestRunCancelled(t *testing.T) {
	root, _, _ := exampleTree(t)
	cfg := testConfig(t, root, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newPipeline(t, cfg, Options{}).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if _, statErr := os.Stat(filepath.Join(cfg.Cache.Dir, cache.TargetFilesFile)); !os.IsNotExist(statErr) {
		t.Error("nothing should be persisted by a cancelled run")
	}
}

func TestScanOnly(t *testing.T) {
	root, a, b := exampleTree(t)
	cfg := testConfig(t, root, nil)

	res, err := newPipeline(t, cfg, Options{}).Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !reflect.DeepEqual(res.TargetFiles, []string{a, b}) {
		t.Errorf("TargetFiles = %v", res.TargetFiles)
	}
	if _, statErr := os.Stat(filepath.Join(cfg.Cache.Dir, cache.SentencesFile)); !os.IsNotExist(statErr) {
		t.Error("scan must not run the sentences stage")
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Options{}); !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Errorf("missing config: %v", err)
	}
	cfg := testConfig(t, t.TempDir(), func(c *config.Config) {
		c.Segment.Enabled = true
		c.Segment.Backend = "nope"
	})
	c, err := cache.New(cache.Options{Dir: cfg.Cache.Dir, Manifest: memstore.New()})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(Options{Config: cfg, Cache: c}); !errors.Is(err, internalerr.ErrUnknownBackend) {
		t.Errorf("unknown backend: %v", err)
	}
}
