package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/zhcorpus/pkg/zhcorpus/internalerr"
)

// Memoized stage names, in pipeline order.
const (
	StageTargetFiles = "target-files"
	StageSentences   = "sentences"
	StageWords       = "words"
	StageStatistics  = "statistics"
)

// Cache validation modes.
const (
	ValidateNone   = "none"
	ValidateConfig = "config"
	ValidateTree   = "tree"
)

// Decode failure policies.
const (
	OnErrorSkip  = "skip"
	OnErrorAbort = "abort"
)

// Corrupt cache policies.
const (
	OnCorruptFail      = "fail"
	OnCorruptRecompute = "recompute"
)

// Config is the root configuration of an extraction run.
type Config struct {
	Scan    ScanConfig    `yaml:"scan"`
	Decode  DecodeConfig  `yaml:"decode"`
	Segment SegmentConfig `yaml:"segment"`
	Cache   CacheConfig   `yaml:"cache"`
	Workers int           `yaml:"workers" env:"ZHCORPUS_WORKERS" env-default:"0"`
	Log     LogConfig     `yaml:"log"`
}

// ScanConfig controls which files the traversal yields.
type ScanConfig struct {
	Root            string   `yaml:"root"             env:"ZHCORPUS_ROOT"`
	Suffixes        []string `yaml:"suffixes"         env:"ZHCORPUS_SUFFIXES"         env-default:".json,.lua,.go,.xls,.tab"`
	IgnoredDirs     []string `yaml:"ignored_dirs"     env:"ZHCORPUS_IGNORED_DIRS"     env-default:".svn,.git,.vs,3rdparty,3rd,AnimationFBX,.localhistory,go,ResourceCheckConfig,AssetPreloadData,LogicSceneConfig,MapGuide,LogicMap,StreamingAssetOptimizer,GameDesignerTools,测试用例,Tools,Test,tsssdk_server,Library,documents,UnityPlugin,ForBuild,PendantOffsetResource,SimpleAnimationData"`
	IgnoredFiles    []string `yaml:"ignored_files"    env:"ZHCORPUS_IGNORED_FILES"`
	ExcludePatterns []string `yaml:"exclude_patterns" env:"ZHCORPUS_EXCLUDE_PATTERNS"`
	FollowSymlinks  bool     `yaml:"follow_symlinks"  env:"ZHCORPUS_FOLLOW_SYMLINKS"`

	// PrunedDirs are absolute directories never entered, set by Normalize
	// to the cache directory when it lies inside the root.
	PrunedDirs []string `yaml:"-"`
}

// DecodeConfig lists candidate encodings in the order they are tried.
type DecodeConfig struct {
	Encodings []string `yaml:"encodings" env:"ZHCORPUS_ENCODINGS" env-default:"utf-8,gbk,utf-16,gb2312"`
	OnError   string   `yaml:"on_error"  env:"ZHCORPUS_ON_DECODE_ERROR" env-default:"skip"`
}

// SegmentConfig selects the word segmentation backend.
type SegmentConfig struct {
	Enabled  bool   `yaml:"enabled"   env:"ZHCORPUS_SEGMENT"`
	Backend  string `yaml:"backend"   env:"ZHCORPUS_SEGMENT_BACKEND"   env-default:"dict"`
	DictPath string `yaml:"dict_path" env:"ZHCORPUS_SEGMENT_DICT"`
	MemoSize int    `yaml:"memo_size" env:"ZHCORPUS_SEGMENT_MEMO_SIZE" env-default:"65536"`
}

// CacheConfig controls stage memoization.
// Refresh names stages whose persisted entries are ignored for this run.
type CacheConfig struct {
	Dir       string   `yaml:"dir"        env:"ZHCORPUS_CACHE_DIR"        env-default:".zhcorpus-cache"`
	Disable   bool     `yaml:"disable"    env:"ZHCORPUS_CACHE_DISABLE"`
	Refresh   []string `yaml:"refresh"    env:"ZHCORPUS_CACHE_REFRESH"`
	Validate  string   `yaml:"validate"   env:"ZHCORPUS_CACHE_VALIDATE"   env-default:"config"`
	OnCorrupt string   `yaml:"on_corrupt" env:"ZHCORPUS_CACHE_ON_CORRUPT" env-default:"fail"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"ZHCORPUS_LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"ZHCORPUS_LOG_FORMAT" env-default:"text"`
}

// Normalize puts the configuration into canonical form: absolute clean paths,
// dotted suffixes, sorted deduplicated sets. Encoding order is preserved.
func (c *Config) Normalize() error {
	if c.Scan.Root != "" {
		abs, err := filepath.Abs(c.Scan.Root)
		if err != nil {
			return fmt.Errorf("resolve root %s: %w", c.Scan.Root, err)
		}
		c.Scan.Root = abs
	}

	suffixes := make([]string, 0, len(c.Scan.Suffixes))
	for _, s := range c.Scan.Suffixes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.HasPrefix(s, ".") {
			s = "." + s
		}
		suffixes = append(suffixes, s)
	}
	c.Scan.Suffixes = sortedSet(suffixes)
	c.Scan.IgnoredDirs = sortedSet(trimAll(c.Scan.IgnoredDirs))
	c.Scan.ExcludePatterns = sortedSet(trimAll(c.Scan.ExcludePatterns))

	files := make([]string, 0, len(c.Scan.IgnoredFiles))
	for _, f := range trimAll(c.Scan.IgnoredFiles) {
		abs, err := filepath.Abs(f)
		if err != nil {
			return fmt.Errorf("resolve ignored file %s: %w", f, err)
		}
		files = append(files, abs)
	}
	c.Scan.IgnoredFiles = sortedSet(files)

	var encodings []string
	for _, e := range trimAll(c.Decode.Encodings) {
		e = strings.ToLower(e)
		if !slices.Contains(encodings, e) {
			encodings = append(encodings, e)
		}
	}
	c.Decode.Encodings = encodings
	c.Decode.OnError = strings.ToLower(strings.TrimSpace(c.Decode.OnError))

	c.Segment.Backend = strings.ToLower(strings.TrimSpace(c.Segment.Backend))

	refresh := trimAll(c.Cache.Refresh)
	for i := range refresh {
		refresh[i] = strings.ToLower(refresh[i])
	}
	c.Cache.Refresh = sortedSet(refresh)

	if c.Cache.Dir != "" {
		abs, err := filepath.Abs(c.Cache.Dir)
		if err != nil {
			return fmt.Errorf("resolve cache dir %s: %w", c.Cache.Dir, err)
		}
		c.Cache.Dir = abs
	}
	c.Scan.PrunedDirs = nil
	if c.Scan.Root != "" && c.Cache.Dir != "" && within(c.Scan.Root, c.Cache.Dir) {
		c.Scan.PrunedDirs = []string{c.Cache.Dir}
	}
	c.Cache.Validate = strings.ToLower(strings.TrimSpace(c.Cache.Validate))
	c.Cache.OnCorrupt = strings.ToLower(strings.TrimSpace(c.Cache.OnCorrupt))

	return nil
}

// Validate checks the configuration after Normalize.
func (c *Config) Validate() error {
	var problems []string

	if c.Scan.Root == "" {
		problems = append(problems, "scan.root is required")
	}
	if len(c.Scan.Suffixes) == 0 {
		problems = append(problems, "scan.suffixes must not be empty")
	}
	if len(c.Decode.Encodings) == 0 {
		problems = append(problems, "decode.encodings must not be empty")
	}
	if c.Decode.OnError != OnErrorSkip && c.Decode.OnError != OnErrorAbort {
		problems = append(problems, fmt.Sprintf("decode.on_error %q must be %q or %q", c.Decode.OnError, OnErrorSkip, OnErrorAbort))
	}
	if c.Segment.Enabled && c.Segment.Backend == "" {
		problems = append(problems, "segment.backend is required when segmentation is enabled")
	}
	if c.Segment.MemoSize < 0 {
		problems = append(problems, "segment.memo_size must be >= 0")
	}
	if c.Cache.Dir == "" {
		problems = append(problems, "cache.dir is required")
	}
	switch c.Cache.Validate {
	case ValidateNone, ValidateConfig, ValidateTree:
	default:
		problems = append(problems, fmt.Sprintf("cache.validate %q must be one of none, config, tree", c.Cache.Validate))
	}
	if c.Cache.OnCorrupt != OnCorruptFail && c.Cache.OnCorrupt != OnCorruptRecompute {
		problems = append(problems, fmt.Sprintf("cache.on_corrupt %q must be %q or %q", c.Cache.OnCorrupt, OnCorruptFail, OnCorruptRecompute))
	}
	for _, s := range c.Cache.Refresh {
		if !slices.Contains(MemoizedStages(), s) {
			problems = append(problems, fmt.Sprintf("cache.refresh: unknown stage %q", s))
		}
	}
	if c.Workers < 0 {
		problems = append(problems, "workers must be >= 0")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", internalerr.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// MemoizedStages returns the stages that can be loaded from cache.
func MemoizedStages() []string {
	return []string{StageTargetFiles, StageSentences, StageWords}
}

// YAML renders the configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Fingerprint identifies everything that decides which files are found.
func (s ScanConfig) Fingerprint() (string, error) {
	return fingerprint(s)
}

// Fingerprint identifies everything that decides how a file is decoded.
// OnError is left out: it never changes a successfully computed result.
func (d DecodeConfig) Fingerprint() (string, error) {
	return fingerprint(struct {
		Encodings []string `yaml:"encodings"`
	}{d.Encodings})
}

func fingerprint(v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// within reports whether path lies strictly below dir. Both are absolute.
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." || rel == ".." {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func sortedSet(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
