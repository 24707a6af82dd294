package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/cognicore/zhcorpus/pkg/zhcorpus/config"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/corpus"
	"github.com/cognicore/zhcorpus/pkg/zhcorpus/stats"
)

// Artifact file names.
const (
	TargetFilesFile    = "target-files.json"
	SearchSuffixesFile = "search-suffixes.json"
	SentencesFile      = "sentences.json"
	SentencesDebugFile = "sentences-debug.json"
	ValidFilesFile     = "valid-files.json"
	FailedFilesFile    = "failed-files.json"
	StatisticsFile     = "statistics.json"
)

// NoBackend names the word artifact written when segmentation is disabled.
const NoBackend = "none"

// WordsFile returns the word artifact name for a segmentation backend.
func WordsFile(backend string) string {
	return "words." + backend + ".json"
}

// stagePatterns lists the artifact files of each stage as glob patterns.
var stagePatterns = map[string][]string{
	config.StageTargetFiles: {TargetFilesFile, SearchSuffixesFile},
	config.StageSentences:   {SentencesFile, SentencesDebugFile, ValidFilesFile, FailedFilesFile},
	config.StageWords:       {WordsFile("*")},
	config.StageStatistics:  {StatisticsFile},
}

// Codec converts a stage payload to and from its artifact files.
type Codec[T any] interface {
	// Artifacts names every file of the stage. They are stored and loaded
	// as one group.
	Artifacts() []string
	Encode(v T) (map[string][]byte, error)
	Decode(files map[string][]byte) (T, error)
}

// marshal renders v as indented JSON without HTML escaping, with a trailing
// newline.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// schema is implemented by each artifact type; shape returns the plain value
// that is written as JSON.
type schema interface {
	shape() any
}

// FileList is an ordered list of paths.
type FileList []string

func (l FileList) shape() any {
	if l == nil {
		return []string{}
	}
	return []string(l)
}

// SentenceSet is the sorted deduplicated corpus.
type SentenceSet []string

func (s SentenceSet) shape() any { return sortedStrings(s) }

// WordSet is the sorted distinct words.
type WordSet []string

func (s WordSet) shape() any { return sortedStrings(s) }

func sortedStrings(s []string) []string {
	out := slices.Clone(s)
	if out == nil {
		out = []string{}
	}
	slices.Sort(out)
	return out
}

// ProvenanceList is the provenance table, stored as [sentence, path] pairs
// sorted by sentence.
type ProvenanceList []corpus.Record

func (p ProvenanceList) shape() any {
	records := slices.Clone([]corpus.Record(p))
	corpus.SortRecords(records)
	pairs := make([][2]string, len(records))
	for i, r := range records {
		pairs[i] = [2]string{r.Sentence, r.Path}
	}
	return pairs
}

// Statistics is the counter table, keyed by counter name.
type Statistics stats.Statistics

func (s Statistics) shape() any {
	if s == nil {
		return map[string]int64{}
	}
	return map[string]int64(s)
}

func (p *ProvenanceList) UnmarshalJSON(data []byte) error {
	var pairs [][]string
	if err := json.Unmarshal(data, &pairs); err != nil {
		return err
	}
	out := make(ProvenanceList, len(pairs))
	for i, pair := range pairs {
		if len(pair) != 2 {
			return fmt.Errorf("provenance entry %d: want [sentence, path], got %d elements", i, len(pair))
		}
		out[i] = corpus.Record{Sentence: pair[0], Path: pair[1]}
	}
	*p = out
	return nil
}

// decodeFile unmarshals one artifact, naming it in the error.
func decodeFile(files map[string][]byte, name string, v any) error {
	data, ok := files[name]
	if !ok {
		return fmt.Errorf("%s: missing", name)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func encodeFiles(items map[string]schema) (map[string][]byte, error) {
	files := make(map[string][]byte, len(items))
	for _, name := range slices.Sorted(maps.Keys(items)) {
		data, err := marshal(items[name].shape())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		files[name] = data
	}
	return files, nil
}

// TargetFiles is the payload of the target-files stage. Suffixes are
// written for reference and not read back.
type TargetFiles struct {
	Files    []string
	Suffixes []string
}

type targetFilesCodec struct{}

// TargetFilesCodec stores the scan result.
func TargetFilesCodec() Codec[TargetFiles] { return targetFilesCodec{} }

func (targetFilesCodec) Artifacts() []string {
	return []string{TargetFilesFile, SearchSuffixesFile}
}

func (targetFilesCodec) Encode(v TargetFiles) (map[string][]byte, error) {
	return encodeFiles(map[string]schema{
		TargetFilesFile:    FileList(v.Files),
		SearchSuffixesFile: FileList(v.Suffixes),
	})
}

func (targetFilesCodec) Decode(files map[string][]byte) (TargetFiles, error) {
	var list FileList
	if err := decodeFile(files, TargetFilesFile, &list); err != nil {
		return TargetFiles{}, err
	}
	return TargetFiles{Files: list}, nil
}

type sentencesCodec struct{}

// SentencesCodec stores the corpus, its provenance, the valid files and the
// failed files as one group.
func SentencesCodec() Codec[corpus.Snapshot] { return sentencesCodec{} }

func (sentencesCodec) Artifacts() []string {
	return []string{SentencesFile, SentencesDebugFile, ValidFilesFile, FailedFilesFile}
}

func (sentencesCodec) Encode(v corpus.Snapshot) (map[string][]byte, error) {
	return encodeFiles(map[string]schema{
		SentencesFile:      SentenceSet(v.Sentences),
		SentencesDebugFile: ProvenanceList(v.Provenance),
		ValidFilesFile:     FileList(v.ValidFiles),
		FailedFilesFile:    FileList(v.FailedFiles),
	})
}

func (sentencesCodec) Decode(files map[string][]byte) (corpus.Snapshot, error) {
	var (
		sentences SentenceSet
		prov      ProvenanceList
		valid     FileList
		failed    FileList
	)
	if err := decodeFile(files, SentencesFile, &sentences); err != nil {
		return corpus.Snapshot{}, err
	}
	if err := decodeFile(files, SentencesDebugFile, &prov); err != nil {
		return corpus.Snapshot{}, err
	}
	if err := decodeFile(files, ValidFilesFile, &valid); err != nil {
		return corpus.Snapshot{}, err
	}
	if err := decodeFile(files, FailedFilesFile, &failed); err != nil {
		return corpus.Snapshot{}, err
	}
	if len(prov) != len(sentences) {
		return corpus.Snapshot{}, fmt.Errorf("%s has %d records for %d sentences", SentencesDebugFile, len(prov), len(sentences))
	}
	return corpus.Snapshot{Sentences: sentences, Provenance: prov, ValidFiles: valid, FailedFiles: failed}, nil
}

type wordsCodec struct{ backend string }

// WordsCodec stores the word set of one backend.
func WordsCodec(backend string) Codec[[]string] { return wordsCodec{backend: backend} }

func (c wordsCodec) Artifacts() []string { return []string{WordsFile(c.backend)} }

func (c wordsCodec) Encode(v []string) (map[string][]byte, error) {
	return encodeFiles(map[string]schema{WordsFile(c.backend): WordSet(v)})
}

func (c wordsCodec) Decode(files map[string][]byte) ([]string, error) {
	var words WordSet
	if err := decodeFile(files, WordsFile(c.backend), &words); err != nil {
		return nil, err
	}
	return words, nil
}

// EncodeStatistics renders the counter table.
func EncodeStatistics(s stats.Statistics) (map[string][]byte, error) {
	return encodeFiles(map[string]schema{StatisticsFile: Statistics(s)})
}
