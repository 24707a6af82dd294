package segment

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/zhcorpus/pkg/zhcorpus/internalerr"
)

// LoadDict reads a user dictionary. Files ending in .yaml or .yml hold a
// word list:
//
//	words:
//	  - 你好
//	  - word: 世界
//	    freq: 300
//	    tag: n
//
// Any other file is read as text, one "word [freq] [tag]" entry per line.
// Blank lines and lines starting with # are skipped.
func LoadDict(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dictionary %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return parseYAMLDict(path, data)
	default:
		return parseTextDict(path, data)
	}
}

func parseTextDict(path string, data []byte) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		e := Entry{Word: fields[0], Freq: defaultFreq}
		if len(fields) > 1 {
			freq, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, fmt.Errorf("%w: %s:%d: bad frequency %q", internalerr.ErrInvalidInput, path, lineNo, fields[1])
			}
			e.Freq = freq
		}
		if len(fields) > 2 {
			e.Tag = fields[2]
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dictionary %s: %w", path, err)
	}
	return entries, nil
}

// yamlEntry accepts either a bare word or a mapping.
type yamlEntry Entry

func (y *yamlEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		y.Word = node.Value
		y.Freq = defaultFreq
		return nil
	}
	var full struct {
		Word string `yaml:"word"`
		Freq int    `yaml:"freq"`
		Tag  string `yaml:"tag"`
	}
	if err := node.Decode(&full); err != nil {
		return err
	}
	y.Word, y.Freq, y.Tag = full.Word, full.Freq, full.Tag
	if y.Freq == 0 {
		y.Freq = defaultFreq
	}
	return nil
}

func parseYAMLDict(path string, data []byte) ([]Entry, error) {
	var doc struct {
		Words []yamlEntry `yaml:"words"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", internalerr.ErrInvalidInput, path, err)
	}

	entries := make([]Entry, 0, len(doc.Words))
	for _, w := range doc.Words {
		if strings.TrimSpace(w.Word) == "" {
			continue
		}
		entries = append(entries, Entry(w))
	}
	return entries, nil
}
