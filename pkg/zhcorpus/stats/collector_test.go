package stats

import "testing"

func TestCollectExampleTree(t *testing.T) {
	sentences := []string{"你好", "你好世界"}
	got := Collect(Input{
		TargetFiles: []string{"/t/a.json", "/t/b.lua"},
		ValidFiles:  []string{"/t/a.json", "/t/b.lua"},
		Sentences:   sentences,
		Words:       sentences,
	})

	want := Statistics{
		SentenceCount:     2,
		SentenceChars:     6,
		WordCount:         2,
		WordChars:         6,
		SearchedFileCount: 2,
		ValidFileCount:    2,
		FailedFileCount:   0,
	}
	for _, name := range Counters {
		if got[name] != want[name] {
			t.Errorf("%s = %d, want %d", name, got[name], want[name])
		}
	}
	if len(got) != len(Counters) {
		t.Errorf("got %d counters, want %d", len(got), len(Counters))
	}
}

func TestCollectConsistency(t *testing.T) {
	in := Input{
		TargetFiles: []string{"a", "b", "c"},
		ValidFiles:  []string{"a"},
		Sentences:   []string{"中文", "测试"},
		Words:       []string{"中", "文", "测试"},
		FailedFiles: 1,
	}
	s := Collect(in)

	if s[SentenceCount] != int64(len(in.Sentences)) {
		t.Error("sentence-count must equal the corpus size")
	}
	if s[WordCount] != int64(len(in.Words)) {
		t.Error("word-count must equal the word set size")
	}
	if s[ValidFileCount] > s[SearchedFileCount] {
		t.Error("valid files cannot exceed searched files")
	}
	if s[WordChars] != 4 {
		t.Errorf("word-chars = %d, want 4", s[WordChars])
	}
	if s[FailedFileCount] != 1 {
		t.Errorf("failed-file-count = %d, want 1", s[FailedFileCount])
	}
}

func TestCollectEmpty(t *testing.T) {
	s := Collect(Input{})
	for _, name := range Counters {
		if v, ok := s[name]; !ok || v != 0 {
			t.Errorf("%s = %d (present=%v), want 0", name, v, ok)
		}
	}
}
