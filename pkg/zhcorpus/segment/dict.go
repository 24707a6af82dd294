package segment

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"
)

// DictName is the identifier of the dictionary backend.
const DictName = "dict"

// Entry is one dictionary word.
type Entry struct {
	Word string
	Freq int
	Tag  string
}

// Dict segments by forward maximum matching: at each position the longest
// dictionary word wins, and a character starting no known word becomes a
// word of its own.
type Dict struct {
	words       map[string]Entry
	maxLen      int
	fingerprint string
}

// NewDict builds a dictionary segmenter. Later duplicates replace earlier ones.
func NewDict(entries []Entry) *Dict {
	words := make(map[string]Entry, len(entries))
	maxLen := 1
	for _, e := range entries {
		w := strings.TrimSpace(e.Word)
		if w == "" {
			continue
		}
		e.Word = w
		words[w] = e
		if l := utf8.RuneCountInString(w); l > maxLen {
			maxLen = l
		}
	}
	return &Dict{words: words, maxLen: maxLen, fingerprint: digestWords(words)}
}

func (d *Dict) Name() string { return DictName }

// Fingerprint is a digest of the word list. Frequencies and tags do not
// affect matching and are left out.
func (d *Dict) Fingerprint() string { return d.fingerprint }

// Len returns the number of dictionary words.
func (d *Dict) Len() int { return len(d.words) }

// Contains reports whether w is a dictionary word.
func (d *Dict) Contains(w string) bool {
	_, ok := d.words[w]
	return ok
}

// Segment applies greedy longest match over the sentence's characters.
func (d *Dict) Segment(sentence string) []string {
	runes := []rune(sentence)
	var result []string
	i := 0

	for i < len(runes) {
		matchLen := 1

		// Try matching from longest word to shortest (two characters)
		maxWord := min(d.maxLen, len(runes)-i)
		for n := maxWord; n >= 2; n-- {
			if _, ok := d.words[string(runes[i:i+n])]; ok {
				matchLen = n
				break
			}
		}

		result = append(result, string(runes[i:i+matchLen]))
		i += matchLen
	}

	return result
}

func digestWords(words map[string]Entry) string {
	keys := make([]string, 0, len(words))
	for w := range words {
		keys = append(keys, w)
	}
	slices.Sort(keys)

	h := sha256.New()
	for _, w := range keys {
		h.Write([]byte(w))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func newDictBackend(opts Options) (Segmenter, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DictPath == "" {
		logger.Debug("using built-in dictionary", "words", len(builtins))
		return NewDict(builtinEntries()), nil
	}

	entries, err := LoadDict(opts.DictPath)
	if err != nil {
		return nil, err
	}
	logger.Info("loaded dictionary", "path", opts.DictPath, "words", len(entries))
	return NewDict(entries), nil
}

// builtins seed the dictionary when no user dictionary is given.
var builtins = []string{
	"的", "了", "和", "是", "在", "我", "有", "个", "这个", "那个",
	"我们", "你们", "他们", "什么", "没有", "可以", "不能", "已经", "需要", "当前",
	"中心", "广场", "大厦", "商店", "公司", "学院", "医院", "银行",
	"北京", "上海", "广州", "深圳", "成都", "重庆", "天津", "南京", "武汉", "西安", "杭州",
	"你好", "世界", "中国", "中文", "时间", "开始", "结束", "成功", "失败", "错误",
	"玩家", "角色", "任务", "奖励", "道具", "装备", "技能", "等级", "经验", "金币",
	"副本", "活动", "商城", "背包", "好友", "公会", "队伍", "战斗", "攻击", "防御",
	"生命", "伤害", "属性", "升级", "领取", "购买", "确定", "取消", "提示", "请",
}

func builtinEntries() []Entry {
	entries := make([]Entry, len(builtins))
	for i, w := range builtins {
		entries[i] = Entry{Word: w, Freq: defaultFreq}
	}
	return entries
}

// defaultFreq is assigned to words listed without a frequency.
const defaultFreq = 1000
