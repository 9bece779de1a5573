package ingest

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer 分词器接口.
// Decode 必须是 Encode 的精确逆运算：Decode(Encode(s)) == s，
// 且对任意切分点 k，Decode(t[:k]) + Decode(t[k:]) == s.
// 分块的覆盖性与字节偏移计算都依赖这一点.
type Tokenizer interface {
	CountTokens(text string) int
	Encode(text string) []int
	Decode(tokens []int) string
}

// ====== tiktoken 分词器 ======

// TiktokenTokenizer 基于 tiktoken 的分词器（索引与查询共用同一编码）.
type TiktokenTokenizer struct {
	encoding string
	enc      *tiktoken.Tiktoken
}

// NewTiktokenTokenizer 创建 tiktoken 分词器.
// 编码固定为部署级配置，不随请求变化，保证索引与查询词表一致.
func NewTiktokenTokenizer(encoding string) (*TiktokenTokenizer, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("init tiktoken encoding %s: %w", encoding, err)
	}
	return &TiktokenTokenizer{encoding: encoding, enc: enc}, nil
}

func (t *TiktokenTokenizer) CountTokens(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

func (t *TiktokenTokenizer) Encode(text string) []int {
	return t.enc.Encode(text, nil, nil)
}

func (t *TiktokenTokenizer) Decode(tokens []int) string {
	return t.enc.Decode(tokens)
}

// Name 返回分词器名称.
func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}

// ====== 启发式分词器 ======

// HeuristicTokenizer 启发式分词器，tiktoken 编码数据不可用时的回退.
// 按 4 个 rune 一组切分并在进程内词表中驻留，Encode/Decode 精确可逆.
type HeuristicTokenizer struct {
	mu      sync.RWMutex
	vocab   map[string]int
	reverse []string
}

// NewHeuristicTokenizer 创建启发式分词器.
func NewHeuristicTokenizer() *HeuristicTokenizer {
	return &HeuristicTokenizer{vocab: make(map[string]int)}
}

const heuristicGroupRunes = 4

func (t *HeuristicTokenizer) CountTokens(text string) int {
	runes := []rune(text)
	return (len(runes) + heuristicGroupRunes - 1) / heuristicGroupRunes
}

func (t *HeuristicTokenizer) Encode(text string) []int {
	runes := []rune(text)
	tokens := make([]int, 0, t.CountTokens(text))

	t.mu.Lock()
	defer t.mu.Unlock()

	for i := 0; i < len(runes); i += heuristicGroupRunes {
		end := i + heuristicGroupRunes
		if end > len(runes) {
			end = len(runes)
		}
		piece := string(runes[i:end])

		id, ok := t.vocab[piece]
		if !ok {
			id = len(t.reverse)
			t.vocab[piece] = id
			t.reverse = append(t.reverse, piece)
		}
		tokens = append(tokens, id)
	}

	return tokens
}

func (t *HeuristicTokenizer) Decode(tokens []int) string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := ""
	for _, id := range tokens {
		if id >= 0 && id < len(t.reverse) {
			out += t.reverse[id]
		}
	}
	return out
}

// NewDefaultTokenizer 返回 tiktoken 分词器，失败时回退到启发式实现.
func NewDefaultTokenizer(encoding string) Tokenizer {
	if tk, err := NewTiktokenTokenizer(encoding); err == nil {
		return tk
	}
	return NewHeuristicTokenizer()
}
