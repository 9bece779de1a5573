package index

import (
	"fmt"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"Hello, World!", []string{"hello", "world"}},
		{"error-handling in Go 1.24", []string{"error", "handling", "in", "go", "1", "24"}},
		{"", nil},
		{"   ", nil},
	}

	for _, tt := range tests {
		got := Tokenize(tt.input)
		if len(got) != len(tt.expected) {
			t.Errorf("Tokenize(%q) = %v, want %v", tt.input, got, tt.expected)
			continue
		}
		for i := range got {
			if got[i] != tt.expected[i] {
				t.Errorf("Tokenize(%q)[%d] = %q, want %q", tt.input, i, got[i], tt.expected[i])
			}
		}
	}
}

func TestLexicalIndexSearch(t *testing.T) {
	idx := NewLexicalIndex(DefaultBM25Config())
	idx.Insert("c1", "the quick brown fox jumps over the lazy dog")
	idx.Insert("c2", "a fast auburn fox leaps across the stream")
	idx.Insert("c3", "database connection pooling and retry strategies")

	hits := idx.Search("quick fox", 10)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ChunkID != "c1" {
		t.Errorf("expected c1 ranked first (matches both terms), got %s", hits[0].ChunkID)
	}
	if len(hits[0].MatchedTerms) != 2 {
		t.Errorf("expected c1 to match both terms, got %v", hits[0].MatchedTerms)
	}
	if len(hits[1].MatchedTerms) != 1 || hits[1].MatchedTerms[0] != "fox" {
		t.Errorf("expected c2 to match only fox, got %v", hits[1].MatchedTerms)
	}
}

func TestLexicalIndexScoreNormalized(t *testing.T) {
	idx := NewLexicalIndex(DefaultBM25Config())
	idx.Insert("c1", "retrieval retrieval retrieval retrieval")
	idx.Insert("c2", "something else entirely")

	hits := idx.Search("retrieval", 10)
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Score <= 0 || hits[0].Score >= 1 {
		t.Errorf("normalized score must be in (0,1), got %f", hits[0].Score)
	}
	if hits[0].RawScore <= hits[0].Score {
		t.Errorf("raw score %f should exceed saturated score %f", hits[0].RawScore, hits[0].Score)
	}
}

func TestLexicalIndexPhraseBoost(t *testing.T) {
	idx := NewLexicalIndex(DefaultBM25Config())
	idx.Insert("phrase", "understanding circuit breaker patterns in production")
	idx.Insert("scattered", "the breaker tripped when the circuit overloaded badly")

	hits := idx.Search("circuit breaker", 10)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ChunkID != "phrase" {
		t.Errorf("expected exact phrase match ranked first, got %s", hits[0].ChunkID)
	}
}

func TestLexicalIndexEmptyQuery(t *testing.T) {
	idx := NewLexicalIndex(DefaultBM25Config())
	idx.Insert("c1", "some content")

	if hits := idx.Search("", 10); len(hits) != 0 {
		t.Errorf("expected no hits for empty query, got %d", len(hits))
	}
	if hits := idx.Search("!!! ???", 10); len(hits) != 0 {
		t.Errorf("expected no hits for punctuation-only query, got %d", len(hits))
	}
}

func TestLexicalIndexEmptyIndex(t *testing.T) {
	idx := NewLexicalIndex(DefaultBM25Config())
	if hits := idx.Search("anything", 10); len(hits) != 0 {
		t.Errorf("expected no hits on empty index, got %d", len(hits))
	}
}

func TestLexicalIndexRemove(t *testing.T) {
	idx := NewLexicalIndex(DefaultBM25Config())
	idx.Insert("c1", "golang concurrency patterns")
	idx.Insert("c2", "golang error handling")

	idx.Remove("c1")
	if idx.Size() != 1 {
		t.Fatalf("expected size 1, got %d", idx.Size())
	}

	hits := idx.Search("golang", 10)
	if len(hits) != 1 || hits[0].ChunkID != "c2" {
		t.Errorf("expected only c2, got %v", hits)
	}

	// 幂等删除
	idx.Remove("c1")
	if idx.Size() != 1 {
		t.Errorf("double remove changed size: %d", idx.Size())
	}
}

func TestLexicalIndexTopK(t *testing.T) {
	idx := NewLexicalIndex(DefaultBM25Config())
	for i := 0; i < 20; i++ {
		idx.Insert(fmt.Sprintf("c%02d", i), fmt.Sprintf("shared term plus unique%d filler", i))
	}

	hits := idx.Search("shared", 5)
	if len(hits) != 5 {
		t.Errorf("expected top-5 truncation, got %d", len(hits))
	}
}

func TestLexicalIndexTieBreakByChunkID(t *testing.T) {
	idx := NewLexicalIndex(DefaultBM25Config())
	// 相同内容，分数相同，按 ChunkID 升序
	idx.Insert("zz", "identical content here")
	idx.Insert("aa", "identical content here")

	hits := idx.Search("identical content", 10)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ChunkID != "aa" || hits[1].ChunkID != "zz" {
		t.Errorf("expected tie broken by ascending chunk ID, got %s, %s", hits[0].ChunkID, hits[1].ChunkID)
	}
}
