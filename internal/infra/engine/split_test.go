package engine

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

// ─── Separator Mapping ──────────────────────────────────────────────────────

func TestMapSeparator(t *testing.T) {
	tests := []struct {
		sep, target, want string
	}{
		{". ", "zh-Hans", "。"},
		{"。", "en", ". "},
		{"!", "ja", "！"},
		{"！", "de", "! "},
		{"? ", "ko", "? "}, // not a separator form
		{"?", "ko", "？"},
		{"; ", "zh-Hant", "；"},
		{"：", "fr", ": "},
		{", ", "ja", "，"},
		{"，", "en", ", "},
		{"\n", "zh-Hans", "\n"},
		{" - ", "en", " - "},
		{"", "zh-Hans", ""},
		{". ", "", ". "},
	}
	for _, tt := range tests {
		if got := MapSeparator(tt.sep, tt.target); got != tt.want {
			t.Errorf("MapSeparator(%q, %q) = %q, want %q", tt.sep, tt.target, got, tt.want)
		}
	}
}

// ─── SplitLongText ──────────────────────────────────────────────────────────

func TestSplitLongText_FirstGoodEnoughSeparator(t *testing.T) {
	// "\n" already satisfies the limit; ". " would give shorter parts but
	// must not be considered.
	parts, sep := SplitLongText("abc. d\nefg. h", 10)
	if sep != "\n" {
		t.Fatalf("sep = %q, want newline", sep)
	}
	if !reflect.DeepEqual(parts, []string{"abc. d", "efg. h"}) {
		t.Errorf("parts = %q", parts)
	}
}

func TestSplitLongText_MinimizesLongestPart(t *testing.T) {
	// Nothing reaches the limit; "\n" gives the shortest longest part.
	parts, sep := SplitLongText("aa. bb. cc\ndddddddddd", 3)
	if sep != "\n" {
		t.Fatalf("sep = %q, want newline", sep)
	}
	if len(parts) != 2 {
		t.Errorf("parts = %q", parts)
	}
}

func TestSplitLongText_Punctuation(t *testing.T) {
	parts, sep := SplitLongText("first one. second one. third one", 10)
	if sep != ". " {
		t.Fatalf("sep = %q", sep)
	}
	want := []string{"first one", "second one", "third one"}
	if !reflect.DeepEqual(parts, want) {
		t.Errorf("parts = %q, want %q", parts, want)
	}
}

func TestSplitLongText_CJK(t *testing.T) {
	parts, sep := SplitLongText("今天天气很好。我们去公园吧。", 8)
	if sep != "。" {
		t.Fatalf("sep = %q", sep)
	}
	if len(parts) != 3 || parts[2] != "" {
		t.Errorf("parts = %q", parts)
	}
}

func TestSplitLongText_WordBoundaryFallback(t *testing.T) {
	parts, sep := SplitLongText("word1 word2 word3", 11)
	if sep != "" {
		t.Fatalf("sep = %q, want empty", sep)
	}
	want := []string{"word1 word2", " word3"}
	if !reflect.DeepEqual(parts, want) {
		t.Errorf("parts = %q, want %q", parts, want)
	}
}

func TestSplitLongText_Lossless(t *testing.T) {
	inputs := []string{
		"One sentence. Another sentence! A question? Yes; no: maybe, fine.",
		"line one\nline two\n\nline four",
		"句子一。句子二！句子三？最后，结束：好；",
		"averyveryverylongwordwithoutanyspacesatallbutmanyletters and then some",
		"  leading and trailing whitespace  ",
		"a - b - c - d",
	}
	for _, in := range inputs {
		for _, limit := range []int{3, 8, 20} {
			parts, sep := SplitLongText(in, limit)
			if got := strings.Join(parts, sep); got != in {
				t.Errorf("limit %d: Join(parts, %q) = %q, want %q", limit, sep, got, in)
			}
		}
	}
}

// ─── Chunking ───────────────────────────────────────────────────────────────

func TestChunkByWordBoundary_LongToken(t *testing.T) {
	chunks := ChunkByWordBoundary("hi abcdefghij yo", 4)
	if got := strings.Join(chunks, ""); got != "hi abcdefghij yo" {
		t.Errorf("chunks do not reconstruct input: %q", chunks)
	}
	for _, c := range chunks {
		if utf8.RuneCountInString(c) > 4 {
			t.Errorf("chunk %q exceeds limit", c)
		}
	}
}

func TestChunkByLength(t *testing.T) {
	if got := ChunkByLength("abcdefgh", 3); !reflect.DeepEqual(got, []string{"abc", "def", "gh"}) {
		t.Errorf("ChunkByLength(ascii) = %q", got)
	}
	if got := ChunkByLength("日本語テキスト", 2); !reflect.DeepEqual(got, []string{"日本", "語テ", "キス", "ト"}) {
		t.Errorf("ChunkByLength(cjk) = %q", got)
	}
	if got := ChunkByLength("abc", 0); !reflect.DeepEqual(got, []string{"abc"}) {
		t.Errorf("ChunkByLength(size 0) = %q", got)
	}
}

func TestSplitKeepSpace(t *testing.T) {
	got := splitKeepSpace(" a  bc\td ")
	want := []string{" ", "a", "  ", "bc", "\t", "d", " "}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitKeepSpace() = %q, want %q", got, want)
	}
}
