package engine

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tutu-network/mtran/internal/domain"
)

// ─── Long Text Splitting ────────────────────────────────────────────────────
// The backend has a hard sentence-length ceiling. Text above the configured
// limit is split on the separator that gives the shortest longest part, and
// parts that are still too long are split again by the caller.

// splitSeparators are tried in priority order.
var splitSeparators = []string{
	"\n", " - ", ". ", "。", "！", "!", "？", "?",
	"; ", "；", "：", ": ", "，", ", ",
}

type mappedSeparator struct {
	cjk   string
	latin string
}

// separatorForms maps each punctuation separator onto the form inserted
// when rejoining, chosen by the target language's script.
var separatorForms = map[string]mappedSeparator{
	". ": {"。", ". "},
	"。":  {"。", ". "},
	"！":  {"！", "! "},
	"!":  {"！", "! "},
	"？":  {"？", "? "},
	"?":  {"？", "? "},
	"; ": {"；", "; "},
	"；":  {"；", "; "},
	"：":  {"：", ": "},
	": ": {"：", ": "},
	"，":  {"，", ", "},
	", ": {"，", ", "},
}

// MapSeparator returns the separator to insert between translated parts for
// the target language. Newline, " - " and "" are returned unchanged.
func MapSeparator(sep, targetLang string) string {
	if targetLang == "" {
		return sep
	}
	forms, ok := separatorForms[sep]
	if !ok {
		return sep
	}
	if domain.IsCJK(targetLang) {
		return forms.cjk
	}
	return forms.latin
}

// SplitLongText performs one level of splitting. strings.Join(parts, sep)
// always reproduces text. When no separator applies the text is chunked at
// word boundaries and sep is empty. Lengths are counted in code points.
func SplitLongText(text string, maxLen int) (parts []string, sep string) {
	minMaxLen := utf8.RuneCountInString(text)
	for _, candidate := range splitSeparators {
		split := strings.Split(text, candidate)
		if len(split) < 2 {
			continue
		}
		longest := 0
		for _, p := range split {
			if n := utf8.RuneCountInString(p); n > longest {
				longest = n
			}
		}
		if longest < minMaxLen {
			minMaxLen = longest
			sep = candidate
			parts = split
		}
		if longest <= maxLen {
			break
		}
	}

	if len(parts) <= 1 {
		return ChunkByWordBoundary(text, maxLen), ""
	}
	return parts, sep
}

// ChunkByWordBoundary packs whitespace-delimited tokens, whitespace runs
// included, into chunks of at most limit code points. A single token longer
// than limit is hard-split with ChunkByLength.
func ChunkByWordBoundary(text string, limit int) []string {
	var (
		chunks  []string
		current strings.Builder
		curLen  int
	)
	flush := func() {
		if curLen > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			curLen = 0
		}
	}

	for _, tok := range splitKeepSpace(text) {
		n := utf8.RuneCountInString(tok)
		if curLen+n <= limit {
			current.WriteString(tok)
			curLen += n
			continue
		}
		flush()
		if n > limit {
			chunks = append(chunks, ChunkByLength(tok, limit)...)
			continue
		}
		current.WriteString(tok)
		curLen = n
	}
	flush()
	return chunks
}

// ChunkByLength splits text into pieces of size code points.
func ChunkByLength(text string, size int) []string {
	if size <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	chunks := make([]string, 0, len(runes)/size+1)
	for i := 0; i < len(runes); i += size {
		end := min(i+size, len(runes))
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

// splitKeepSpace returns alternating runs of whitespace and non-whitespace.
func splitKeepSpace(text string) []string {
	var tokens []string
	start := 0
	inSpace := false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if i > start && space != inSpace {
			tokens = append(tokens, text[start:i])
			start = i
		}
		inSpace = space
	}
	if start < len(text) {
		tokens = append(tokens, text[start:])
	}
	return tokens
}
