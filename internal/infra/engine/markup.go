package engine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/rivo/uniseg"
)

// ─── HTML Sanitizing ────────────────────────────────────────────────────────
// The backend reorders inline tags and aborts on markup it cannot balance.
// Anything that is not a well-formed, closed element is escaped first.

var (
	numericTagRe = regexp.MustCompile(`<(\d+\.\d+)[^>]*>`)
	oddTagRe     = regexp.MustCompile(`<([^a-zA-Z/!?][^>]*)>`)
	openTagRe    = regexp.MustCompile(`<([a-zA-Z]+)(?:\s[^>]*)?>`)
)

// SanitizeHTML escapes numeric-looking tags, tags that do not start with a
// letter, and opening tags that have no matching closing tag later in the
// text. Self-closing tags are left alone.
func SanitizeHTML(text string) string {
	text = numericTagRe.ReplaceAllString(text, "&lt;$1&gt;")
	text = oddTagRe.ReplaceAllString(text, "&lt;$1&gt;")

	matches := openTagRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		tag := text[start:end]
		name := text[m[2]:m[3]]

		b.WriteString(text[last:start])
		if strings.HasSuffix(tag, "/>") || strings.Contains(text[end:], "</"+name+">") {
			b.WriteString(tag)
		} else {
			b.WriteString(escapeAngles(tag))
		}
		last = end
	}
	b.WriteString(text[last:])
	return b.String()
}

func escapeAngles(s string) string {
	s = strings.ReplaceAll(s, "<", "&lt;")
	return strings.ReplaceAll(s, ">", "&gt;")
}

// ─── Placeholders ───────────────────────────────────────────────────────────
// Localization formats use {0} and [1] style tokens. They are wrapped in
// synthetic self-closing tags so the backend carries them through verbatim.

var (
	placeholderRe      = regexp.MustCompile(`\{\d+\}|\[\d+\]`)
	placeholderTagRe   = regexp.MustCompile(`(?i)<mt(\d+)\s*/?>`)
	placeholderCloseRe = regexp.MustCompile(`(?i)</mt\d+>`)
)

// TagPlaceholders replaces each numeric placeholder with <mtN />. forceHTML is
// true when placeholders were found and the caller did not ask for HTML.
func TagPlaceholders(text string, html bool) (tagged string, originals []string, forceHTML bool) {
	if !placeholderRe.MatchString(text) {
		return text, nil, false
	}
	tagged = placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		tag := fmt.Sprintf("<mt%d />", len(originals))
		originals = append(originals, match)
		return tag
	})
	return tagged, originals, !html
}

// RestorePlaceholders undoes TagPlaceholders. Stray closing tags the backend
// may have produced are dropped. A tag with an unknown index is kept as-is.
func RestorePlaceholders(text string, originals []string) string {
	if len(originals) == 0 {
		return text
	}
	text = placeholderCloseRe.ReplaceAllString(text, "")
	return placeholderTagRe.ReplaceAllStringFunc(text, func(match string) string {
		sub := placeholderTagRe.FindStringSubmatch(match)
		idx, err := strconv.Atoi(sub[1])
		if err != nil || idx >= len(originals) {
			return match
		}
		return originals[idx]
	})
}

// ─── Emoji ──────────────────────────────────────────────────────────────────

var emojiTokenRe = regexp.MustCompile(`(?i)\[EE(\d+)\]`)

// HideEmojis replaces every grapheme cluster that contains a pictographic
// rune or a regional-indicator flag with an [EEn] token.
func HideEmojis(text string) (clean string, originals []string) {
	if !hasPictographic(text) {
		return text, nil
	}

	var b strings.Builder
	b.Grow(len(text))
	state := -1
	rest := text
	for len(rest) > 0 {
		var cluster string
		cluster, rest, _, state = uniseg.FirstGraphemeClusterInString(rest, state)
		if isEmojiCluster(cluster) {
			fmt.Fprintf(&b, "[EE%d]", len(originals))
			originals = append(originals, cluster)
			continue
		}
		b.WriteString(cluster)
	}
	return b.String(), originals
}

// RestoreEmojis puts hidden emoji back. Token matching is case-insensitive.
func RestoreEmojis(text string, originals []string) string {
	if len(originals) == 0 {
		return text
	}
	return emojiTokenRe.ReplaceAllStringFunc(text, func(match string) string {
		sub := emojiTokenRe.FindStringSubmatch(match)
		idx, err := strconv.Atoi(sub[1])
		if err != nil || idx >= len(originals) {
			return match
		}
		return originals[idx]
	})
}

func hasPictographic(text string) bool {
	for _, r := range text {
		if unicode.Is(pictographic, r) || unicode.Is(regionalIndicator, r) {
			return true
		}
	}
	return false
}

func isEmojiCluster(cluster string) bool {
	ri := 0
	for _, r := range cluster {
		if unicode.Is(pictographic, r) {
			return true
		}
		if unicode.Is(regionalIndicator, r) {
			ri++
		}
	}
	return ri >= 2
}

var regionalIndicator = &unicode.RangeTable{
	R32: []unicode.Range32{{Lo: 0x1F1E6, Hi: 0x1F1FF, Stride: 1}},
}

// pictographic approximates Extended_Pictographic plus the emoji skin tone
// modifiers, which the unicode package does not expose.
var pictographic = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x00A9, Hi: 0x00A9, Stride: 1},
		{Lo: 0x00AE, Hi: 0x00AE, Stride: 1},
		{Lo: 0x203C, Hi: 0x203C, Stride: 1},
		{Lo: 0x2049, Hi: 0x2049, Stride: 1},
		{Lo: 0x2122, Hi: 0x2122, Stride: 1},
		{Lo: 0x2139, Hi: 0x2139, Stride: 1},
		{Lo: 0x2194, Hi: 0x2199, Stride: 1},
		{Lo: 0x21A9, Hi: 0x21AA, Stride: 1},
		{Lo: 0x231A, Hi: 0x231B, Stride: 1},
		{Lo: 0x2328, Hi: 0x2328, Stride: 1},
		{Lo: 0x2388, Hi: 0x2388, Stride: 1},
		{Lo: 0x23CF, Hi: 0x23CF, Stride: 1},
		{Lo: 0x23E9, Hi: 0x23F3, Stride: 1},
		{Lo: 0x23F8, Hi: 0x23FA, Stride: 1},
		{Lo: 0x24C2, Hi: 0x24C2, Stride: 1},
		{Lo: 0x25AA, Hi: 0x25AB, Stride: 1},
		{Lo: 0x25B6, Hi: 0x25B6, Stride: 1},
		{Lo: 0x25C0, Hi: 0x25C0, Stride: 1},
		{Lo: 0x25FB, Hi: 0x25FE, Stride: 1},
		{Lo: 0x2600, Hi: 0x27BF, Stride: 1},
		{Lo: 0x2934, Hi: 0x2935, Stride: 1},
		{Lo: 0x2B05, Hi: 0x2B07, Stride: 1},
		{Lo: 0x2B1B, Hi: 0x2B1C, Stride: 1},
		{Lo: 0x2B50, Hi: 0x2B50, Stride: 1},
		{Lo: 0x2B55, Hi: 0x2B55, Stride: 1},
		{Lo: 0x3030, Hi: 0x3030, Stride: 1},
		{Lo: 0x303D, Hi: 0x303D, Stride: 1},
		{Lo: 0x3297, Hi: 0x3297, Stride: 1},
		{Lo: 0x3299, Hi: 0x3299, Stride: 1},
	},
	R32: []unicode.Range32{
		{Lo: 0x1F000, Hi: 0x1F0FF, Stride: 1},
		{Lo: 0x1F10D, Hi: 0x1F10F, Stride: 1},
		{Lo: 0x1F12F, Hi: 0x1F12F, Stride: 1},
		{Lo: 0x1F16C, Hi: 0x1F171, Stride: 1},
		{Lo: 0x1F17E, Hi: 0x1F17F, Stride: 1},
		{Lo: 0x1F18E, Hi: 0x1F18E, Stride: 1},
		{Lo: 0x1F191, Hi: 0x1F19A, Stride: 1},
		{Lo: 0x1F1AD, Hi: 0x1F1E5, Stride: 1},
		{Lo: 0x1F201, Hi: 0x1F20F, Stride: 1},
		{Lo: 0x1F21A, Hi: 0x1F21A, Stride: 1},
		{Lo: 0x1F22F, Hi: 0x1F22F, Stride: 1},
		{Lo: 0x1F232, Hi: 0x1F23A, Stride: 1},
		{Lo: 0x1F23C, Hi: 0x1F23F, Stride: 1},
		{Lo: 0x1F249, Hi: 0x1F53D, Stride: 1},
		{Lo: 0x1F546, Hi: 0x1F64F, Stride: 1},
		{Lo: 0x1F680, Hi: 0x1F6FF, Stride: 1},
		{Lo: 0x1F774, Hi: 0x1F77F, Stride: 1},
		{Lo: 0x1F7D5, Hi: 0x1F7FF, Stride: 1},
		{Lo: 0x1F80C, Hi: 0x1F80F, Stride: 1},
		{Lo: 0x1F848, Hi: 0x1F84F, Stride: 1},
		{Lo: 0x1F85A, Hi: 0x1F85F, Stride: 1},
		{Lo: 0x1F888, Hi: 0x1F88F, Stride: 1},
		{Lo: 0x1F8AE, Hi: 0x1F8FF, Stride: 1},
		{Lo: 0x1F90C, Hi: 0x1F93A, Stride: 1},
		{Lo: 0x1F93C, Hi: 0x1F945, Stride: 1},
		{Lo: 0x1F947, Hi: 0x1FAFF, Stride: 1},
		{Lo: 0x1FC00, Hi: 0x1FFFD, Stride: 1},
	},
	LatinOffset: 2,
}

// ─── Control Characters ─────────────────────────────────────────────────────

// StripControl removes C0 control characters other than tab, newline and
// carriage return, DEL, and U+FFFD.
func StripControl(text string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r < 0x20 || r == 0x7F || r == unicode.ReplacementChar:
			return -1
		}
		return r
	}, text)
}
