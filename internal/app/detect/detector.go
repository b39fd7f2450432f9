// Package detect identifies the language of request text. It combines cheap
// script heuristics with a pluggable language identifier and splits
// mixed-language input into contiguous same-language segments.
package detect

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/rivo/uniseg"
	"github.com/rs/zerolog"

	"github.com/tutu-network/mtran/internal/domain"
	"github.com/tutu-network/mtran/internal/infra/metrics"
)

// ─── Options ────────────────────────────────────────────────────────────────

// Options tunes detection.
type Options struct {
	// ConfidenceThreshold is the minimum per-sentence confidence at which the
	// identifier's answer is taken without script heuristics.
	ConfidenceThreshold float64
	// MaxLanguages caps the number of distinct languages in one text.
	MaxLanguages int
	// MaxDetectionBytes bounds the span handed to the identifier.
	MaxDetectionBytes int
	// MaxFallbackBytes bounds the span used for the whole-text fallback
	// language of mixed segmentation.
	MaxFallbackBytes int
}

// DefaultOptions returns the detector defaults.
func DefaultOptions() Options {
	return Options{
		ConfidenceThreshold: 0.5,
		MaxLanguages:        2,
		MaxDetectionBytes:   511,
		MaxFallbackBytes:    1023,
	}
}

// cjkScanLimit is how many characters the pure-CJK fast path inspects.
const cjkScanLimit = 2000

// ─── Detector ───────────────────────────────────────────────────────────────

// Detector owns one language identifier instance. The identifier is built
// lazily and discarded after a runtime fault; the next call rebuilds it.
type Detector struct {
	factory domain.IdentifierFactory
	opts    Options
	log     zerolog.Logger

	mu sync.Mutex
	id domain.LanguageIdentifier
}

// New creates a detector. Zero option fields take their defaults.
func New(factory domain.IdentifierFactory, opts Options, logger zerolog.Logger) *Detector {
	def := DefaultOptions()
	if opts.ConfidenceThreshold <= 0 {
		opts.ConfidenceThreshold = def.ConfidenceThreshold
	}
	if opts.MaxLanguages <= 0 {
		opts.MaxLanguages = def.MaxLanguages
	}
	if opts.MaxDetectionBytes <= 0 {
		opts.MaxDetectionBytes = def.MaxDetectionBytes
	}
	if opts.MaxFallbackBytes <= 0 {
		opts.MaxFallbackBytes = def.MaxFallbackBytes
	}
	return &Detector{
		factory: factory,
		opts:    opts,
		log:     logger.With().Str("component", "detector").Logger(),
	}
}

// Threshold returns the configured per-sentence confidence threshold.
func (d *Detector) Threshold() float64 { return d.opts.ConfidenceThreshold }

// DetectLanguage returns the normalized language of text. Empty text gives
// "". Text without letters or digits gives "en", as does an identifier
// fault.
func (d *Detector) DetectLanguage(text string) string {
	metrics.Detections.WithLabelValues("single").Inc()
	return d.detect(text, d.opts.MaxDetectionBytes)
}

// DetectLanguageWithConfidence is DetectLanguage with a confidence score.
// Below minConfidence the language is "" and the confidence is still
// reported.
func (d *Detector) DetectLanguageWithConfidence(text string, minConfidence float64) domain.Detection {
	metrics.Detections.WithLabelValues("confidence").Inc()
	if text == "" {
		return domain.Detection{}
	}
	start := contentStart(text)
	if start < 0 {
		return domain.Detection{Language: domain.LangEnglish}
	}
	if lang := pureCJK(text[start:]); lang != "" {
		return domain.Detection{Language: lang, Confidence: 1}
	}

	c, err := d.classify(text[start:], d.opts.MaxDetectionBytes, "detectLanguageWithConfidence")
	if err != nil {
		return domain.Detection{Language: domain.LangEnglish}
	}
	conf := confidence(c)
	if conf < minConfidence {
		return domain.Detection{Confidence: conf}
	}
	return domain.Detection{Language: domain.NormalizeDetected(c.Code), Confidence: conf}
}

// DetectMultipleLanguages splits text into same-language segments using the
// configured threshold.
func (d *Detector) DetectMultipleLanguages(text string) []domain.TextSegment {
	return d.DetectMultipleLanguagesWithThreshold(text, d.opts.ConfidenceThreshold)
}

// DetectMultipleLanguagesWithThreshold splits text into contiguous,
// non-overlapping segments covering all of it. Text that does not mix CJK
// and Latin script is returned as one segment. Segment offsets are bytes.
func (d *Detector) DetectMultipleLanguagesWithThreshold(text string, threshold float64) []domain.TextSegment {
	metrics.Detections.WithLabelValues("segments").Inc()
	if text == "" {
		return nil
	}

	fallback := d.detect(text, d.opts.MaxFallbackBytes)
	if fallback == "" {
		fallback = domain.LangEnglish
	}

	if !hasMixedScripts(text) {
		return []domain.TextSegment{{
			Text:       text,
			Language:   fallback,
			Start:      0,
			End:        len(text),
			Confidence: 1,
		}}
	}

	var segments []domain.TextSegment
	offset := 0
	rest := text
	state := -1
	for len(rest) > 0 {
		var sentence string
		sentence, rest, state = uniseg.FirstSentenceInString(rest, state)
		seg := domain.TextSegment{
			Text:     sentence,
			Language: fallback,
			Start:    offset,
			End:      offset + len(sentence),
		}
		offset = seg.End

		c, err := d.classify(sentence, d.opts.MaxDetectionBytes, "detectMultipleLanguages")
		if err == nil {
			seg.Confidence = confidence(c)
			seg.Language = pickLanguage(sentence, domain.NormalizeDetected(c.Code), seg.Confidence, threshold, fallback)
		}
		d.log.Debug().
			Int("start", seg.Start).
			Int("end", seg.End).
			Str("language", seg.Language).
			Float64("confidence", seg.Confidence).
			Msg("segment classified")
		segments = append(segments, seg)
	}

	merged := mergeAdjacent(segments, text)
	limited := limitLanguages(merged, text, d.opts.MaxLanguages)
	d.log.Debug().
		Int("sentences", len(segments)).
		Int("merged", len(merged)).
		Int("final", len(limited)).
		Msg("mixed-language segmentation")
	return limited
}

func (d *Detector) detect(text string, maxBytes int) string {
	if text == "" {
		return ""
	}
	start := contentStart(text)
	if start < 0 {
		return domain.LangEnglish
	}
	if lang := pureCJK(text[start:]); lang != "" {
		return lang
	}
	c, err := d.classify(text[start:], maxBytes, "detectLanguage")
	if err != nil {
		return domain.LangEnglish
	}
	return domain.NormalizeDetected(c.Code)
}

// classify runs the identifier on a sanitized, truncated span. Faults reset
// the identifier and are returned so callers can apply their fallback.
func (d *Detector) classify(text string, maxBytes int, op string) (domain.Classification, error) {
	span := truncateUTF8(sanitize(text), maxBytes)
	if span == "" {
		return domain.Classification{Code: domain.LangUnknown}, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.id == nil {
		id, err := d.factory()
		if err != nil {
			d.log.Error().Err(err).Msg("language identifier init failed")
			return domain.Classification{}, err
		}
		d.id = id
	}

	c, err := d.id.Classify(span, true)
	if err != nil {
		d.log.Warn().Err(err).Str("op", op).Msg("language detection failed")
		if isIdentifierFault(err) {
			fault := &domain.DetectionFault{Op: op, Err: err}
			d.log.Warn().Err(fault).Int("bytes", len(span)).Msg("resetting language identifier")
			d.id = nil
			metrics.DetectorResets.Inc()
		}
		return domain.Classification{}, err
	}
	return c, nil
}

func isIdentifierFault(err error) bool {
	var fault *domain.RuntimeFault
	if errors.As(err, &fault) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "RuntimeError") || strings.Contains(msg, "memory access")
}

func confidence(c domain.Classification) float64 {
	return float64(c.TopPercent()) / 100
}

// pickLanguage applies script heuristics to a sentence whose classification
// fell below the threshold.
func pickLanguage(sentence, detected string, conf, threshold float64, fallback string) string {
	if conf >= threshold {
		return detected
	}
	known := detected != "" && detected != domain.LangUnknown

	switch scriptOf(sentence) {
	case scriptLatin:
		if domain.IsCJK(fallback) {
			if known {
				return detected
			}
			return domain.LangEnglish
		}
	case scriptCJK:
		if !domain.IsCJK(fallback) && known {
			return detected
		}
	case scriptMixed:
		switch dominantScript(sentence) {
		case scriptCJK:
			if known && domain.IsCJK(detected) {
				return detected
			}
			return domain.LangChinese
		case scriptLatin:
			if known && !domain.IsCJK(detected) {
				return detected
			}
			return domain.LangEnglish
		}
	}
	return fallback
}

// ─── Segment Post-processing ────────────────────────────────────────────────

// mergeAdjacent joins neighbouring segments of the same language, keeping
// the higher confidence. Text is re-sliced from the original.
func mergeAdjacent(segments []domain.TextSegment, text string) []domain.TextSegment {
	if len(segments) <= 1 {
		return segments
	}
	merged := make([]domain.TextSegment, 0, len(segments))
	cur := segments[0]
	for _, next := range segments[1:] {
		if next.Language == cur.Language {
			cur.End = next.End
			cur.Text = text[cur.Start:cur.End]
			if next.Confidence > cur.Confidence {
				cur.Confidence = next.Confidence
			}
			continue
		}
		merged = append(merged, cur)
		cur = next
	}
	return append(merged, cur)
}

// limitLanguages keeps the maxLangs languages covering the most characters
// and reassigns the rest to the primary language.
func limitLanguages(segments []domain.TextSegment, text string, maxLangs int) []domain.TextSegment {
	if len(segments) <= 1 {
		return segments
	}

	type span struct {
		lang  string
		chars int
	}
	var spans []span
	index := map[string]int{}
	for _, seg := range segments {
		i, ok := index[seg.Language]
		if !ok {
			i = len(spans)
			index[seg.Language] = i
			spans = append(spans, span{lang: seg.Language})
		}
		spans[i].chars += utf8.RuneCountInString(seg.Text)
	}
	if len(spans) <= maxLangs {
		return segments
	}

	sort.SliceStable(spans, func(i, j int) bool { return spans[i].chars > spans[j].chars })
	keep := make(map[string]bool, maxLangs)
	for _, s := range spans[:maxLangs] {
		keep[s.lang] = true
	}
	primary := spans[0].lang

	out := make([]domain.TextSegment, len(segments))
	copy(out, segments)
	for i := range out {
		if !keep[out[i].Language] {
			out[i].Language = primary
		}
	}
	return mergeAdjacent(out, text)
}

// ─── Text Helpers ───────────────────────────────────────────────────────────

// contentStart returns the byte offset of the first letter or digit, or -1.
func contentStart(text string) int {
	return strings.IndexFunc(text, func(r rune) bool {
		return unicode.IsLetter(r) || unicode.IsNumber(r)
	})
}

// pureCJK returns ja, ko or zh-Hans when the first characters contain CJK
// script and no Latin letters. Kana wins over Hangul, Hangul over Han.
func pureCJK(text string) string {
	var kana, hangul, han bool
	n := 0
	for _, r := range text {
		if n >= cjkScanLimit {
			break
		}
		n++
		switch {
		case isLatin(r):
			return ""
		case r >= 0x3040 && r <= 0x30FF:
			kana = true
		case r >= 0xAC00 && r <= 0xD7AF:
			hangul = true
		case r >= 0x4E00 && r <= 0x9FFF:
			han = true
		}
	}
	switch {
	case kana:
		return domain.LangJapanese
	case hangul:
		return domain.LangKorean
	case han:
		return domain.LangChinese
	}
	return ""
}

// sanitize drops NUL and control bytes other than tab, newline and
// carriage return.
func sanitize(text string) string {
	return strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		if r < 0x20 || r == 0x7F {
			return -1
		}
		return r
	}, text)
}

// truncateUTF8 cuts text to at most maxBytes without splitting a rune.
func truncateUTF8(text string, maxBytes int) string {
	if maxBytes <= 0 || len(text) <= maxBytes {
		return text
	}
	n := maxBytes
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	return text[:n]
}

type script int

const (
	scriptOther script = iota
	scriptLatin
	scriptCJK
	scriptMixed
)

func isLatin(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
}

func isCJKRune(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3040 && r <= 0x30FF) ||
		(r >= 0xAC00 && r <= 0xD7AF)
}

func hasMixedScripts(text string) bool {
	return scriptOf(text) == scriptMixed
}

func scriptOf(text string) script {
	var cjk, latin bool
	for _, r := range text {
		if isCJKRune(r) {
			cjk = true
		} else if isLatin(r) {
			latin = true
		}
		if cjk && latin {
			return scriptMixed
		}
	}
	switch {
	case cjk:
		return scriptCJK
	case latin:
		return scriptLatin
	}
	return scriptOther
}

func dominantScript(text string) script {
	var cjk, latin int
	for _, r := range text {
		if isCJKRune(r) {
			cjk++
		} else if isLatin(r) {
			latin++
		}
	}
	switch {
	case cjk > latin:
		return scriptCJK
	case latin > cjk:
		return scriptLatin
	}
	return scriptOther
}
