// Package translate routes translation requests to engines. It resolves
// the source language, splits mixed-language input into segments, pivots
// through English when no direct model exists and recovers from engine
// crashes by rebuilding the engine and retrying.
package translate

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rivo/uniseg"
	"github.com/rs/zerolog"

	"github.com/tutu-network/mtran/internal/domain"
	"github.com/tutu-network/mtran/internal/infra/cache"
	"github.com/tutu-network/mtran/internal/infra/engine"
	"github.com/tutu-network/mtran/internal/infra/metrics"
)

// ─── Collaborators ──────────────────────────────────────────────────────────

// Engines hands out ready engines and removes crashed ones.
type Engines interface {
	GetOrCreate(ctx context.Context, from, to string) (*engine.Engine, error)
	Evict(key domain.PairKey, eng *engine.Engine)
}

// Detector resolves source languages.
type Detector interface {
	DetectLanguage(text string) string
	DetectMultipleLanguages(text string) []domain.TextSegment
}

// PairCatalog answers whether a direct model exists for a pair.
type PairCatalog interface {
	HasDirectPair(from, to string) bool
}

// ─── Options ────────────────────────────────────────────────────────────────

// Options tunes routing.
type Options struct {
	// DirectLimit is the longest text, in characters, translated without
	// segmentation when the source language is given.
	DirectLimit int
	// MaxSentenceLength is the length above which single-language plain
	// text is translated sentence by sentence.
	MaxSentenceLength int
	// FullwidthZhPunctuation replaces ASCII commas in Chinese output.
	FullwidthZhPunctuation bool
	// MaxAttempts bounds engine rebuilds after a crash.
	MaxAttempts int
	// RetryBackoff is multiplied by the attempt number between attempts.
	RetryBackoff time.Duration
	// OnUnsupported is called when the host cannot run the inference
	// runtime. The default logs guidance at fatal level, which exits.
	OnUnsupported func(err error)
}

// DefaultOptions returns the routing defaults.
func DefaultOptions() Options {
	return Options{
		DirectLimit:            512,
		MaxSentenceLength:      512,
		FullwidthZhPunctuation: true,
		MaxAttempts:            3,
		RetryBackoff:           100 * time.Millisecond,
	}
}

// ─── Router ─────────────────────────────────────────────────────────────────

// Router implements pivot-aware, mixed-language translation.
type Router struct {
	engines  Engines
	detector Detector
	catalog  PairCatalog
	cache    domain.TranslationCache
	opts     Options
	log      zerolog.Logger
}

// NewRouter creates a router. cache may be nil.
func NewRouter(engines Engines, detector Detector, catalog PairCatalog, c domain.TranslationCache, opts Options, logger zerolog.Logger) *Router {
	def := DefaultOptions()
	if opts.DirectLimit <= 0 {
		opts.DirectLimit = def.DirectLimit
	}
	if opts.MaxSentenceLength <= 0 {
		opts.MaxSentenceLength = def.MaxSentenceLength
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = def.RetryBackoff
	}
	r := &Router{
		engines:  engines,
		detector: detector,
		catalog:  catalog,
		cache:    c,
		opts:     opts,
		log:      logger.With().Str("component", "router").Logger(),
	}
	if r.opts.OnUnsupported == nil {
		r.opts.OnUnsupported = r.fatalUnsupported
	}
	return r
}

// Translate translates text from one language to another. from may be
// "auto". Engine output for Chinese targets gets fullwidth commas when
// enabled; text copied through untranslated is returned byte for byte.
func (r *Router) Translate(ctx context.Context, from, to, text string, html bool) (string, error) {
	if from == "" || to == "" {
		return "", domain.ErrEmptyLanguage
	}
	if to == domain.LangAuto {
		return "", domain.ErrAutoTarget
	}

	start := time.Now()
	route, result, err := r.route(ctx, from, to, text, html)
	if err != nil {
		metrics.TranslationErrors.WithLabelValues(errorReason(err)).Inc()
		return "", err
	}
	metrics.TranslationsTotal.WithLabelValues(route).Inc()
	metrics.TranslationLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())

	r.log.Debug().
		Str("from", from).
		Str("to", to).
		Str("route", route).
		Int("chars", utf8.RuneCountInString(text)).
		Bool("html", html).
		Dur("took", time.Since(start)).
		Msg("translated")

	return result, nil
}

// TranslateBatch translates texts in order. The first failure aborts the
// batch.
func (r *Router) TranslateBatch(ctx context.Context, from, to string, texts []string, html bool) ([]string, error) {
	results := make([]string, 0, len(texts))
	for _, text := range texts {
		out, err := r.Translate(ctx, from, to, text, html)
		if err != nil {
			return nil, err
		}
		results = append(results, out)
	}
	return results, nil
}

func (r *Router) route(ctx context.Context, from, to, text string, html bool) (string, string, error) {
	if text == "" || (from != domain.LangAuto && from == to) {
		return "identity", text, nil
	}
	if from != domain.LangAuto && utf8.RuneCountInString(text) <= r.opts.DirectLimit {
		out, err := r.translateSegment(ctx, from, to, text, html)
		return "direct", out, err
	}

	segments := r.detector.DetectMultipleLanguages(text)
	if len(segments) <= 1 {
		out, err := r.translateSingle(ctx, from, to, text, html, segments)
		return "single", out, err
	}
	out, err := r.translateMixed(ctx, to, text, html, segments)
	return "mixed", out, err
}

func (r *Router) translateSingle(ctx context.Context, from, to, text string, html bool, segments []domain.TextSegment) (string, error) {
	var src string
	switch {
	case len(segments) == 1:
		src = segments[0].Language
	case from == domain.LangAuto:
		src = r.detector.DetectLanguage(text)
		if src == "" {
			return "", domain.ErrDetectionFailed
		}
	default:
		src = from
	}

	if src == to {
		return text, nil
	}
	if !html && utf8.RuneCountInString(text) > r.opts.MaxSentenceLength {
		return r.translateSentences(ctx, src, to, text)
	}
	return r.translateSegment(ctx, src, to, text, html)
}

// translateMixed translates each segment on its own. Segments already in
// the target language are copied, and a failed segment keeps its original
// text.
func (r *Router) translateMixed(ctx context.Context, to, text string, html bool, segments []domain.TextSegment) (string, error) {
	r.log.Debug().Int("segments", len(segments)).Msg("mixed-language input")

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, seg := range segments {
		if seg.Start > last {
			b.WriteString(text[last:seg.Start])
		}
		if seg.Language == to {
			b.WriteString(seg.Text)
		} else {
			out, err := r.translateSegment(ctx, seg.Language, to, seg.Text, html)
			if err != nil {
				if ctx.Err() != nil {
					return "", ctx.Err()
				}
				r.log.Error().Err(&domain.SegmentTranslationError{Segment: seg, Err: err}).Msg("segment kept untranslated")
				metrics.SegmentFallbacks.Inc()
				out = seg.Text
			}
			b.WriteString(out)
		}
		last = seg.End
	}
	if last < len(text) {
		b.WriteString(text[last:])
	}
	return b.String(), nil
}

// translateSentences translates long plain text one sentence at a time. A
// failed sentence keeps its original text.
func (r *Router) translateSentences(ctx context.Context, from, to, text string) (string, error) {
	var b strings.Builder
	b.Grow(len(text))

	rest := text
	state := -1
	n := 0
	for len(rest) > 0 {
		var sentence string
		sentence, rest, state = uniseg.FirstSentenceInString(rest, state)
		n++
		out, err := r.translateSegment(ctx, from, to, sentence, false)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			r.log.Error().Err(err).Int("sentence", n).Msg("sentence kept untranslated")
			metrics.SegmentFallbacks.Inc()
			out = sentence
		}
		b.WriteString(out)
		if n%10 == 0 {
			r.log.Debug().Int("sentences", n).Msg("long text progress")
		}
	}
	return b.String(), nil
}

// translateSegment translates one single-language span, pivoting through
// English when no direct model exists.
func (r *Router) translateSegment(ctx context.Context, from, to, text string, html bool) (string, error) {
	if from == to {
		return text, nil
	}
	if !r.needsPivot(from, to) {
		out, err := r.translateDirect(ctx, from, to, text, html)
		if err != nil {
			return "", err
		}
		return r.punctuate(out, to, html), nil
	}
	mid, err := r.translateDirect(ctx, from, domain.LangEnglish, text, html)
	if err != nil {
		return "", err
	}
	out, err := r.translateDirect(ctx, domain.LangEnglish, to, mid, html)
	if err != nil {
		return "", err
	}
	return r.punctuate(out, to, html), nil
}

func (r *Router) needsPivot(from, to string) bool {
	if from == domain.LangEnglish || to == domain.LangEnglish {
		return false
	}
	return !r.catalog.HasDirectPair(from, to)
}

// translateDirect runs one pair through the cache and the engine. A crashed
// engine is evicted and rebuilt, up to MaxAttempts times.
func (r *Router) translateDirect(ctx context.Context, from, to, text string, html bool) (string, error) {
	key := cache.Key(from, to, text, html)
	if r.cache != nil {
		if out, ok := r.cache.Get(key); ok {
			return out, nil
		}
	}

	pair := domain.PairKey{From: from, To: to}
	var lastErr error
	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		out, err := r.attempt(ctx, from, to, text, html)
		if err == nil {
			if r.cache != nil {
				r.cache.Put(key, out)
			}
			return out, nil
		}

		if domain.IsUnsupportedRuntime(err) {
			r.opts.OnUnsupported(err)
			return "", err
		}
		if !retryable(err) || ctx.Err() != nil {
			return "", err
		}

		lastErr = err
		metrics.CrashRetries.WithLabelValues(pair.String()).Inc()
		r.log.Warn().Err(err).
			Str("pair", pair.String()).
			Int("attempt", attempt).
			Int("max_attempts", r.opts.MaxAttempts).
			Msg("engine crashed, retrying")

		if attempt == r.opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(r.opts.RetryBackoff * time.Duration(attempt)):
		}
	}

	r.log.Error().Err(lastErr).Str("pair", pair.String()).Msg("translation failed after retries")
	return "", lastErr
}

func (r *Router) attempt(ctx context.Context, from, to, text string, html bool) (string, error) {
	eng, err := r.engines.GetOrCreate(ctx, from, to)
	if err != nil {
		return "", err
	}
	out, err := eng.Translate(ctx, text, domain.TranslateOptions{HTML: html})
	if err != nil && retryable(err) {
		r.engines.Evict(eng.Pair(), eng)
	}
	return out, err
}

func retryable(err error) bool {
	return domain.IsMemoryFault(err) ||
		errors.Is(err, domain.ErrEngineClosed) ||
		errors.Is(err, domain.ErrEngineNotReady)
}

func (r *Router) fatalUnsupported(err error) {
	r.log.Fatal().Err(err).
		Msg("the translation runtime is not supported on this CPU; install a worker build for older CPUs (without AVX2/SIMD) or run on newer hardware")
}

// punctuate swaps ASCII commas for fullwidth ones in plain Chinese output.
func (r *Router) punctuate(text, to string, html bool) string {
	if !r.opts.FullwidthZhPunctuation || html || !domain.IsChinese(to) {
		return text
	}
	return strings.ReplaceAll(text, ",", "，")
}

func errorReason(err error) string {
	var (
		initErr  *domain.EngineInitError
		fatalErr *domain.FatalBackendError
	)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, domain.ErrDetectionFailed):
		return "detection"
	case errors.As(err, &initErr):
		return "init"
	case errors.As(err, &fatalErr), domain.IsMemoryFault(err):
		return "crash"
	case domain.IsUnsupportedRuntime(err):
		return "unsupported"
	}
	return "other"
}
