// Package engine owns the per-language-pair translation engines and the
// registry that creates, reuses and evicts them. The model runtime itself
// is behind domain.InferenceBackend: SubprocessBackend in production,
// MockBackend in tests.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tutu-network/mtran/internal/domain"
)

// ─── Runtime Config ─────────────────────────────────────────────────────────

// RuntimeConfig holds the decoder options passed to the backend as a
// "key: value" config string.
type RuntimeConfig struct {
	BeamSize         int
	Normalize        float64
	WordPenalty      float64
	MaxLengthBreak   int
	MiniBatchWords   int
	Workspace        int
	MaxLengthFactor  float64
	SkipCost         bool
	CPUThreads       int
	Quiet            bool
	QuietTranslation bool
	GemmPrecision    string
	Alignment        string
}

// DefaultRuntimeConfig returns greedy decoding on int8 GEMM.
func DefaultRuntimeConfig() RuntimeConfig {
	return RuntimeConfig{
		BeamSize:         1,
		Normalize:        1.0,
		WordPenalty:      0,
		MaxLengthBreak:   512,
		MiniBatchWords:   1024,
		Workspace:        128,
		MaxLengthFactor:  2.0,
		SkipCost:         true,
		CPUThreads:       0,
		Quiet:            true,
		QuietTranslation: true,
		GemmPrecision:    "int8shiftAlphaAll",
		Alignment:        "soft",
	}
}

// String renders the config in the backend's line format.
func (c RuntimeConfig) String() string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	lines := []string{
		"beam-size: " + strconv.Itoa(c.BeamSize),
		"normalize: " + f(c.Normalize),
		"word-penalty: " + f(c.WordPenalty),
		"max-length-break: " + strconv.Itoa(c.MaxLengthBreak),
		"mini-batch-words: " + strconv.Itoa(c.MiniBatchWords),
		"workspace: " + strconv.Itoa(c.Workspace),
		"max-length-factor: " + f(c.MaxLengthFactor),
		"skip-cost: " + strconv.FormatBool(c.SkipCost),
		"cpu-threads: " + strconv.Itoa(c.CPUThreads),
		"quiet: " + strconv.FormatBool(c.Quiet),
		"quiet-translation: " + strconv.FormatBool(c.QuietTranslation),
		"gemm-precision: " + c.GemmPrecision,
		"alignment: " + c.Alignment,
	}
	return strings.Join(lines, "\n")
}

// ─── Engine ─────────────────────────────────────────────────────────────────

// Options configures one engine.
type Options struct {
	MaxSentenceLength int           // code points; 0 disables splitting
	InitTimeout       time.Duration // 0 waits for the backend indefinitely
	Runtime           RuntimeConfig
	Logger            zerolog.Logger

	// OnFatal is called from the worker after the engine has flipped to
	// not-ready because of a fatal backend fault.
	OnFatal func(*Engine)
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		MaxSentenceLength: 512,
		InitTimeout:       30 * time.Second,
		Runtime:           DefaultRuntimeConfig(),
		Logger:            zerolog.Nop(),
	}
}

// Result is the outcome of one queued translation.
type Result struct {
	Text string
	Err  error
}

type request struct {
	ctx    context.Context
	text   string
	opts   domain.TranslateOptions
	result chan Result
}

// Engine wraps one loaded model for one ordered language pair. Requests are
// queued FIFO and executed one at a time by a single worker goroutine,
// because model handles are not re-entrant.
type Engine struct {
	id      string
	pair    domain.PairKey
	backend domain.InferenceBackend
	opts    Options
	log     zerolog.Logger

	initMu sync.Mutex

	mu      sync.Mutex
	handle  domain.ModelHandle
	version string
	ready   bool
	closed  bool
	started bool
	queue   []*request

	lastUsed atomic.Int64

	wake        chan struct{}
	quit        chan struct{}
	done        chan struct{}
	destroyOnce sync.Once
}

// New creates an engine for pair. It is not usable until Initialize succeeds.
func New(pair domain.PairKey, backend domain.InferenceBackend, opts Options) *Engine {
	id := uuid.NewString()
	e := &Engine{
		id:      id,
		pair:    pair,
		backend: backend,
		opts:    opts,
		log:     opts.Logger.With().Str("engine", id[:8]).Str("pair", pair.String()).Logger(),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	e.touch()
	return e
}

// ID returns the engine's instance ID.
func (e *Engine) ID() string { return e.id }

// Pair returns the engine's language pair.
func (e *Engine) Pair() domain.PairKey { return e.pair }

// Ready reports whether the engine accepts translations.
func (e *Engine) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// Pending returns the number of queued, not yet started requests.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// LastUsed returns when the engine last started a translation.
func (e *Engine) LastUsed() time.Time { return time.Unix(0, e.lastUsed.Load()) }

// Done is closed once the engine has been destroyed and its model released.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) touch() { e.lastUsed.Store(time.Now().UnixNano()) }

// Initialize loads bundle into the backend. Artifacts are copied into
// buffers aligned per role. Calling Initialize on a ready engine is a no-op.
func (e *Engine) Initialize(ctx context.Context, bundle domain.ModelBundle) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	e.mu.Lock()
	ready, closed := e.ready, e.closed
	e.mu.Unlock()
	if ready {
		return nil
	}
	if closed {
		return domain.ErrEngineClosed
	}

	req, err := e.loadRequest(bundle)
	if err != nil {
		return err
	}

	start := time.Now()
	handle, err := e.load(ctx, req)
	if err != nil {
		e.log.Error().Err(err).Msg("engine initialization failed")
		return err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		handle.Close()
		return domain.ErrEngineClosed
	}
	e.handle = handle
	e.version = bundle.Version
	e.ready = true
	e.started = true
	e.mu.Unlock()

	go e.loop()
	e.log.Info().Str("version", bundle.Version).Dur("took", time.Since(start)).Msg("engine ready")
	return nil
}

func (e *Engine) loadRequest(bundle domain.ModelBundle) (domain.LoadRequest, error) {
	for _, role := range domain.RequiredRoles {
		if len(bundle.Artifacts[role]) == 0 {
			return domain.LoadRequest{}, &domain.EngineInitError{
				Pair: e.pair,
				Err:  fmt.Errorf("%w: %s", domain.ErrArtifactMissing, role),
			}
		}
	}
	req := domain.LoadRequest{
		Pair:       e.pair,
		Artifacts:  make(map[domain.ArtifactRole][]byte, len(bundle.Artifacts)),
		Alignments: make(map[domain.ArtifactRole]int, len(bundle.Artifacts)),
		Files:      bundle.Files,
		Config:     e.opts.Runtime.String(),
	}
	for role, data := range bundle.Artifacts {
		align := role.Alignment()
		req.Artifacts[role] = alignedCopy(data, align)
		req.Alignments[role] = align
	}
	return req, nil
}

// load calls the backend with a bounded wait. A handle that arrives after
// the deadline is closed in the background.
func (e *Engine) load(ctx context.Context, req domain.LoadRequest) (domain.ModelHandle, error) {
	loadCtx := ctx
	if e.opts.InitTimeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(ctx, e.opts.InitTimeout)
		defer cancel()
	}

	type loaded struct {
		handle domain.ModelHandle
		err    error
	}
	ch := make(chan loaded, 1)
	go func() {
		h, err := e.backend.LoadModel(loadCtx, req)
		ch <- loaded{h, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			var unsupported *domain.UnsupportedRuntimeError
			if errors.As(res.err, &unsupported) {
				return nil, res.err
			}
			if domain.IsUnsupportedRuntime(res.err) || domain.UnsupportedRuntimeMessage(res.err.Error()) {
				return nil, &domain.UnsupportedRuntimeError{Err: res.err}
			}
			return nil, &domain.EngineInitError{Pair: e.pair, Err: res.err}
		}
		return res.handle, nil
	case <-loadCtx.Done():
		go func() {
			if res := <-ch; res.handle != nil {
				res.handle.Close()
			}
		}()
		if ctx.Err() == nil && errors.Is(loadCtx.Err(), context.DeadlineExceeded) {
			return nil, &domain.EngineInitError{Pair: e.pair, Err: domain.ErrInitTimeout}
		}
		return nil, &domain.EngineInitError{Pair: e.pair, Err: ctx.Err()}
	}
}

// ─── Queue ──────────────────────────────────────────────────────────────────

// TranslateAsync queues text and returns a channel that receives exactly
// one Result.
func (e *Engine) TranslateAsync(ctx context.Context, text string, opts domain.TranslateOptions) <-chan Result {
	ch := make(chan Result, 1)

	e.mu.Lock()
	switch {
	case e.closed:
		e.mu.Unlock()
		ch <- Result{Err: domain.ErrEngineClosed}
		return ch
	case !e.ready:
		e.mu.Unlock()
		ch <- Result{Err: domain.ErrEngineNotReady}
		return ch
	}
	e.queue = append(e.queue, &request{ctx: ctx, text: text, opts: opts, result: ch})
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return ch
}

// Translate queues text and waits for its result.
func (e *Engine) Translate(ctx context.Context, text string, opts domain.TranslateOptions) (string, error) {
	select {
	case res := <-e.TranslateAsync(ctx, text, opts):
		return res.Text, res.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (e *Engine) loop() {
	defer close(e.done)
	defer e.releaseHandle()

	for {
		req, ok := e.next()
		if !ok {
			return
		}
		if err := req.ctx.Err(); err != nil {
			req.result <- Result{Err: err}
			continue
		}
		text, err := e.process(req.ctx, req.text, req.opts)
		req.result <- Result{Text: text, Err: err}
	}
}

func (e *Engine) next() (*request, bool) {
	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return nil, false
		}
		if len(e.queue) > 0 {
			req := e.queue[0]
			e.queue[0] = nil
			e.queue = e.queue[1:]
			e.mu.Unlock()
			return req, true
		}
		e.mu.Unlock()

		select {
		case <-e.wake:
		case <-e.quit:
		}
	}
}

// ─── Pipeline ───────────────────────────────────────────────────────────────

func (e *Engine) process(ctx context.Context, text string, opts domain.TranslateOptions) (string, error) {
	if !e.Ready() {
		return "", domain.ErrEngineNotReady
	}
	e.touch()

	if opts.HTML {
		text = SanitizeHTML(text)
	}
	tagged, placeholders, forceHTML := TagPlaceholders(text, opts.HTML)
	clean, emojis := HideEmojis(tagged)
	if forceHTML {
		opts.HTML = true
	}

	out, err := e.translateText(ctx, clean, opts)
	if err != nil {
		if domain.IsFatalFault(err) {
			e.markBroken()
			e.log.Error().Err(err).Int("length", utf8.RuneCountInString(clean)).Bool("html", opts.HTML).Msg("fatal backend fault, engine disabled")
			if e.opts.OnFatal != nil {
				e.opts.OnFatal(e)
			}
			return "", &domain.FatalBackendError{Pair: e.pair, Err: err}
		}
		return "", err
	}

	out = RestoreEmojis(out, emojis)
	return RestorePlaceholders(out, placeholders), nil
}

func (e *Engine) translateText(ctx context.Context, text string, opts domain.TranslateOptions) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}
	if !opts.HTML {
		text = StripControl(text)
	}
	if limit := e.opts.MaxSentenceLength; limit > 0 && utf8.RuneCountInString(text) > limit {
		return e.translateLong(ctx, text, opts)
	}
	return e.translateOne(ctx, text, opts)
}

func (e *Engine) translateLong(ctx context.Context, text string, opts domain.TranslateOptions) (string, error) {
	parts, sep := SplitLongText(text, e.opts.MaxSentenceLength)
	out := make([]string, len(parts))
	for i, part := range parts {
		translated, err := e.translateText(ctx, part, opts)
		if err != nil {
			return "", err
		}
		out[i] = translated
	}
	return strings.Join(out, MapSeparator(sep, e.pair.To)), nil
}

func (e *Engine) translateOne(ctx context.Context, text string, opts domain.TranslateOptions) (string, error) {
	e.mu.Lock()
	handle := e.handle
	e.mu.Unlock()
	if handle == nil {
		return "", domain.ErrBackendClosed
	}

	batch, err := handle.Translate(ctx, []string{text}, []domain.TranslateOptions{opts})
	if err != nil {
		e.log.Debug().Err(err).Int("length", utf8.RuneCountInString(text)).Bool("html", opts.HTML).Msg("backend translate failed")
		return "", err
	}
	defer batch.Release()

	if batch.Len() == 0 {
		return "", fmt.Errorf("backend returned no translation for %s", e.pair)
	}
	return batch.Text(0), nil
}

func (e *Engine) markBroken() {
	e.mu.Lock()
	e.ready = false
	e.mu.Unlock()
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Destroy stops the engine. Queued requests fail with ErrEngineClosed; a
// request already running completes before the model is released. Destroy
// never blocks on the backend and is safe to call more than once.
func (e *Engine) Destroy() {
	e.destroyOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.ready = false
		started := e.started
		pending := e.queue
		e.queue = nil
		e.mu.Unlock()

		close(e.quit)
		for _, req := range pending {
			req.result <- Result{Err: domain.ErrEngineClosed}
		}
		if !started {
			e.releaseHandle()
			close(e.done)
		}
		e.log.Debug().Int("pending", len(pending)).Msg("engine destroyed")
	})
}

func (e *Engine) releaseHandle() {
	e.mu.Lock()
	h := e.handle
	e.handle = nil
	e.mu.Unlock()
	if h == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Msg("model release panicked")
		}
	}()
	h.Close()
}

// Info describes the engine for status endpoints.
func (e *Engine) Info(expiresAt time.Time) domain.EngineInfo {
	e.mu.Lock()
	version := e.version
	e.mu.Unlock()
	return domain.EngineInfo{
		ID:        e.id,
		From:      e.pair.From,
		To:        e.pair.To,
		Version:   version,
		Ready:     e.Ready(),
		Pending:   e.Pending(),
		LastUsed:  e.LastUsed(),
		ExpiresAt: expiresAt,
	}
}
