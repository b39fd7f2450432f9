package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/tutu-network/mtran/internal/domain"
	"github.com/tutu-network/mtran/internal/infra/metrics"
)

// ─── Engine Registry ────────────────────────────────────────────────────────
// One engine per ordered language pair. Creation is single-flight per pair,
// every entry carries its own idle timer, and an engine that reports a fatal
// backend fault is evicted so the next request rebuilds it.

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	IdleTimeout time.Duration // 0 disables idle eviction
	Offline     bool          // resolve local files only, never download
	Engine      Options
	Logger      zerolog.Logger
}

// Registry maps language pairs to live engines.
type Registry struct {
	backend   domain.InferenceBackend
	resources domain.ModelResources
	opts      RegistryOptions
	log       zerolog.Logger

	mu      sync.Mutex
	engines map[domain.PairKey]*registryEntry
	group   singleflight.Group
}

type registryEntry struct {
	engine    *Engine
	timer     *time.Timer
	expiresAt time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(backend domain.InferenceBackend, resources domain.ModelResources, opts RegistryOptions) *Registry {
	return &Registry{
		backend:   backend,
		resources: resources,
		opts:      opts,
		log:       opts.Logger.With().Str("component", "registry").Logger(),
		engines:   make(map[domain.PairKey]*registryEntry),
	}
}

// GetOrCreate returns the ready engine for from→to, creating it on first
// use. Concurrent callers for the same pair share one creation.
func (r *Registry) GetOrCreate(ctx context.Context, from, to string) (*Engine, error) {
	key := domain.PairKey{From: from, To: to}

	if eng := r.lookup(key); eng != nil {
		return eng, nil
	}

	ch := r.group.DoChan(key.String(), func() (any, error) {
		return r.create(context.WithoutCancel(ctx), key)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Engine), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// lookup returns a ready engine and refreshes its idle timer. An entry whose
// timer already fired, or whose engine is no longer ready, is dropped.
func (r *Registry) lookup(key domain.PairKey) *Engine {
	r.mu.Lock()
	ent, ok := r.engines[key]
	if !ok {
		r.mu.Unlock()
		return nil
	}
	if ent.engine.Ready() && r.refresh(ent) {
		r.mu.Unlock()
		return ent.engine
	}
	delete(r.engines, key)
	metrics.EnginesLoaded.Set(float64(len(r.engines)))
	r.mu.Unlock()

	ent.engine.Destroy()
	return nil
}

// refresh restarts the entry's idle timer. It returns false when the timer
// has already fired and the entry is on its way out. Caller holds r.mu.
func (r *Registry) refresh(ent *registryEntry) bool {
	if ent.timer == nil {
		return true
	}
	if !ent.timer.Stop() {
		return false
	}
	ent.timer.Reset(r.opts.IdleTimeout)
	ent.expiresAt = time.Now().Add(r.opts.IdleTimeout)
	return true
}

func (r *Registry) create(ctx context.Context, key domain.PairKey) (*Engine, error) {
	if eng := r.lookup(key); eng != nil {
		return eng, nil
	}

	start := time.Now()
	log := r.log.With().Str("pair", key.String()).Logger()
	log.Info().Bool("offline", r.opts.Offline).Msg("creating engine")

	var (
		files domain.ModelFiles
		err   error
	)
	if r.opts.Offline {
		files, err = r.resources.Resolve(key.From, key.To)
	} else {
		files, err = r.resources.EnsureDownloaded(ctx, key.From, key.To)
	}
	if err != nil {
		return nil, fmt.Errorf("prepare model %s: %w", key, err)
	}

	bundle, err := LoadBundle(key, r.resources.ModelVersion(key.From, key.To), files)
	if err != nil {
		return nil, err
	}

	opts := r.opts.Engine
	opts.Logger = r.opts.Logger.With().Str("component", "engine").Logger()
	opts.OnFatal = func(e *Engine) {
		r.evict(key, e, "fault")
	}
	eng := New(key, r.backend, opts)
	if err := eng.Initialize(ctx, bundle); err != nil {
		eng.Destroy()
		return nil, err
	}

	ent := &registryEntry{engine: eng}
	if r.opts.IdleTimeout > 0 {
		ent.expiresAt = time.Now().Add(r.opts.IdleTimeout)
		ent.timer = time.AfterFunc(r.opts.IdleTimeout, func() {
			r.evict(key, eng, "idle")
		})
	}

	r.mu.Lock()
	old := r.engines[key]
	r.engines[key] = ent
	metrics.EnginesLoaded.Set(float64(len(r.engines)))
	r.mu.Unlock()
	if old != nil {
		stopTimer(old)
		old.engine.Destroy()
	}

	metrics.EngineLoads.WithLabelValues(key.String()).Inc()
	metrics.EngineLoadLatency.Observe(time.Since(start).Seconds())
	log.Info().Str("engine", eng.ID()).Dur("took", time.Since(start)).Msg("engine registered")
	return eng, nil
}

// Evict destroys and removes the engine for key, but only if eng is still
// the registered instance. A nil eng evicts whatever is registered.
func (r *Registry) Evict(key domain.PairKey, eng *Engine) {
	r.evict(key, eng, "fault")
}

func (r *Registry) evict(key domain.PairKey, eng *Engine, reason string) {
	r.mu.Lock()
	ent, ok := r.engines[key]
	if !ok || (eng != nil && ent.engine != eng) {
		r.mu.Unlock()
		if eng != nil {
			eng.Destroy()
		}
		return
	}
	delete(r.engines, key)
	metrics.EnginesLoaded.Set(float64(len(r.engines)))
	r.mu.Unlock()

	stopTimer(ent)
	ent.engine.Destroy()
	metrics.EngineEvictions.WithLabelValues(reason).Inc()
	r.log.Info().Str("pair", key.String()).Str("engine", ent.engine.ID()).Str("reason", reason).Msg("engine evicted")
}

// CleanupAll destroys every engine. Timers are stopped before any engine is
// destroyed.
func (r *Registry) CleanupAll() {
	r.mu.Lock()
	entries := make([]*registryEntry, 0, len(r.engines))
	for _, ent := range r.engines {
		stopTimer(ent)
		entries = append(entries, ent)
	}
	r.engines = make(map[domain.PairKey]*registryEntry)
	metrics.EnginesLoaded.Set(0)
	r.mu.Unlock()

	for _, ent := range entries {
		ent.engine.Destroy()
		metrics.EngineEvictions.WithLabelValues("shutdown").Inc()
	}
	if len(entries) > 0 {
		r.log.Info().Int("engines", len(entries)).Msg("all engines released")
	}
}

// Len returns the number of registered engines.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}

// List describes every registered engine, sorted by pair.
func (r *Registry) List() []domain.EngineInfo {
	r.mu.Lock()
	infos := make([]domain.EngineInfo, 0, len(r.engines))
	for _, ent := range r.engines {
		infos = append(infos, ent.engine.Info(ent.expiresAt))
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].From != infos[j].From {
			return infos[i].From < infos[j].From
		}
		return infos[i].To < infos[j].To
	})
	return infos
}

func stopTimer(ent *registryEntry) {
	if ent.timer != nil {
		ent.timer.Stop()
	}
}
