package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tutu-network/mtran/internal/domain"
)

// ─── Mock Backend (for testing without a worker binary) ─────────────────────

// mockCallLog bounds the recorded call history. The daemon falls back to
// the mock backend when no worker is installed, so the log must not grow
// with traffic.
const mockCallLog = 256

// MockCall records one backend translation.
type MockCall struct {
	Pair domain.PairKey
	Text string
	Opts domain.TranslateOptions
}

// MockBackend implements domain.InferenceBackend in memory. By default a
// translation is the upper-cased input. Faults can be queued per pair.
type MockBackend struct {
	// TranslateFunc overrides the default transformation.
	TranslateFunc func(pair domain.PairKey, text string, opts domain.TranslateOptions) (string, error)

	// LoadDelay is slept inside LoadModel, honoring ctx.
	LoadDelay time.Duration

	// LoadErr is returned by every LoadModel call when set.
	LoadErr error

	loads        atomic.Int32
	closed       atomic.Int32
	translations atomic.Int64

	mu     sync.Mutex
	faults map[domain.PairKey][]error
	calls  []MockCall
	loaded map[domain.PairKey]int
}

func NewMockBackend() *MockBackend {
	return &MockBackend{
		faults: make(map[domain.PairKey][]error),
		loaded: make(map[domain.PairKey]int),
	}
}

// FailNext makes the next translate calls for pair return errs, in order.
func (m *MockBackend) FailNext(pair domain.PairKey, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[pair] = append(m.faults[pair], errs...)
}

// Loads returns the total number of LoadModel calls.
func (m *MockBackend) Loads() int { return int(m.loads.Load()) }

// LoadsFor returns the number of successful loads for pair.
func (m *MockBackend) LoadsFor(pair domain.PairKey) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded[pair]
}

// Released returns the number of handles closed.
func (m *MockBackend) Released() int { return int(m.closed.Load()) }

// Translations returns the total number of texts translated.
func (m *MockBackend) Translations() int { return int(m.translations.Load()) }

// Calls returns a copy of the most recent recorded translations, oldest
// first.
func (m *MockBackend) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

func (m *MockBackend) LoadModel(ctx context.Context, req domain.LoadRequest) (domain.ModelHandle, error) {
	m.loads.Add(1)

	if m.LoadDelay > 0 {
		select {
		case <-time.After(m.LoadDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	for role, buf := range req.Artifacts {
		if !isAligned(buf, req.Alignments[role]) {
			return nil, &domain.RuntimeFault{Kind: domain.FaultAbort, Msg: fmt.Sprintf("artifact %s not %d-byte aligned", role, req.Alignments[role])}
		}
	}
	if !strings.Contains(req.Config, "beam-size:") {
		return nil, fmt.Errorf("mock: config string missing beam-size")
	}

	m.mu.Lock()
	m.loaded[req.Pair]++
	m.mu.Unlock()
	return &mockHandle{backend: m, pair: req.Pair}, nil
}

func (m *MockBackend) Close() {}

func (m *MockBackend) nextFault(pair domain.PairKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	queue := m.faults[pair]
	if len(queue) == 0 {
		return nil
	}
	m.faults[pair] = queue[1:]
	return queue[0]
}

func (m *MockBackend) record(call MockCall) {
	m.translations.Add(1)
	m.mu.Lock()
	if len(m.calls) >= mockCallLog {
		m.calls = append(m.calls[:0], m.calls[len(m.calls)-mockCallLog+1:]...)
	}
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

// ─── Mock Handle ────────────────────────────────────────────────────────────

type mockHandle struct {
	backend *MockBackend
	pair    domain.PairKey
	busy    atomic.Bool
	closed  atomic.Bool
}

func (h *mockHandle) Translate(ctx context.Context, texts []string, opts []domain.TranslateOptions) (domain.ResponseBatch, error) {
	if h.closed.Load() {
		return nil, domain.ErrBackendClosed
	}
	if !h.busy.CompareAndSwap(false, true) {
		return nil, &domain.RuntimeFault{Kind: domain.FaultInvalidTable, Msg: "mock: concurrent call on non-reentrant handle"}
	}
	defer h.busy.Store(false)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := h.backend.nextFault(h.pair); err != nil {
		return nil, err
	}

	out := make([]string, len(texts))
	for i, text := range texts {
		var o domain.TranslateOptions
		if i < len(opts) {
			o = opts[i]
		}
		h.backend.record(MockCall{Pair: h.pair, Text: text, Opts: o})
		if fn := h.backend.TranslateFunc; fn != nil {
			translated, err := fn(h.pair, text, o)
			if err != nil {
				return nil, err
			}
			out[i] = translated
			continue
		}
		out[i] = strings.ToUpper(text)
	}
	return &mockBatch{texts: out}, nil
}

func (h *mockHandle) Close() {
	if h.closed.CompareAndSwap(false, true) {
		h.backend.closed.Add(1)
	}
}

type mockBatch struct {
	texts    []string
	released bool
}

func (b *mockBatch) Len() int          { return len(b.texts) }
func (b *mockBatch) Text(i int) string { return b.texts[i] }
func (b *mockBatch) Release()          { b.released = true }
