// This file implements the production inference backend: each loaded model
// runs in its own translation worker process, reached over a local HTTP port.
//
//	Registry.GetOrCreate("en", "de") → Engine.Initialize → SubprocessBackend.LoadModel
//	  → starts mtran-worker with the model, lexicon and vocab files
//	  → returns subprocessHandle (proxy to the worker's HTTP API)
//	    → Translate() calls POST /translate on the worker
//	  → Close() asks the worker to shut down, then kills it
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tutu-network/mtran/internal/domain"
)

// WorkerBinary is the executable name looked up in <home>/bin and PATH.
const WorkerBinary = "mtran-worker"

// ─── Subprocess Backend ─────────────────────────────────────────────────────

// SubprocessBackend starts one worker process per loaded model.
type SubprocessBackend struct {
	workerPath string
	log        zerolog.Logger
}

// NewSubprocessBackend locates the worker binary. An explicit path wins;
// otherwise <home>/bin and PATH are searched.
func NewSubprocessBackend(home, workerPath string, logger zerolog.Logger) (*SubprocessBackend, error) {
	path, err := findWorker(home, workerPath)
	if err != nil {
		return nil, err
	}
	return &SubprocessBackend{
		workerPath: path,
		log:        logger.With().Str("component", "worker").Logger(),
	}, nil
}

// Path returns the resolved worker executable.
func (b *SubprocessBackend) Path() string { return b.workerPath }

func findWorker(home, explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("translation worker %q: %w", explicit, err)
		}
		return explicit, nil
	}

	exe := WorkerBinary
	if runtime.GOOS == "windows" {
		exe += ".exe"
	}
	binPath := filepath.Join(home, "bin", exe)
	if _, err := os.Stat(binPath); err == nil {
		return binPath, nil
	}
	if path, err := exec.LookPath(exe); err == nil {
		return path, nil
	}

	return "", fmt.Errorf(`%s not found

The server needs a translation worker to run models.
Place the %s executable in one of:
  → %s
  → any folder in your system PATH
or set engine.worker_path in config.toml`, exe, exe, filepath.Join(home, "bin"))
}

// LoadModel starts a worker for req.Files and waits until it reports healthy.
// ctx bounds the wait.
func (b *SubprocessBackend) LoadModel(ctx context.Context, req domain.LoadRequest) (domain.ModelHandle, error) {
	for _, role := range domain.RequiredRoles {
		path := req.Files[role]
		if path == "" {
			return nil, fmt.Errorf("%w: %s", domain.ErrArtifactMissing, role)
		}
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", domain.ErrArtifactMissing, role, err)
		}
	}

	cfg, err := os.CreateTemp("", "mtran-"+req.Pair.Dir()+"-*.yml")
	if err != nil {
		return nil, fmt.Errorf("write worker config: %w", err)
	}
	if _, err := cfg.WriteString(req.Config); err != nil {
		cfg.Close()
		os.Remove(cfg.Name())
		return nil, fmt.Errorf("write worker config: %w", err)
	}
	cfg.Close()

	port, err := findFreePort()
	if err != nil {
		os.Remove(cfg.Name())
		return nil, fmt.Errorf("find free port: %w", err)
	}

	args := []string{
		"--host", "127.0.0.1",
		"--port", fmt.Sprintf("%d", port),
		"--from", req.Pair.From,
		"--to", req.Pair.To,
		"--model", req.Files[domain.RoleModel],
		"--lex", req.Files[domain.RoleLex],
		"--srcvocab", req.Files[domain.RoleSrcVocab],
		"--trgvocab", req.Files[domain.RoleTrgVocab],
		"--config", cfg.Name(),
	}
	if q := req.Files[domain.RoleQuality]; q != "" {
		args = append(args, "--quality", q)
	}

	stderrBuf := &limitedBuffer{max: 8192}
	cmd := exec.Command(b.workerPath, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = stderrBuf
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		os.Remove(cfg.Name())
		return nil, fmt.Errorf("start %s: %w", WorkerBinary, err)
	}

	h := &subprocessHandle{
		cmd:        cmd,
		addr:       fmt.Sprintf("http://127.0.0.1:%d", port),
		configPath: cfg.Name(),
		stderr:     stderrBuf,
		exited:     make(chan struct{}),
		client:     &http.Client{Timeout: 5 * time.Minute},
	}
	go func() {
		h.exitErr = cmd.Wait()
		close(h.exited)
	}()

	b.log.Debug().Str("pair", req.Pair.String()).Int("port", port).Msg("waiting for worker")
	if err := waitForWorker(ctx, h.addr, h.exited, stderrBuf); err != nil {
		h.Close()
		return nil, err
	}
	b.log.Info().Str("pair", req.Pair.String()).Int("pid", cmd.Process.Pid).Msg("worker ready")
	return h, nil
}

// Close is a no-op; handles own their processes.
func (b *SubprocessBackend) Close() {}

// ─── subprocessHandle ───────────────────────────────────────────────────────

type subprocessHandle struct {
	cmd        *exec.Cmd
	addr       string
	configPath string
	stderr     *limitedBuffer
	client     *http.Client

	exited  chan struct{}
	exitErr error

	closeOnce sync.Once
}

type workerRequest struct {
	Texts   []string        `json:"texts"`
	Options []workerOptions `json:"options"`
}

type workerOptions struct {
	HTML          bool `json:"html"`
	QualityScores bool `json:"quality_scores"`
	Alignment     bool `json:"alignment"`
}

type workerResponse struct {
	Translations []string `json:"translations"`
	Error        string   `json:"error,omitempty"`
	Fault        string   `json:"fault,omitempty"`
}

func (h *subprocessHandle) Translate(ctx context.Context, texts []string, opts []domain.TranslateOptions) (domain.ResponseBatch, error) {
	select {
	case <-h.exited:
		return nil, h.exitFault()
	default:
	}

	body := workerRequest{Texts: texts, Options: make([]workerOptions, len(opts))}
	for i, o := range opts {
		body.Options[i] = workerOptions{HTML: o.HTML, QualityScores: o.QualityScores, Alignment: o.Alignment}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.addr+"/translate", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		select {
		case <-h.exited:
			return nil, h.exitFault()
		default:
		}
		return nil, fmt.Errorf("worker request failed: %w", err)
	}
	defer resp.Body.Close()

	var out workerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode worker response (status %d): %w", resp.StatusCode, err)
	}
	if out.Fault != "" {
		return nil, &domain.RuntimeFault{Kind: domain.FaultKind(out.Fault), Msg: out.Error}
	}
	if resp.StatusCode != http.StatusOK || out.Error != "" {
		return nil, fmt.Errorf("worker error %d: %s", resp.StatusCode, out.Error)
	}
	if len(out.Translations) != len(texts) {
		return nil, fmt.Errorf("worker returned %d translations for %d texts", len(out.Translations), len(texts))
	}
	return stringBatch(out.Translations), nil
}

// exitFault reports a dead worker as an abort, or as an unsupported runtime
// when its output says the CPU lacks a required instruction set.
func (h *subprocessHandle) exitFault() error {
	stderr := strings.TrimSpace(h.stderr.String())
	msg := fmt.Sprintf("worker exited unexpectedly (exit: %v)", h.exitErr)
	if stderr != "" {
		msg += ": " + lastLines(stderr, 5)
	}
	if domain.UnsupportedRuntimeMessage(stderr) {
		return &domain.RuntimeFault{Kind: domain.FaultUnsupported, Msg: msg}
	}
	return &domain.RuntimeFault{Kind: domain.FaultAbort, Msg: msg}
}

// Close stops the worker: a graceful /shutdown first, then a kill.
func (h *subprocessHandle) Close() {
	h.closeOnce.Do(func() {
		defer os.Remove(h.configPath)

		select {
		case <-h.exited:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.addr+"/shutdown", nil); err == nil {
			if resp, err := h.client.Do(req); err == nil {
				resp.Body.Close()
			}
		}

		if h.cmd.Process != nil {
			h.cmd.Process.Kill() //nolint:errcheck
		}
		select {
		case <-h.exited:
		case <-time.After(5 * time.Second):
		}
	})
}

type stringBatch []string

func (b stringBatch) Len() int          { return len(b) }
func (b stringBatch) Text(i int) string { return b[i] }
func (b stringBatch) Release()          {}

// ─── Helpers ────────────────────────────────────────────────────────────────

// findFreePort asks the OS for an available TCP port.
func findFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port, nil
}

// waitForWorker polls /health until the worker answers, the worker exits,
// or ctx is done.
func waitForWorker(ctx context.Context, addr string, exited <-chan struct{}, stderrBuf *limitedBuffer) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-exited:
			stderr := strings.TrimSpace(stderrBuf.String())
			if domain.UnsupportedRuntimeMessage(stderr) {
				return &domain.UnsupportedRuntimeError{Err: errors.New(lastLines(stderr, 5))}
			}
			if stderr != "" {
				return &domain.RuntimeFault{Kind: domain.FaultAbort, Msg: "worker exited during load: " + lastLines(stderr, 10)}
			}
			return &domain.RuntimeFault{Kind: domain.FaultAbort, Msg: "worker exited during load"}
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/health", nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return nil
		}
	}
}

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// limitedBuffer is a thread-safe buffer that keeps only the last max bytes.
type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := b.buf.Write(p)
	if b.buf.Len() > b.max {
		data := b.buf.Bytes()
		keep := append([]byte(nil), data[len(data)-b.max:]...)
		b.buf.Reset()
		b.buf.Write(keep)
	}
	return n, err
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
