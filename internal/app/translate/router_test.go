package translate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tutu-network/mtran/internal/domain"
	"github.com/tutu-network/mtran/internal/infra/cache"
	"github.com/tutu-network/mtran/internal/infra/engine"
)

// ─── Fakes ──────────────────────────────────────────────────────────────────

// fakeCatalog serves model files from a temp dir. Every pair has a model;
// direct lists the non-English pairs reported as direct.
type fakeCatalog struct {
	dir    string
	direct map[string]bool
	err    error
}

func (c *fakeCatalog) files(from, to string) (domain.ModelFiles, error) {
	if c.err != nil {
		return nil, c.err
	}
	dir := filepath.Join(c.dir, from+"_"+to)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	files := domain.ModelFiles{}
	for _, role := range domain.RequiredRoles {
		path := filepath.Join(dir, string(role)+".bin")
		if err := os.WriteFile(path, []byte(role), 0o644); err != nil {
			return nil, err
		}
		files[role] = path
	}
	return files, nil
}

func (c *fakeCatalog) EnsureDownloaded(_ context.Context, from, to string) (domain.ModelFiles, error) {
	return c.files(from, to)
}

func (c *fakeCatalog) Resolve(from, to string) (domain.ModelFiles, error) { return c.files(from, to) }

func (c *fakeCatalog) ModelVersion(from, to string) string { return "" }

func (c *fakeCatalog) HasDirectPair(from, to string) bool {
	return from == "en" || to == "en" || c.direct[from+"-"+to]
}

// fakeDetector returns canned answers.
type fakeDetector struct {
	language string
	segments func(text string) []domain.TextSegment
}

func (d *fakeDetector) DetectLanguage(string) string { return d.language }

func (d *fakeDetector) DetectMultipleLanguages(text string) []domain.TextSegment {
	if d.segments != nil {
		return d.segments(text)
	}
	if text == "" {
		return nil
	}
	return []domain.TextSegment{{Text: text, Language: d.language, End: len(text), Confidence: 1}}
}

type harness struct {
	router   *Router
	backend  *engine.MockBackend
	catalog  *fakeCatalog
	detector *fakeDetector

	mu          sync.Mutex
	unsupported []error
}

// tagged marks output with the target language so routes are visible.
func tagged(pair domain.PairKey, text string, _ domain.TranslateOptions) (string, error) {
	return pair.To + ":" + text, nil
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()
	h := &harness{
		backend:  engine.NewMockBackend(),
		catalog:  &fakeCatalog{dir: t.TempDir(), direct: map[string]bool{}},
		detector: &fakeDetector{language: "en"},
	}
	h.backend.TranslateFunc = tagged

	reg := engine.NewRegistry(h.backend, h.catalog, engine.RegistryOptions{
		IdleTimeout: time.Minute,
		Engine:      engine.DefaultOptions(),
		Logger:      zerolog.Nop(),
	})
	t.Cleanup(reg.CleanupAll)

	opts := DefaultOptions()
	opts.RetryBackoff = time.Millisecond
	opts.OnUnsupported = func(err error) {
		h.mu.Lock()
		h.unsupported = append(h.unsupported, err)
		h.mu.Unlock()
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.router = NewRouter(reg, h.detector, h.catalog, nil, opts, zerolog.Nop())
	return h
}

func (h *harness) translate(t *testing.T, from, to, text string, html bool) string {
	t.Helper()
	out, err := h.router.Translate(context.Background(), from, to, text, html)
	if err != nil {
		t.Fatalf("Translate(%s, %s) error: %v", from, to, err)
	}
	return out
}

// ─── Routing ────────────────────────────────────────────────────────────────

func TestTranslate_IdentityNeverLoadsEngine(t *testing.T) {
	h := newHarness(t, nil)

	if got := h.translate(t, "de", "de", "Hallo Welt", false); got != "Hallo Welt" {
		t.Errorf("identity = %q", got)
	}
	if got := h.translate(t, "zh-Hans", "zh-Hans", "你好世界", false); got != "你好世界" {
		t.Errorf("zh identity = %q", got)
	}
	if got := h.translate(t, "zh-Hans", "zh-Hans", "你好,世界", false); got != "你好,世界" {
		t.Errorf("zh identity with comma = %q, want input unchanged", got)
	}
	if got := h.translate(t, "auto", "de", "", false); got != "" {
		t.Errorf("empty text = %q", got)
	}
	if h.backend.Loads() != 0 {
		t.Errorf("Loads() = %d, want 0", h.backend.Loads())
	}
}

func TestTranslate_Direct(t *testing.T) {
	h := newHarness(t, nil)
	if got := h.translate(t, "en", "de", "Hello", false); got != "de:Hello" {
		t.Errorf("Translate() = %q, want de:Hello", got)
	}
	if got := h.translate(t, "fr", "en", "Bonjour", false); got != "en:Bonjour" {
		t.Errorf("Translate() = %q, want en:Bonjour", got)
	}
}

func TestTranslate_PivotThroughEnglish(t *testing.T) {
	h := newHarness(t, nil)

	if got := h.translate(t, "fr", "de", "Bonjour", false); got != "de:en:Bonjour" {
		t.Errorf("pivot = %q, want de:en:Bonjour", got)
	}
	if h.backend.LoadsFor(domain.PairKey{From: "fr", To: "en"}) != 1 ||
		h.backend.LoadsFor(domain.PairKey{From: "en", To: "de"}) != 1 {
		t.Error("pivot should load fr-en and en-de")
	}

	for _, c := range h.backend.Calls() {
		if c.Opts.HTML {
			t.Errorf("call %v used HTML", c.Pair)
		}
	}
}

func TestTranslate_PivotKeepsHTMLFlag(t *testing.T) {
	h := newHarness(t, nil)
	h.translate(t, "fr", "de", "<b>Bonjour</b>", true)

	calls := h.backend.Calls()
	if len(calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(calls))
	}
	for _, c := range calls {
		if !c.Opts.HTML {
			t.Errorf("call %v lost the HTML flag", c.Pair)
		}
	}
}

func TestTranslate_DirectPairSkipsPivot(t *testing.T) {
	h := newHarness(t, nil)
	h.catalog.direct["fr-de"] = true

	if got := h.translate(t, "fr", "de", "Bonjour", false); got != "de:Bonjour" {
		t.Errorf("Translate() = %q, want de:Bonjour", got)
	}
	if h.backend.Loads() != 1 {
		t.Errorf("Loads() = %d, want 1", h.backend.Loads())
	}
}

func TestTranslate_Validation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.router.Translate(ctx, "en", "auto", "x", false); !errors.Is(err, domain.ErrAutoTarget) {
		t.Errorf("auto target error = %v", err)
	}
	if _, err := h.router.Translate(ctx, "", "de", "x", false); !errors.Is(err, domain.ErrEmptyLanguage) {
		t.Errorf("empty source error = %v", err)
	}
}

// ─── Auto Detection & Segments ──────────────────────────────────────────────

func TestTranslate_AutoSingleSegment(t *testing.T) {
	h := newHarness(t, nil)
	h.detector.language = "fr"

	if got := h.translate(t, "auto", "en", "Bonjour", false); got != "en:Bonjour" {
		t.Errorf("Translate() = %q", got)
	}
}

func TestTranslate_AutoDetectedAsTarget(t *testing.T) {
	h := newHarness(t, nil)
	h.detector.language = "de"

	if got := h.translate(t, "auto", "de", "Guten Tag", false); got != "Guten Tag" {
		t.Errorf("Translate() = %q, want input unchanged", got)
	}
	if h.backend.Loads() != 0 {
		t.Errorf("Loads() = %d, want 0", h.backend.Loads())
	}
}

func TestTranslate_AutoDetectionFails(t *testing.T) {
	h := newHarness(t, nil)
	h.detector.language = ""
	h.detector.segments = func(string) []domain.TextSegment { return nil }

	_, err := h.router.Translate(context.Background(), "auto", "de", "???", false)
	if !errors.Is(err, domain.ErrDetectionFailed) {
		t.Errorf("error = %v, want ErrDetectionFailed", err)
	}
}

func mixedSegments(text string) []domain.TextSegment {
	cut := strings.Index(text, "你")
	return []domain.TextSegment{
		{Text: text[:cut], Language: "en", Start: 0, End: cut, Confidence: 0.9},
		{Text: text[cut:], Language: "zh-Hans", Start: cut, End: len(text), Confidence: 0.9},
	}
}

func TestTranslate_MixedCopiesTargetSegments(t *testing.T) {
	h := newHarness(t, nil)
	h.detector.segments = mixedSegments

	text := "Hello world. 你好世界。"
	got := h.translate(t, "auto", "en", text, false)
	if got != "Hello world. en:你好世界。" {
		t.Errorf("Translate() = %q", got)
	}
	for _, c := range h.backend.Calls() {
		if strings.Contains(c.Text, "Hello") {
			t.Error("target-language segment was sent to an engine")
		}
	}
}

func TestTranslate_MixedFailedSegmentKeepsOriginal(t *testing.T) {
	h := newHarness(t, nil)
	h.detector.segments = mixedSegments
	h.backend.TranslateFunc = func(pair domain.PairKey, text string, o domain.TranslateOptions) (string, error) {
		if pair.From == "zh-Hans" {
			return "", errors.New("model rejected input")
		}
		return tagged(pair, text, o)
	}

	text := "Hello world. 你好世界。"
	if got := h.translate(t, "auto", "de", text, false); got != "de:Hello world. 你好世界。" {
		t.Errorf("Translate() = %q", got)
	}
}

func TestTranslate_MixedPreservesGaps(t *testing.T) {
	h := newHarness(t, nil)
	h.detector.segments = func(text string) []domain.TextSegment {
		return []domain.TextSegment{
			{Text: text[2:7], Language: "fr", Start: 2, End: 7},
			{Text: text[9:14], Language: "de", Start: 9, End: 14},
		}
	}

	got := h.translate(t, "auto", "en", "..salut--hallo!!", false)
	if got != "..en:salut--en:hallo!!" {
		t.Errorf("Translate() = %q", got)
	}
}

// ─── Long Text ──────────────────────────────────────────────────────────────

func TestTranslate_LongTextSentenceBySentence(t *testing.T) {
	h := newHarness(t, nil)
	h.detector.language = "fr"

	text := strings.Repeat("Une phrase assez longue ici. ", 30)
	got := h.translate(t, "fr", "en", text, false)

	if want := strings.Repeat("en:Une phrase assez longue ici. ", 30); got != want {
		t.Errorf("Translate() = %q", got)
	}
	if n := len(h.backend.Calls()); n != 30 {
		t.Errorf("backend calls = %d, want one per sentence", n)
	}
}

func TestTranslate_LongTextFailedSentenceKeepsOriginal(t *testing.T) {
	h := newHarness(t, nil)
	h.detector.language = "fr"
	h.backend.TranslateFunc = func(pair domain.PairKey, text string, o domain.TranslateOptions) (string, error) {
		if strings.Contains(text, "MAUVAISE") {
			return "", errors.New("bad sentence")
		}
		return tagged(pair, text, o)
	}

	text := strings.Repeat("Une phrase assez longue ici. ", 20) + "MAUVAISE phrase. " + strings.Repeat("Encore une phrase ici. ", 5)
	got := h.translate(t, "fr", "en", text, false)
	if !strings.Contains(got, "MAUVAISE phrase. ") || strings.Contains(got, "en:MAUVAISE") {
		t.Errorf("failed sentence not kept verbatim: %q", got)
	}
	if !strings.HasPrefix(got, "en:Une phrase") || !strings.HasSuffix(got, "en:Encore une phrase ici. ") {
		t.Errorf("neighbouring sentences not translated: %q", got)
	}
}

func TestTranslate_LongHTMLNotPreSplit(t *testing.T) {
	h := newHarness(t, nil)
	h.detector.language = "fr"

	text := "<p>" + strings.Repeat("Une phrase. ", 60) + "</p>"
	h.translate(t, "fr", "en", text, true)
	for _, c := range h.backend.Calls() {
		if c.Text == "Une phrase. " {
			t.Fatal("HTML input was split at sentence level by the router")
		}
	}
}

// ─── Punctuation ────────────────────────────────────────────────────────────

func TestTranslate_FullwidthComma(t *testing.T) {
	h := newHarness(t, nil)
	if got := h.translate(t, "en", "zh-Hans", "a, b", false); got != "zh-Hans:a， b" {
		t.Errorf("plain = %q", got)
	}
	if got := h.translate(t, "en", "zh-Hant", "c, d", true); got != "zh-Hant:c, d" {
		t.Errorf("html = %q", got)
	}
	if got := h.translate(t, "en", "ja", "e, f", false); got != "ja:e, f" {
		t.Errorf("non-Chinese = %q", got)
	}

	if got := h.translate(t, "fr", "zh-Hans", "g, h", false); got != "zh-Hans:en:g， h" {
		t.Errorf("pivot = %q", got)
	}

	off := newHarness(t, func(o *Options) { o.FullwidthZhPunctuation = false })
	if got := off.translate(t, "en", "zh-Hans", "a, b", false); got != "zh-Hans:a, b" {
		t.Errorf("disabled = %q", got)
	}
}

func TestTranslate_FullwidthCommaSkipsCopiedText(t *testing.T) {
	h := newHarness(t, nil)
	h.detector.segments = mixedSegments

	got := h.translate(t, "auto", "zh-Hans", "Hello, world. 你好,世界", false)
	if got != "zh-Hans:Hello， world. 你好,世界" {
		t.Errorf("Translate() = %q, want only engine output punctuated", got)
	}

	h.detector.segments = nil
	h.detector.language = "zh-Hans"
	text := strings.Repeat("长句子,", 600)
	if got := h.translate(t, "auto", "zh-Hans", text, false); got != text {
		t.Error("detected-as-target text was not returned unchanged")
	}
	if h.backend.Loads() != 1 {
		t.Errorf("Loads() = %d, want only the en→zh engine", h.backend.Loads())
	}
}

// ─── Crash Recovery ─────────────────────────────────────────────────────────

func TestTranslate_CrashRebuildsEngine(t *testing.T) {
	h := newHarness(t, nil)
	pair := domain.PairKey{From: "en", To: "de"}
	h.backend.FailNext(pair, &domain.RuntimeFault{Kind: domain.FaultOutOfBounds, Msg: "Out of bounds memory access"})

	if got := h.translate(t, "en", "de", "Hello", false); got != "de:Hello" {
		t.Errorf("Translate() = %q", got)
	}
	if h.backend.Loads() != 2 {
		t.Errorf("Loads() = %d, want a fresh engine", h.backend.Loads())
	}
}

func TestTranslate_CrashRetriesExhausted(t *testing.T) {
	h := newHarness(t, nil)
	pair := domain.PairKey{From: "en", To: "de"}
	fault := &domain.RuntimeFault{Kind: domain.FaultInvalidMemory, Msg: "invalid memory access"}
	h.backend.FailNext(pair, fault, fault, fault)

	_, err := h.router.Translate(context.Background(), "en", "de", "Hello", false)
	var fatal *domain.FatalBackendError
	if !errors.As(err, &fatal) {
		t.Fatalf("error = %v, want FatalBackendError", err)
	}
	if h.backend.Loads() != 3 {
		t.Errorf("Loads() = %d, want 3 attempts", h.backend.Loads())
	}
}

func TestTranslate_OrdinaryErrorNotRetried(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.FailNext(domain.PairKey{From: "en", To: "de"}, errors.New("input rejected"))

	if _, err := h.router.Translate(context.Background(), "en", "de", "Hello", false); err == nil {
		t.Fatal("expected error")
	}
	if h.backend.Loads() != 1 {
		t.Errorf("Loads() = %d, want 1", h.backend.Loads())
	}
	if got := h.translate(t, "en", "de", "Hello", false); got != "de:Hello" {
		t.Errorf("engine should stay usable, got %q", got)
	}
}

func TestTranslate_UnsupportedRuntime(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.FailNext(domain.PairKey{From: "en", To: "de"},
		&domain.RuntimeFault{Kind: domain.FaultUnsupported, Msg: "wasm-simd is not enabled"})

	if _, err := h.router.Translate(context.Background(), "en", "de", "Hello", false); err == nil {
		t.Fatal("expected error")
	}
	if len(h.unsupported) != 1 {
		t.Errorf("unsupported hook calls = %d, want 1", len(h.unsupported))
	}
}

func TestTranslate_PrepareErrorNotUnsupported(t *testing.T) {
	h := newHarness(t, nil)
	h.catalog.err = errors.New("GET https://cdn.example/models/simd/model.ende.bin: 404 Not Found")

	if _, err := h.router.Translate(context.Background(), "en", "de", "Hello", false); err == nil {
		t.Fatal("expected error")
	}
	if len(h.unsupported) != 0 {
		t.Errorf("unsupported hook calls = %d, want 0 for a download failure", len(h.unsupported))
	}
}

// ─── Cache & Concurrency ────────────────────────────────────────────────────

func TestTranslate_Cache(t *testing.T) {
	h := newHarness(t, nil)
	lru, err := cache.New(16)
	if err != nil {
		t.Fatal(err)
	}
	h.router.cache = lru

	for i := 0; i < 3; i++ {
		if got := h.translate(t, "en", "de", "Hello", false); got != "de:Hello" {
			t.Fatalf("Translate() = %q", got)
		}
	}
	if n := len(h.backend.Calls()); n != 1 {
		t.Errorf("backend calls = %d, want 1", n)
	}

	h.translate(t, "en", "de", "Hello", true)
	if n := len(h.backend.Calls()); n != 2 {
		t.Errorf("HTML flag must be part of the key: calls = %d", n)
	}
}

func TestTranslate_ConcurrentFirstRequests(t *testing.T) {
	h := newHarness(t, nil)
	h.backend.LoadDelay = 30 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text := fmt.Sprintf("text %d", i)
			out, err := h.router.Translate(context.Background(), "en", "ja", text, false)
			if err != nil || out != "ja:"+text {
				t.Errorf("Translate(%q) = %q, %v", text, out, err)
			}
		}(i)
	}
	wg.Wait()
	if h.backend.Loads() != 1 {
		t.Errorf("Loads() = %d, want 1", h.backend.Loads())
	}
}

func TestTranslateBatch(t *testing.T) {
	h := newHarness(t, nil)
	got, err := h.router.TranslateBatch(context.Background(), "en", "de", []string{"one", "two", ""}, false)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"de:one", "de:two", ""}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("results[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
