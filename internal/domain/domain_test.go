package domain

import (
	"errors"
	"fmt"
	"testing"
)

// ─── Language Codes ─────────────────────────────────────────────────────────

func TestNormalizeLanguage(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"auto", "auto"},
		{"AUTO", "auto"},
		{"en", "en"},
		{"en-GB", "en"},
		{"en_US", "en"},
		{"zh", "zh-Hans"},
		{"zh-CN", "zh-Hans"},
		{"zh-TW", "zh-Hant"},
		{"zh_hk", "zh-Hant"},
		{"zh-Hans", "zh-Hans"},
		{"ja-JP", "ja"},
		{"jp", "ja"},
		{"nb", "no"},
		{"fr-LU", "fr"},
		{"de", "de"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := NormalizeLanguage(tt.in); got != tt.want {
				t.Errorf("NormalizeLanguage(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIsCJK(t *testing.T) {
	for _, code := range []string{"zh-Hans", "zh-Hant", "ja", "ko"} {
		if !IsCJK(code) {
			t.Errorf("IsCJK(%q) = false, want true", code)
		}
	}
	for _, code := range []string{"en", "fr", "", "un"} {
		if IsCJK(code) {
			t.Errorf("IsCJK(%q) = true, want false", code)
		}
	}
}

func TestNormalizeDetected(t *testing.T) {
	if got := NormalizeDetected("zh"); got != "zh-Hans" {
		t.Errorf("NormalizeDetected(zh) = %q", got)
	}
	if got := NormalizeDetected("FR"); got != "fr" {
		t.Errorf("NormalizeDetected(FR) = %q", got)
	}
}

func TestArtifactRole_Alignment(t *testing.T) {
	if RoleModel.Alignment() != 256 {
		t.Errorf("model alignment = %d, want 256", RoleModel.Alignment())
	}
	for _, r := range []ArtifactRole{RoleLex, RoleSrcVocab, RoleTrgVocab, RoleQuality} {
		if r.Alignment() != 64 {
			t.Errorf("%s alignment = %d, want 64", r, r.Alignment())
		}
	}
}

// ─── Fault Classification ───────────────────────────────────────────────────

func TestIsFatalFault(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("bad request"), false},
		{"typed oob", &RuntimeFault{Kind: FaultOutOfBounds}, true},
		{"typed table", &RuntimeFault{Kind: FaultInvalidTable}, true},
		{"typed abort", &RuntimeFault{Kind: FaultAbort}, false},
		{"message", errors.New("RuntimeError: Out of bounds memory access"), true},
		{"wrapped", fmt.Errorf("translate: %w", &RuntimeFault{Kind: FaultInvalidMemory}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatalFault(tt.err); got != tt.want {
				t.Errorf("IsFatalFault() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsMemoryFault(t *testing.T) {
	if !IsMemoryFault(&FatalBackendError{Pair: PairKey{"en", "de"}, Err: errors.New("x")}) {
		t.Error("FatalBackendError should be a memory fault")
	}
	if !IsMemoryFault(errors.New("wasm trap: unreachable")) {
		t.Error("unreachable trap should be a memory fault")
	}
	if IsMemoryFault(errors.New("connection refused")) {
		t.Error("network error should not be a memory fault")
	}
	if IsMemoryFault(&RuntimeFault{Kind: FaultUnsupported}) {
		t.Error("unsupported runtime should not be retried as a memory fault")
	}
}

func TestIsUnsupportedRuntime(t *testing.T) {
	if !IsUnsupportedRuntime(&UnsupportedRuntimeError{Err: errors.New("no avx2")}) {
		t.Error("typed error not recognized")
	}
	if !IsUnsupportedRuntime(&RuntimeFault{Kind: FaultUnsupported, Msg: "illegal instruction"}) {
		t.Error("unsupported fault not recognized")
	}
	if IsUnsupportedRuntime(errors.New("CompileError: wasm-simd is not enabled")) {
		t.Error("untyped error must not be treated as unsupported")
	}
	if IsUnsupportedRuntime(errors.New("open /models/simd-test/model.bin: no such file or directory")) {
		t.Error("path containing simd matched")
	}
}

func TestUnsupportedRuntimeMessage(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"CompileError: wasm-simd is not enabled", true},
		{"Illegal instruction (core dumped)", true},
		{"GET https://cdn.example/simd/model.bin: 404", false},
		{"timeout", false},
	}
	for _, tt := range tests {
		if got := UnsupportedRuntimeMessage(tt.msg); got != tt.want {
			t.Errorf("UnsupportedRuntimeMessage(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestTypedErrors_Unwrap(t *testing.T) {
	base := errors.New("boom")
	pair := PairKey{From: "en", To: "ja"}

	errs := []error{
		&EngineInitError{Pair: pair, Err: base},
		&FatalBackendError{Pair: pair, Err: base},
		&UnsupportedRuntimeError{Err: base},
		&SegmentTranslationError{Segment: TextSegment{Language: "fr"}, Err: base},
		&DetectionFault{Op: "detect", Err: base},
	}
	for _, err := range errs {
		if !errors.Is(err, base) {
			t.Errorf("%T does not unwrap to base error", err)
		}
	}
}

func TestPairKey(t *testing.T) {
	k := PairKey{From: "en", To: "zh-Hans"}
	if k.String() != "en-zh-Hans" {
		t.Errorf("String() = %q", k.String())
	}
	if k.Dir() != "en_zh-Hans" {
		t.Errorf("Dir() = %q", k.Dir())
	}
}
