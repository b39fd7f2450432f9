package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors carry no infrastructure dependency.

var (
	// Model errors
	ErrModelNotFound    = errors.New("model not found")
	ErrModelCorrupted   = errors.New("model integrity check failed")
	ErrArtifactMissing  = errors.New("model artifact missing")
	ErrNoDirectPair     = errors.New("no model record for language pair")
	ErrRecordsNotLoaded = errors.New("model records not loaded")

	// Engine errors
	ErrEngineNotReady = errors.New("engine not initialized")
	ErrEngineClosed   = errors.New("engine destroyed")
	ErrInitTimeout    = errors.New("backend initialization timed out")
	ErrBackendClosed  = errors.New("backend model handle released")

	// Detection errors
	ErrDetectionFailed = errors.New("failed to detect source language")

	// Request errors
	ErrEmptyLanguage = errors.New("language code is required")
	ErrAutoTarget    = errors.New("target language cannot be auto")

	// Network errors
	ErrOffline = errors.New("offline mode: remote resources are unavailable")
)

// ─── Runtime Faults ─────────────────────────────────────────────────────────
// Inference backends and language identifiers run inside a sandboxed native
// runtime. A fault means the instance's memory can no longer be trusted.

// FaultKind classifies a runtime fault.
type FaultKind string

const (
	FaultOutOfBounds   FaultKind = "out_of_bounds"
	FaultInvalidMemory FaultKind = "invalid_memory"
	FaultInvalidTable  FaultKind = "invalid_table"
	FaultUnreachable   FaultKind = "unreachable"
	FaultAbort         FaultKind = "abort"
	FaultUnsupported   FaultKind = "unsupported"
)

// RuntimeFault is returned by backends and identifiers for runtime-level
// failures, as opposed to ordinary request errors.
type RuntimeFault struct {
	Kind FaultKind
	Msg  string
}

func (f *RuntimeFault) Error() string {
	if f.Msg == "" {
		return "runtime fault: " + string(f.Kind)
	}
	return f.Msg
}

var fatalPatterns = []string{
	"out of bounds memory access",
	"invalid memory access",
	"invalid table access",
}

var memoryPatterns = []string{
	"out of bounds memory access",
	"memory access out of bounds",
	"unreachable",
	"abort",
}

var unsupportedPatterns = []string{
	"simd is not enabled",
	"illegal instruction",
}

// IsFatalFault reports whether err means the backend's internal tables or
// memory are corrupt. Those errors invalidate the whole engine instance.
func IsFatalFault(err error) bool {
	if err == nil {
		return false
	}
	var f *RuntimeFault
	if errors.As(err, &f) {
		switch f.Kind {
		case FaultOutOfBounds, FaultInvalidMemory, FaultInvalidTable:
			return true
		}
	}
	return containsAny(err.Error(), fatalPatterns)
}

// IsMemoryFault is the wider check used when deciding whether to rebuild an
// engine and retry: it also covers runtime aborts and unreachable traps.
func IsMemoryFault(err error) bool {
	if err == nil {
		return false
	}
	var f *RuntimeFault
	if errors.As(err, &f) && f.Kind != FaultUnsupported {
		return true
	}
	var fatal *FatalBackendError
	if errors.As(err, &fatal) {
		return true
	}
	return containsAny(err.Error(), memoryPatterns)
}

// IsUnsupportedRuntime reports whether err means the host cannot run the
// inference runtime at all (for example, a missing CPU SIMD extension).
// Only typed errors count; raw runtime output is classified at the backend
// boundary with UnsupportedRuntimeMessage.
func IsUnsupportedRuntime(err error) bool {
	if err == nil {
		return false
	}
	var u *UnsupportedRuntimeError
	if errors.As(err, &u) {
		return true
	}
	var f *RuntimeFault
	return errors.As(err, &f) && f.Kind == FaultUnsupported
}

// UnsupportedRuntimeMessage reports whether output from the inference
// runtime says the CPU lacks a required instruction set.
func UnsupportedRuntimeMessage(msg string) bool {
	return containsAny(msg, unsupportedPatterns)
}

func containsAny(msg string, patterns []string) bool {
	msg = strings.ToLower(msg)
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// ─── Typed Errors ───────────────────────────────────────────────────────────

// EngineInitError means an engine could not be brought up: an artifact is
// missing or the backend aborted during load.
type EngineInitError struct {
	Pair PairKey
	Err  error
}

func (e *EngineInitError) Error() string {
	return fmt.Sprintf("initialize engine %s: %v", e.Pair, e.Err)
}

func (e *EngineInitError) Unwrap() error { return e.Err }

// FatalBackendError means the backend reported memory or table corruption
// during a translation. The engine that produced it must be discarded.
type FatalBackendError struct {
	Pair PairKey
	Err  error
}

func (e *FatalBackendError) Error() string {
	return fmt.Sprintf("fatal backend error on %s: %v", e.Pair, e.Err)
}

func (e *FatalBackendError) Unwrap() error { return e.Err }

// UnsupportedRuntimeError is unrecoverable for the process.
type UnsupportedRuntimeError struct {
	Err error
}

func (e *UnsupportedRuntimeError) Error() string {
	return fmt.Sprintf("unsupported runtime: %v", e.Err)
}

func (e *UnsupportedRuntimeError) Unwrap() error { return e.Err }

// SegmentTranslationError wraps a failure translating one segment of a
// multi-segment request. The router recovers from it by keeping the
// original text.
type SegmentTranslationError struct {
	Segment TextSegment
	Err     error
}

func (e *SegmentTranslationError) Error() string {
	return fmt.Sprintf("translate segment [%d:%d] (%s): %v", e.Segment.Start, e.Segment.End, e.Segment.Language, e.Err)
}

func (e *SegmentTranslationError) Unwrap() error { return e.Err }

// DetectionFault is a language identifier runtime fault. It never leaves the
// detector; it is logged and counted.
type DetectionFault struct {
	Op  string
	Err error
}

func (e *DetectionFault) Error() string {
	return fmt.Sprintf("language identifier fault during %s: %v", e.Op, e.Err)
}

func (e *DetectionFault) Unwrap() error { return e.Err }
