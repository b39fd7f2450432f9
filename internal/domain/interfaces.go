package domain

import "context"

// ─── Capability Interfaces ──────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; the translation core depends on them.

// LoadRequest carries everything a backend needs to instantiate one model.
// Artifacts are already copied into buffers aligned per Alignments.
type LoadRequest struct {
	Pair       PairKey
	Artifacts  map[ArtifactRole][]byte
	Alignments map[ArtifactRole]int
	Files      ModelFiles
	Config     string
}

// InferenceBackend loads translation models into an opaque runtime.
// Runtime faults must be returned as *RuntimeFault.
type InferenceBackend interface {
	LoadModel(ctx context.Context, req LoadRequest) (ModelHandle, error)
	Close()
}

// ModelHandle is one loaded model and its service. It is not re-entrant:
// callers must serialize Translate calls.
type ModelHandle interface {
	// Translate runs one batch. The returned batch must be released.
	Translate(ctx context.Context, texts []string, opts []TranslateOptions) (ResponseBatch, error)

	// Close frees the model and service. Safe to call more than once.
	Close()
}

// ResponseBatch holds backend-owned translation results.
type ResponseBatch interface {
	Len() int
	Text(i int) string
	Release()
}

// LanguageIdentifier classifies the language of a byte span.
// Runtime faults must be returned as *RuntimeFault.
type LanguageIdentifier interface {
	Classify(text string, plainText bool) (Classification, error)
}

// IdentifierFactory builds a fresh identifier. The detector calls it lazily
// and again after a fault.
type IdentifierFactory func() (LanguageIdentifier, error)

// ModelResources resolves and downloads model artifacts and answers
// catalog questions.
type ModelResources interface {
	// EnsureDownloaded fetches any missing or stale artifacts for the pair
	// and returns their local paths.
	EnsureDownloaded(ctx context.Context, from, to string) (ModelFiles, error)

	// Resolve returns local artifact paths without touching the network.
	Resolve(from, to string) (ModelFiles, error)

	// HasDirectPair reports whether the catalog lists a model for the pair.
	HasDirectPair(from, to string) bool

	// ModelVersion returns the record version of the pair's model, or ""
	// when the catalog does not list one.
	ModelVersion(from, to string) string
}

// TranslationCache stores finished translations.
type TranslationCache interface {
	Get(key string) (string, bool)
	Put(key, value string)
}
