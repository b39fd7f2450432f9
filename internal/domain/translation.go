// Package domain holds the translation server's core types, capability
// interfaces and errors. It has no infrastructure dependencies.
package domain

import (
	"fmt"
	"time"
)

// PairKey identifies one engine: an ordered, concrete language pair.
type PairKey struct {
	From string
	To   string
}

func (k PairKey) String() string { return fmt.Sprintf("%s-%s", k.From, k.To) }

// Dir returns the directory name used for the pair's model files.
func (k PairKey) Dir() string { return k.From + "_" + k.To }

// ArtifactRole names one binary artifact of a model bundle.
type ArtifactRole string

const (
	RoleModel    ArtifactRole = "model"
	RoleLex      ArtifactRole = "lex"
	RoleSrcVocab ArtifactRole = "srcvocab"
	RoleTrgVocab ArtifactRole = "trgvocab"
	RoleQuality  ArtifactRole = "qualityModel"
)

// RequiredRoles are the artifacts every bundle must carry.
var RequiredRoles = []ArtifactRole{RoleModel, RoleLex, RoleSrcVocab, RoleTrgVocab}

// Alignment returns the minimum buffer alignment the runtime expects for an
// artifact role.
func (r ArtifactRole) Alignment() int {
	if r == RoleModel {
		return 256
	}
	return 64
}

// ModelFiles maps artifact roles to local file paths.
type ModelFiles map[ArtifactRole]string

// ModelBundle is the loaded, immutable set of artifacts for one pair.
type ModelBundle struct {
	Pair      PairKey
	Version   string
	Artifacts map[ArtifactRole][]byte
	Files     ModelFiles
}

// TranslateOptions are per-request backend options.
type TranslateOptions struct {
	HTML          bool
	QualityScores bool
	Alignment     bool
}

// TextSegment is a span of the input attributed to one language.
// Start and End are byte offsets into the parent string.
type TextSegment struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Detection is a single-language detection result.
type Detection struct {
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
}

// Guess is one ranked classifier guess.
type Guess struct {
	Code    string
	Percent int
}

// Classification is the raw output of a LanguageIdentifier.
type Classification struct {
	Code     string
	Reliable bool
	Guesses  []Guess
}

// TopPercent returns the top guess percentage, or 0.
func (c Classification) TopPercent() int {
	if len(c.Guesses) == 0 {
		return 0
	}
	return c.Guesses[0].Percent
}

// EngineInfo describes a loaded engine for status reporting.
type EngineInfo struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Version   string    `json:"version,omitempty"`
	Ready     bool      `json:"ready"`
	Pending   int       `json:"pending"`
	LastUsed  time.Time `json:"last_used"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LanguagePair is a source/target pair with a direct model record.
type LanguagePair struct {
	From string `json:"from"`
	To   string `json:"to"`
}
