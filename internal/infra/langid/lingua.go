// Package langid provides the default language identifier, backed by
// lingua-go's n-gram models.
package langid

import (
	"fmt"
	"regexp"
	"strings"

	lingua "github.com/pemistahl/lingua-go"

	"github.com/tutu-network/mtran/internal/domain"
)

const maxGuesses = 3

// reliableConfidence is the top-guess confidence at or above which a
// classification is reported as reliable.
const reliableConfidence = 0.5

var tagRe = regexp.MustCompile(`<[^>]*>`)

// Options selects the languages the identifier chooses between.
type Options struct {
	// Languages restricts detection to these ISO 639-1 codes. Empty means all.
	Languages []string
	// LowAccuracy trades accuracy on short text for speed and memory.
	LowAccuracy bool
}

// Lingua implements domain.LanguageIdentifier.
type Lingua struct {
	detector lingua.LanguageDetector
}

// New builds a detector. lingua panics on invalid builder input; that is
// returned as an error.
func New(opts Options) (id *Lingua, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("build language detector: %v", r)
		}
	}()

	builder := lingua.NewLanguageDetectorBuilder()
	var configured lingua.LanguageDetectorBuilder
	if len(opts.Languages) == 0 {
		configured = builder.FromAllLanguages()
	} else {
		codes := make([]lingua.IsoCode639_1, 0, len(opts.Languages))
		for _, c := range opts.Languages {
			code := lingua.GetIsoCode639_1FromValue(strings.ToUpper(c))
			if code == lingua.UnknownIsoCode639_1 {
				return nil, fmt.Errorf("unsupported detector language %q", c)
			}
			codes = append(codes, code)
		}
		configured = builder.FromIsoCodes639_1(codes...)
	}
	if opts.LowAccuracy {
		configured = configured.WithLowAccuracyMode()
	}
	return &Lingua{detector: configured.Build()}, nil
}

// Factory returns a domain.IdentifierFactory building fresh detectors.
func Factory(opts Options) domain.IdentifierFactory {
	return func() (domain.LanguageIdentifier, error) {
		return New(opts)
	}
}

// Classify returns the top language and up to three ranked guesses. Markup
// is removed first unless plainText is set. A panic inside the model is
// reported as a *domain.RuntimeFault.
func (l *Lingua) Classify(text string, plainText bool) (c domain.Classification, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.RuntimeFault{Kind: domain.FaultAbort, Msg: fmt.Sprintf("RuntimeError: language identifier: %v", r)}
		}
	}()

	if !plainText {
		text = tagRe.ReplaceAllString(text, " ")
	}

	values := l.detector.ComputeLanguageConfidenceValues(text)
	c.Code = domain.LangUnknown
	for _, v := range values {
		if len(c.Guesses) == maxGuesses {
			break
		}
		if v.Language() == lingua.Unknown || v.Value() <= 0 {
			continue
		}
		c.Guesses = append(c.Guesses, domain.Guess{
			Code:    strings.ToLower(v.Language().IsoCode639_1().String()),
			Percent: int(v.Value()*100 + 0.5),
		})
	}
	if len(c.Guesses) > 0 {
		c.Code = c.Guesses[0].Code
		c.Reliable = values[0].Value() >= reliableConfidence
	}
	return c, nil
}
