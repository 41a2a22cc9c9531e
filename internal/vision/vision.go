package vision

import (
	"context"
	"encoding/base64"
	"regexp"
	"strconv"

	"github.com/example/thermoscan/internal/domain"
)

// Prompt is sent verbatim to every provider.
const Prompt = "You are an industrial monitoring system. Analyze this image of a machine temperature display. " +
	"Extract ONLY the numerical temperature value. Return JUST the number with no additional text or symbols."

const (
	// MaxOutputTokens caps answers so providers cannot ramble.
	MaxOutputTokens = 10
	// SamplingTemperature keeps answers close to deterministic.
	SamplingTemperature = 0.1

	imageMIMEType = "image/jpeg"
)

// Result is the outcome of one extraction call.
type Result struct {
	Temperature float64
	Outcome     domain.Outcome
	Answer      string
}

// Extractor turns raw image bytes into a single temperature value.
// Implementations hold no per-call state and are safe for concurrent use.
type Extractor interface {
	Extract(ctx context.Context, image []byte, credential string) (*Result, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, image []byte, credential string) (*Result, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, image []byte, credential string) (*Result, error) {
	return f(ctx, image, credential)
}

var numberPattern = regexp.MustCompile(`[-+]?\d+(?:\.\d+)?`)

// ParseTemperature returns the first signed decimal in answer. Providers do
// not reliably answer with a bare number.
func ParseTemperature(answer string) (float64, error) {
	match := numberPattern.FindString(answer)
	if match == "" {
		return 0, domain.ErrNoNumericValue.Withf("response: %q", answer)
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, domain.ErrNoNumericValue.Wrap(err)
	}
	return value, nil
}

// GenuineResult parses answer into a genuine Result.
func GenuineResult(answer string) (*Result, error) {
	value, err := ParseTemperature(answer)
	if err != nil {
		return nil, err
	}
	return &Result{Temperature: value, Outcome: domain.OutcomeGenuine, Answer: answer}, nil
}

// DataURL encodes image as a base64 JPEG data URL.
func DataURL(image []byte) string {
	return "data:" + imageMIMEType + ";base64," + base64.StdEncoding.EncodeToString(image)
}
