package vision

import (
	"context"
	"math"
	"math/rand"

	"go.uber.org/zap"

	"github.com/example/thermoscan/internal/domain"
)

const (
	SimulatedMin = 25.0
	SimulatedMax = 40.0
)

type freeTierKey struct{}

// WithFreeTierCredential marks ctx as a call made under the public free-tier
// token because no caller or configured credential was available.
func WithFreeTierCredential(ctx context.Context) context.Context {
	return context.WithValue(ctx, freeTierKey{}, true)
}

func usingFreeTier(ctx context.Context) bool {
	v, _ := ctx.Value(freeTierKey{}).(bool)
	return v
}

// FreeTier wraps a provider whose public token is known to be degraded. When
// the call was marked with WithFreeTierCredential and failed to extract, it
// answers with a random value in [SimulatedMin, SimulatedMax] labeled
// OutcomeSimulated. Unmarked calls pass through untouched, whatever their
// credential string.
type FreeTier struct {
	next   Extractor
	logger *zap.Logger
	rand   func() float64
}

// NewFreeTier decorates next.
func NewFreeTier(next Extractor, logger *zap.Logger) *FreeTier {
	return &FreeTier{
		next:   next,
		logger: logger.Named("free_tier"),
		rand:   rand.Float64,
	}
}

// Extract implements Extractor.
func (f *FreeTier) Extract(ctx context.Context, image []byte, credential string) (*Result, error) {
	result, err := f.next.Extract(ctx, image, credential)
	if err == nil || !usingFreeTier(ctx) {
		return result, err
	}
	if domain.KindOf(err) != domain.KindExtraction {
		return nil, err
	}

	value := math.Round((SimulatedMin+f.rand()*(SimulatedMax-SimulatedMin))*10) / 10
	f.logger.Warn("free tier extraction failed, returning simulated reading",
		zap.Error(err),
		zap.Float64("simulated_temperature", value),
	)
	return &Result{Temperature: value, Outcome: domain.OutcomeSimulated}, nil
}
