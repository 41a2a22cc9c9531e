package usecase

import (
	"context"
	"encoding/base64"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/thermoscan/internal/domain"
	"github.com/example/thermoscan/internal/metrics"
	"github.com/example/thermoscan/internal/vision"
)

// Credentials are per-request provider secrets keyed by provider.
type Credentials map[domain.Provider]string

// CredentialSource records which step of the fallback chain supplied the credential.
type CredentialSource string

const (
	CredentialFromRequest  CredentialSource = "request"
	CredentialFromConfig   CredentialSource = "config"
	CredentialFromFreeTier CredentialSource = "free_tier"
	CredentialNone         CredentialSource = "none"
)

// Registration binds a provider name to its adapter and credential policy.
type Registration struct {
	Extractor          vision.Extractor
	RequiresCredential bool
	DefaultCredential  string
	FreeTierToken      string
}

// Extraction is the normalized outcome of a successful dispatch.
type Extraction struct {
	Provider         domain.Provider
	Temperature      float64
	Outcome          domain.Outcome
	CredentialSource CredentialSource
}

// Dispatcher routes an image to the requested provider. Providers are added
// through Register; dispatch itself never names a provider.
type Dispatcher struct {
	providers map[domain.Provider]Registration
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher(logger *zap.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		providers: make(map[domain.Provider]Registration),
		logger:    logger.Named("dispatcher"),
		metrics:   m,
	}
}

// Register adds or replaces a provider.
func (d *Dispatcher) Register(name domain.Provider, reg Registration) {
	d.providers[name] = reg
}

// Providers lists the registered provider names in sorted order.
func (d *Dispatcher) Providers() []domain.Provider {
	names := make([]domain.Provider, 0, len(d.providers))
	for name := range d.providers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Process validates the input, resolves the credential and calls the
// provider's adapter exactly once. Adapter errors are returned unchanged.
func (d *Dispatcher) Process(ctx context.Context, imageBase64 string, provider domain.Provider, creds Credentials) (*Extraction, error) {
	if strings.TrimSpace(imageBase64) == "" {
		return nil, domain.ErrMissingImage
	}
	if provider == "" {
		provider = domain.DefaultProvider
	}
	reg, ok := d.providers[provider]
	if !ok {
		return nil, domain.ErrUnknownProvider.Withf("%q", provider)
	}

	credential, source := resolveCredential(reg, creds[provider])
	if source == CredentialNone && reg.RequiresCredential {
		return nil, domain.ErrMissingCredential.Withf("%s", provider)
	}

	image, err := DecodeImage(imageBase64)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("dispatching extraction",
		zap.String("provider", string(provider)),
		zap.String("credential_source", string(source)),
		zap.Int("image_bytes", len(image)),
	)

	if source == CredentialFromFreeTier {
		ctx = vision.WithFreeTierCredential(ctx)
	}
	start := time.Now()
	result, err := reg.Extractor.Extract(ctx, image, credential)
	if err != nil {
		d.metrics.ExtractionFailed(string(provider), string(domain.CodeOf(err)))
		return nil, err
	}
	d.metrics.ObserveExtraction(string(provider), string(result.Outcome), time.Since(start))

	return &Extraction{
		Provider:         provider,
		Temperature:      result.Temperature,
		Outcome:          result.Outcome,
		CredentialSource: source,
	}, nil
}

// resolveCredential walks explicit → configured → free tier.
func resolveCredential(reg Registration, explicit string) (string, CredentialSource) {
	if v := strings.TrimSpace(explicit); v != "" {
		return v, CredentialFromRequest
	}
	if reg.DefaultCredential != "" {
		return reg.DefaultCredential, CredentialFromConfig
	}
	if reg.FreeTierToken != "" {
		return reg.FreeTierToken, CredentialFromFreeTier
	}
	return "", CredentialNone
}

// DecodeImage accepts plain base64 or a data URL and returns the raw bytes.
func DecodeImage(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "data:") {
		if i := strings.Index(value, ","); i >= 0 {
			value = value[i+1:]
		}
	}
	image, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		image, err = base64.RawStdEncoding.DecodeString(value)
	}
	if err != nil {
		return nil, domain.ErrInvalidImage.Wrap(err)
	}
	if len(image) == 0 {
		return nil, domain.ErrMissingImage
	}
	return image, nil
}
