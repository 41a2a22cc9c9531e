package vision

import (
	"context"

	"github.com/example/thermoscan/internal/domain"
)

const moondreamBaseURL = "https://api.moondream.ai"

// Moondream extracts readings through the Moondream cloud query endpoint.
type Moondream struct {
	cfg HTTPConfig
}

// NewMoondream constructs a Moondream adapter.
func NewMoondream(cfg HTTPConfig) *Moondream {
	return &Moondream{cfg: cfg.withDefaults(moondreamBaseURL, "")}
}

type moondreamRequest struct {
	ImageURL string `json:"image_url"`
	Question string `json:"question"`
	Stream   bool   `json:"stream"`
}

type moondreamResponse struct {
	Answer *string `json:"answer"`
}

// Extract implements Extractor.
func (m *Moondream) Extract(ctx context.Context, image []byte, credential string) (*Result, error) {
	payload := moondreamRequest{
		ImageURL: DataURL(image),
		Question: Prompt,
	}
	headers := map[string]string{"X-Moondream-Auth": credential}

	var resp moondreamResponse
	if err := postJSON(ctx, m.cfg.client(), m.cfg.BaseURL+"/v1/query", headers, payload, &resp); err != nil {
		return nil, err
	}
	if resp.Answer == nil {
		return nil, errMissingField("answer")
	}
	return GenuineResult(*resp.Answer)
}

func errMissingField(path string) error {
	return domain.ErrMalformedResponse.Withf("missing %s", path)
}
