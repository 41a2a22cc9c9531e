package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
)

const (
	geminiBaseURL      = "https://generativelanguage.googleapis.com"
	geminiDefaultModel = "gemini-1.5-flash"
)

// Gemini extracts readings through the generateContent endpoint.
type Gemini struct {
	cfg HTTPConfig
}

// NewGemini constructs a Gemini adapter.
func NewGemini(cfg HTTPConfig) *Gemini {
	return &Gemini{cfg: cfg.withDefaults(geminiBaseURL, geminiDefaultModel)}
}

type geminiInlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Extract implements Extractor.
func (g *Gemini) Extract(ctx context.Context, image []byte, credential string) (*Result, error) {
	payload := geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{
				{Text: Prompt},
				{InlineData: &geminiInlineData{MIMEType: imageMIMEType, Data: base64.StdEncoding.EncodeToString(image)}},
			},
		}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     SamplingTemperature,
			TopP:            0.1,
			TopK:            1,
			MaxOutputTokens: MaxOutputTokens,
		},
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", g.cfg.BaseURL, g.cfg.Model, url.QueryEscape(credential))

	var resp geminiResponse
	if err := postJSON(ctx, g.cfg.client(), endpoint, nil, payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, errMissingField("candidates[0].content.parts[0].text")
	}
	return GenuineResult(resp.Candidates[0].Content.Parts[0].Text)
}
