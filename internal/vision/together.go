package vision

import (
	"context"
)

const (
	togetherBaseURL      = "https://api.together.xyz"
	togetherDefaultModel = "meta-llama/Llama-Vision-Free"
)

// Together extracts readings through the OpenAI-compatible chat completions API.
type Together struct {
	cfg HTTPConfig
}

// NewTogether constructs a Together AI adapter.
func NewTogether(cfg HTTPConfig) *Together {
	return &Together{cfg: cfg.withDefaults(togetherBaseURL, togetherDefaultModel)}
}

type togetherImageURL struct {
	URL string `json:"url"`
}

type togetherContent struct {
	Type     string            `json:"type"`
	Text     string            `json:"text,omitempty"`
	ImageURL *togetherImageURL `json:"image_url,omitempty"`
}

type togetherMessage struct {
	Role    string            `json:"role"`
	Content []togetherContent `json:"content"`
}

type togetherRequest struct {
	Model       string            `json:"model"`
	Messages    []togetherMessage `json:"messages"`
	MaxTokens   int               `json:"max_tokens"`
	Temperature float64           `json:"temperature"`
}

type togetherResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Extract implements Extractor.
func (t *Together) Extract(ctx context.Context, image []byte, credential string) (*Result, error) {
	payload := togetherRequest{
		Model: t.cfg.Model,
		Messages: []togetherMessage{{
			Role: "user",
			Content: []togetherContent{
				{Type: "text", Text: Prompt},
				{Type: "image_url", ImageURL: &togetherImageURL{URL: DataURL(image)}},
			},
		}},
		MaxTokens:   MaxOutputTokens,
		Temperature: SamplingTemperature,
	}
	headers := map[string]string{"Authorization": "Bearer " + credential}

	var resp togetherResponse
	if err := postJSON(ctx, t.cfg.client(), t.cfg.BaseURL+"/v1/chat/completions", headers, payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == nil {
		return nil, errMissingField("choices[0].message.content")
	}
	return GenuineResult(*resp.Choices[0].Message.Content)
}
