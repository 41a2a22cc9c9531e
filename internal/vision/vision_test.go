package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/example/thermoscan/internal/domain"
)

var testImage = []byte{0xff, 0xd8, 0xff, 0xe0, 'j', 'p', 'g'}

func TestParseTemperature(t *testing.T) {
	cases := map[string]float64{
		"27.5":                        27.5,
		"The reading is 27.5 degrees": 27.5,
		"-4.2°C":                      -4.2,
		"+31":                         31,
		"Temp: 36.80 C (sensor 2)":    36.8,
		"  42\n":                      42,
	}
	for answer, want := range cases {
		got, err := ParseTemperature(answer)
		require.NoError(t, err, answer)
		assert.Equal(t, want, got, answer)
	}
}

func TestParseTemperatureWithoutNumber(t *testing.T) {
	_, err := ParseTemperature("unclear")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoNumericValue)
	assert.Equal(t, domain.KindExtraction, domain.KindOf(err))
}

func TestGeminiExtract(t *testing.T) {
	var captured geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-test:generateContent", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"The reading is 27.5 degrees"}]}}]}`))
	}))
	defer server.Close()

	g := NewGemini(HTTPConfig{BaseURL: server.URL, Model: "gemini-test"})
	res, err := g.Extract(context.Background(), testImage, "secret")
	require.NoError(t, err)
	assert.Equal(t, 27.5, res.Temperature)
	assert.Equal(t, domain.OutcomeGenuine, res.Outcome)

	require.Len(t, captured.Contents, 1)
	parts := captured.Contents[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, Prompt, parts[0].Text)
	assert.Equal(t, base64.StdEncoding.EncodeToString(testImage), parts[1].InlineData.Data)
	assert.Equal(t, MaxOutputTokens, captured.GenerationConfig.MaxOutputTokens)
}

func TestGeminiMissingCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	_, err := NewGemini(HTTPConfig{BaseURL: server.URL}).Extract(context.Background(), testImage, "k")
	assert.ErrorIs(t, err, domain.ErrMalformedResponse)
}

func TestTogetherExtract(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var req togetherRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, togetherDefaultModel, req.Model)
		assert.Equal(t, DataURL(testImage), req.Messages[0].Content[1].ImageURL.URL)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"33.1"}}]}`))
	}))
	defer server.Close()

	res, err := NewTogether(HTTPConfig{BaseURL: server.URL}).Extract(context.Background(), testImage, "tok")
	require.NoError(t, err)
	assert.Equal(t, 33.1, res.Temperature)
}

func TestTogetherProviderStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := NewTogether(HTTPConfig{BaseURL: server.URL}).Extract(context.Background(), testImage, "bad")
	require.ErrorIs(t, err, domain.ErrProviderStatus)
	assert.Contains(t, err.Error(), "401")
}

func TestMoondreamExtract(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/query", r.URL.Path)
		assert.Equal(t, "md-key", r.Header.Get("X-Moondream-Auth"))
		_, _ = w.Write([]byte(`{"answer":"unclear"}`))
	}))
	defer server.Close()

	_, err := NewMoondream(HTTPConfig{BaseURL: server.URL}).Extract(context.Background(), testImage, "md-key")
	assert.ErrorIs(t, err, domain.ErrNoNumericValue)
}

func TestMoondreamMalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))
	defer server.Close()

	_, err := NewMoondream(HTTPConfig{BaseURL: server.URL}).Extract(context.Background(), testImage, "k")
	assert.ErrorIs(t, err, domain.ErrMalformedResponse)
}

func TestTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewGemini(HTTPConfig{BaseURL: url}).Extract(context.Background(), testImage, "leaky-key")
	require.ErrorIs(t, err, domain.ErrTransport)
	assert.NotContains(t, err.Error(), "leaky-key")
}

func TestFreeTierSimulatesOnlyWhenMarked(t *testing.T) {
	failing := ExtractorFunc(func(ctx context.Context, image []byte, credential string) (*Result, error) {
		return nil, domain.ErrTransport.Wrap(errors.New("down"))
	})
	ft := NewFreeTier(failing, zap.NewNop())
	ft.rand = func() float64 { return 0.5 }

	res, err := ft.Extract(WithFreeTierCredential(context.Background()), testImage, "free")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSimulated, res.Outcome)
	assert.Equal(t, 32.5, res.Temperature)

	_, err = ft.Extract(context.Background(), testImage, "paid-key")
	assert.ErrorIs(t, err, domain.ErrTransport)

	// A caller that happens to send the public token still sees the failure.
	_, err = ft.Extract(context.Background(), testImage, "free")
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestFreeTierRangeAndPassThrough(t *testing.T) {
	failing := ExtractorFunc(func(ctx context.Context, image []byte, credential string) (*Result, error) {
		return nil, domain.ErrNoNumericValue
	})
	ft := NewFreeTier(failing, zap.NewNop())
	ctx := WithFreeTierCredential(context.Background())
	for i := 0; i < 200; i++ {
		res, err := ft.Extract(ctx, testImage, "free")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, res.Temperature, SimulatedMin)
		assert.LessOrEqual(t, res.Temperature, SimulatedMax)
	}

	ok := ExtractorFunc(func(ctx context.Context, image []byte, credential string) (*Result, error) {
		return &Result{Temperature: 21, Outcome: domain.OutcomeGenuine}, nil
	})
	res, err := NewFreeTier(ok, zap.NewNop()).Extract(ctx, testImage, "free")
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeGenuine, res.Outcome)
}
