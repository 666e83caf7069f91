package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestNewClient_RequiresKey(t *testing.T) {
	_, err := NewClient(context.Background(), Config{APIKey: "  "})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key is required")
}

func TestGenerate(t *testing.T) {
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "gemini-test:generateContent")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"candidates": []map[string]any{{
				"content": map[string]any{
					"role":  "model",
					"parts": []map[string]any{{"text": `{"keywords":["EV"]}`}},
				},
			}},
			"usageMetadata": map[string]any{"promptTokenCount": 12, "candidatesTokenCount": 4},
		})
	}))
	defer ts.Close()

	c, err := NewClient(context.Background(), Config{APIKey: "test-key", BaseURL: ts.URL})
	require.NoError(t, err)

	resp, err := c.Generate(context.Background(), GenerateRequest{
		Model:  "gemini-test",
		System: "extract keywords",
		Prompt: "テキスト",
		JSON:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"keywords":["EV"]}`, resp.Text)
	assert.Equal(t, int32(12), resp.InputTokens)
	assert.Equal(t, int32(4), resp.OutputTokens)

	assert.Contains(t, body, "systemInstruction")
	gen, ok := body["generationConfig"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "application/json", gen["responseMimeType"])
}

func TestGenerate_QuotaError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"error": map[string]any{"code": 429, "message": "quota exhausted", "status": "RESOURCE_EXHAUSTED"},
		})
	}))
	defer ts.Close()

	c, err := NewClient(context.Background(), Config{APIKey: "test-key", BaseURL: ts.URL})
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), GenerateRequest{Model: "gemini-test", Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini: generate content")
	assert.Equal(t, http.StatusTooManyRequests, StatusCode(err))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 429, StatusCode(genai.APIError{Code: 429}))
	assert.Equal(t, 503, StatusCode(eris.Wrap(genai.APIError{Code: 503}, "wrapped")))
	assert.Zero(t, StatusCode(errors.New("plain")))
}
