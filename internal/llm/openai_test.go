package llm

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crewforge/internal/domain"
)

func TestOpenAICompleteSendsModelMessagesAndOrg(t *testing.T) {
	var got struct {
		Model       string           `json:"model"`
		Temperature float64          `json:"temperature"`
		Messages    []domain.Message `json:"messages"`
	}
	var org, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		org = r.Header.Get("OpenAI-Organization")
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"build a fitness tracker"}}],
			"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}
		}`)
	}))
	defer srv.Close()

	client, err := NewOpenAI(OpenAIConfig{
		APIKey:       "sk-test",
		Organization: "org-test",
		BaseURL:      srv.URL + "/v1/",
		Model:        "gpt-4o",
		Temperature:  0.1,
		Logger:       log.New(io.Discard, "", 0),
	})
	require.NoError(t, err)

	text, err := client.Complete(context.Background(), []domain.Message{
		{Role: domain.RoleSystem, Content: "FUNCTION x INSTRUCTION"},
	})
	require.NoError(t, err)
	assert.Equal(t, "build a fitness tracker", text)
	assert.Equal(t, "gpt-4o", got.Model)
	assert.InDelta(t, 0.1, got.Temperature, 1e-9)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, domain.RoleSystem, got.Messages[0].Role)
	assert.Equal(t, "org-test", org)
	assert.Equal(t, "Bearer sk-test", auth)
}

func TestOpenAICompleteDoesNotRetryInternally(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewOpenAI(OpenAIConfig{APIKey: "sk", BaseURL: srv.URL + "/v1/", Model: "gpt-4o"})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), []domain.Message{{Role: domain.RoleSystem, Content: "x"}})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewOpenAIValidatesConfig(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{Model: "gpt-4o"})
	assert.Error(t, err)
	_, err = NewOpenAI(OpenAIConfig{APIKey: "sk", Model: " "})
	assert.Error(t, err)
}
