package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiClassify(t *testing.T) {
	var gotPath string
	var gotKey string
	var gotReq geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"parts": [{"text": "{\"label\": \"pivot\"}"}]}}],
			"usageMetadata": {"promptTokenCount": 42, "candidatesTokenCount": 17}
		}`))
	}))
	defer srv.Close()

	g := NewGemini("test-key", "gemini-2.0-flash", 5*time.Second)
	g.baseURL = srv.URL

	reply, err := g.Classify(context.Background(), "Analyze the change")
	require.NoError(t, err)

	assert.Equal(t, "/models/gemini-2.0-flash:generateContent", gotPath)
	assert.Equal(t, "test-key", gotKey)
	require.Len(t, gotReq.Contents, 1)
	assert.Equal(t, "Analyze the change", gotReq.Contents[0].Parts[0].Text)
	assert.Equal(t, 0.2, gotReq.GenerationConfig.Temperature)
	assert.Equal(t, 300, gotReq.GenerationConfig.MaxOutputTokens)
	assert.Equal(t, "application/json", gotReq.GenerationConfig.ResponseMIME)

	assert.Equal(t, `{"label": "pivot"}`, reply.Text)
	assert.Equal(t, "gemini-2.0-flash", reply.Model)
	assert.Equal(t, 42, reply.InputTokens)
	assert.Equal(t, 17, reply.OutputTokens)
}

func TestGeminiClassifyHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"message": "quota exceeded"}}`))
	}))
	defer srv.Close()

	g := NewGemini("test-key", "gemini-2.0-flash", 5*time.Second)
	g.baseURL = srv.URL

	_, err := g.Classify(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestGeminiClassifyEmptyCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates": []}`))
	}))
	defer srv.Close()

	g := NewGemini("test-key", "gemini-2.0-flash", 5*time.Second)
	g.baseURL = srv.URL

	_, err := g.Classify(context.Background(), "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no candidates")
}

func TestNoopBackend(t *testing.T) {
	_, err := Noop{}.Classify(context.Background(), "prompt")
	assert.ErrorIs(t, err, ErrUnavailable)
}
