package summary

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAISummarizer_Summarize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "be brief", req.Messages[0].Content)
		assert.Equal(t, "**A:** hi", req.Messages[1].Content)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  recap  "}}]}`))
	}))
	defer srv.Close()

	s := NewOpenAISummarizer(Config{APIKey: "sk-test", BaseURL: srv.URL}, nil)
	out, err := s.Summarize(t.Context(), "be brief", "**A:** hi")
	require.NoError(t, err)
	assert.Equal(t, "recap", out)
}

func TestOpenAISummarizer_MissingCredential(t *testing.T) {
	s := NewOpenAISummarizer(Config{}, nil)
	_, err := s.Summarize(t.Context(), "p", "t")
	assert.ErrorIs(t, err, ErrMissingCredential)
}

func TestOpenAISummarizer_NoRetryOnClientError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer srv.Close()

	s := NewOpenAISummarizer(Config{APIKey: "k", BaseURL: srv.URL, MaxRetries: 3}, nil)
	_, err := s.Summarize(t.Context(), "p", "t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")
	assert.Equal(t, int32(1), hits.Load())
}

func TestOpenAISummarizer_RetriesServerError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"second try"}}]}`))
	}))
	defer srv.Close()

	s := NewOpenAISummarizer(Config{APIKey: "k", BaseURL: srv.URL, MaxRetries: 1}, nil)
	out, err := s.Summarize(t.Context(), "p", "t")
	require.NoError(t, err)
	assert.Equal(t, "second try", out)
	assert.Equal(t, int32(2), hits.Load())
}

func TestAnthropicSummarizer_Summarize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "prompt", req.System)
		assert.Equal(t, "claude-haiku-4-5", req.Model)

		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"part one "},{"type":"text","text":"part two"}]}`))
	}))
	defer srv.Close()

	s := NewAnthropicSummarizer(Config{APIKey: "ak", BaseURL: srv.URL, Model: "gpt-4o-mini"}, nil)
	out, err := s.Summarize(t.Context(), "prompt", "transcript")
	require.NoError(t, err)
	assert.Equal(t, "part one part two", out)
}

func TestNew(t *testing.T) {
	s, err := New(Config{Provider: "Anthropic"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", s.Name())

	s, err = New(Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "openai", s.Name())

	_, err = New(Config{Provider: "mistral"}, nil)
	assert.Error(t, err)
}

func TestLoadPrompt(t *testing.T) {
	p, err := LoadPrompt("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPrompt, p)

	path := filepath.Join(t.TempDir(), "prompt.txt")
	require.NoError(t, os.WriteFile(path, []byte("  custom prompt\n"), 0o644))
	p, err = LoadPrompt(path)
	require.NoError(t, err)
	assert.Equal(t, "custom prompt", p)

	p, err = LoadPrompt(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
	assert.Equal(t, DefaultPrompt, p)
}

func TestOpenAISummarizer_FormatDialogUsesZeroTemperature(t *testing.T) {
	var temps []float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		temps = append(temps, req.Temperature)
		assert.Equal(t, "as dialog", req.Messages[0].Content)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"- A: hi"}}]}`))
	}))
	defer srv.Close()

	s := NewOpenAISummarizer(Config{APIKey: "k", BaseURL: srv.URL, Temperature: 0.7}, nil)
	out, err := s.FormatDialog(t.Context(), "as dialog", "**A:** hi")
	require.NoError(t, err)
	assert.Equal(t, "- A: hi", out)
	_, err = s.Summarize(t.Context(), "as dialog", "**A:** hi")
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.7}, temps)
}

func TestAnthropicSummarizer_FormatDialogSendsRawTranscript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "**A:** hi", req.Messages[0].Content)
		require.NotNil(t, req.Temperature)
		assert.Zero(t, *req.Temperature)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"A: hi"}]}`))
	}))
	defer srv.Close()

	var f DialogFormatter = NewAnthropicSummarizer(Config{APIKey: "ak", BaseURL: srv.URL}, nil)
	out, err := f.FormatDialog(t.Context(), "as dialog", "**A:** hi")
	require.NoError(t, err)
	assert.Equal(t, "A: hi", out)
}

func TestLoadDialogPrompt(t *testing.T) {
	p, err := LoadDialogPrompt("")
	require.NoError(t, err)
	assert.Empty(t, p)

	path := filepath.Join(t.TempDir(), "dialog.md")
	require.NoError(t, os.WriteFile(path, []byte("format as dialog\n"), 0o644))
	p, err = LoadDialogPrompt(path)
	require.NoError(t, err)
	assert.Equal(t, "format as dialog", p)

	_, err = LoadDialogPrompt(filepath.Join(t.TempDir(), "missing.md"))
	assert.Error(t, err)
}
