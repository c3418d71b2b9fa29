package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func newOpenAIServer(t *testing.T, handler http.HandlerFunc) *openAIProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &openAIProvider{apiKey: "test-key", baseURL: server.URL}
}

func TestOpenAIGenerate(t *testing.T) {
	provider := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Write([]byte(`{"choices":[{"message":{"content":" generated text "}}]}`))
	})

	text, err := provider.Generate(context.Background(), "gpt-4o-mini", "say something")
	require.NoError(t, err)
	require.Equal(t, "generated text", text)
}

func TestOpenAIEmbed(t *testing.T) {
	provider := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/embeddings", r.URL.Path)
		w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`))
	})

	vec, err := provider.Embed(context.Background(), "text-embedding-3-small", "hello", "RETRIEVAL_QUERY")
	require.NoError(t, err)
	require.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestOpenAITranscribeSendsMultipart(t *testing.T) {
	provider := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/audio/transcriptions", r.URL.Path)
		require.Contains(t, r.Header.Get("Content-Type"), "multipart/form-data")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "whisper-1", r.FormValue("model"))
		w.Write([]byte(`{"text":"hello world"}`))
	})

	text, err := provider.Transcribe(context.Background(), "whisper-1", strings.NewReader("fake-audio"), "audio/wav")
	require.NoError(t, err)
	require.Equal(t, "hello world", text)
}

func TestOpenAIRateLimitIsTransient(t *testing.T) {
	provider := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limit"}`))
	})

	_, err := provider.Generate(context.Background(), "gpt-4o-mini", "prompt")
	require.Error(t, err)
	require.Equal(t, KindTransient, KindOf(err))
}

func TestOpenAIBadRequestIsPermanent(t *testing.T) {
	provider := newOpenAIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad input"}`))
	})

	_, err := provider.Embed(context.Background(), "text-embedding-3-small", "hello", "")
	require.Error(t, err)
	require.Equal(t, KindPermanent, KindOf(err))
}

func TestOpenAIMissingKeyIsUnavailable(t *testing.T) {
	provider := &openAIProvider{baseURL: defaultOpenAIBaseURL}
	_, err := provider.Generate(context.Background(), "gpt-4o-mini", "prompt")
	require.ErrorIs(t, err, ErrUnavailable)
	require.Equal(t, KindPermanent, KindOf(err))
}
