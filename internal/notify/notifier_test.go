package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/voxnote/internal/config"
)

func TestWebhookNotifierPostsPayload(t *testing.T) {
	var got webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier, err := New(config.NotifierConfig{Type: "webhook", URL: server.URL, Token: "secret"})
	require.NoError(t, err)

	err = notifier.Notify(context.Background(), "owner-1", "Note ready", "your note is searchable")
	require.NoError(t, err)
	require.Equal(t, "owner-1", got.OwnerID)
	require.Equal(t, "Note ready", got.Title)
	require.Equal(t, "your note is searchable", got.Message)
}

func TestWebhookNotifierReportsFailureStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer server.Close()

	notifier, err := New(config.NotifierConfig{Type: "webhook", URL: server.URL})
	require.NoError(t, err)
	require.Error(t, notifier.Notify(context.Background(), "owner-1", "t", "m"))
}

func TestNoopNotifierByDefault(t *testing.T) {
	notifier, err := New(config.NotifierConfig{})
	require.NoError(t, err)
	require.NoError(t, notifier.Notify(context.Background(), "owner-1", "t", "m"))
}

func TestWebhookRequiresURL(t *testing.T) {
	_, err := New(config.NotifierConfig{Type: "webhook"})
	require.Error(t, err)
}

func TestUnknownNotifierTypeRejected(t *testing.T) {
	_, err := New(config.NotifierConfig{Type: "carrier-pigeon"})
	require.Error(t, err)
}
