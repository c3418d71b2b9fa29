package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/xxxsen/voxnote/internal/config"
)

// Notifier delivers a completion notice to the owner. Delivery is
// best-effort: the pipeline never rolls back on a notify failure.
type Notifier interface {
	Notify(ctx context.Context, ownerID string, title string, message string) error
}

func New(cfg config.NotifierConfig) (Notifier, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", "none":
		return &noopNotifier{}, nil
	case "webhook":
		if cfg.URL == "" {
			return nil, fmt.Errorf("notifier.url is required for webhook notifier")
		}
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10
		}
		return &webhookNotifier{
			url:    cfg.URL,
			token:  cfg.Token,
			client: &http.Client{Timeout: time.Duration(timeout) * time.Second},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported notifier type: %s", cfg.Type)
	}
}

type noopNotifier struct{}

func (n *noopNotifier) Notify(ctx context.Context, ownerID string, title string, message string) error {
	return nil
}

type webhookNotifier struct {
	url    string
	token  string
	client *http.Client
}

type webhookPayload struct {
	OwnerID string `json:"owner_id"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

func (n *webhookNotifier) Notify(ctx context.Context, ownerID string, title string, message string) error {
	data, err := json.Marshal(webhookPayload{OwnerID: ownerID, Title: title, Message: message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("notify failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}
