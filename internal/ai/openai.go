package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

type openAIConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
}

type openAIProvider struct {
	apiKey  string
	baseURL string
}

type openAIChatRequest struct {
	Model    string          `json:"model"`
	Messages []openAIChatMsg `json:"messages"`
	Stream   bool            `json:"stream"`
}

type openAIChatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type openAIEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type openAITranscribeResponse struct {
	Text string `json:"text"`
}

func (p *openAIProvider) Name() string {
	return "openai"
}

func (p *openAIProvider) Generate(ctx context.Context, model string, prompt string) (string, error) {
	if p.apiKey == "" {
		return "", ErrUnavailable
	}
	reqBody := openAIChatRequest{
		Model:    model,
		Messages: []openAIChatMsg{{Role: "user", Content: prompt}},
		Stream:   false,
	}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return "", Permanent(err)
	}
	body, err := p.post(ctx, "/chat/completions", "application/json", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	var out openAIChatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", Permanent(err)
	}
	if len(out.Choices) == 0 {
		return "", Permanent(fmt.Errorf("openai response has no choices"))
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func (p *openAIProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	if p.apiKey == "" {
		return nil, ErrUnavailable
	}
	_ = taskType // openai embeddings are task-agnostic
	reqBody := openAIEmbedRequest{Model: model, Input: text}
	data, err := json.Marshal(reqBody)
	if err != nil {
		return nil, Permanent(err)
	}
	body, err := p.post(ctx, "/embeddings", "application/json", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var out openAIEmbedResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, Permanent(err)
	}
	if len(out.Data) == 0 {
		return nil, Permanent(fmt.Errorf("openai response has no embeddings"))
	}
	return out.Data[0].Embedding, nil
}

func (p *openAIProvider) Transcribe(ctx context.Context, model string, audio io.Reader, mimeType string) (string, error) {
	if p.apiKey == "" {
		return "", ErrUnavailable
	}
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", "audio"+extensionFor(mimeType))
	if err != nil {
		return "", Permanent(err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", Transient(err)
	}
	if err := writer.WriteField("model", model); err != nil {
		return "", Permanent(err)
	}
	if err := writer.Close(); err != nil {
		return "", Permanent(err)
	}
	body, err := p.post(ctx, "/audio/transcriptions", writer.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}
	var out openAITranscribeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", Permanent(err)
	}
	return strings.TrimSpace(out.Text), nil
}

func (p *openAIProvider) post(ctx context.Context, path string, contentType string, body io.Reader) ([]byte, error) {
	endpoint := strings.TrimRight(p.baseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", contentType)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, classifyCallErr(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		callErr := fmt.Errorf("openai request failed: %s: %s", resp.Status, strings.TrimSpace(string(data)))
		return nil, classifyStatus(resp.StatusCode, callErr)
	}
	return data, nil
}

func extensionFor(mimeType string) string {
	exts, err := mime.ExtensionsByType(mimeType)
	if err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".wav"
}

func createOpenAIFactory(args interface{}) (IProvider, error) {
	cfg := &openAIConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &openAIProvider{
		apiKey:  strings.TrimSpace(cfg.APIKey),
		baseURL: baseURL,
	}, nil
}

func init() {
	Register("openai", createOpenAIFactory)
}
