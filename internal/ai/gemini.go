package ai

import (
	"context"
	"fmt"
	"io"
	"strings"

	"google.golang.org/genai"
)

type geminiConfig struct {
	APIKey string `json:"api_key"`
}

type geminiProvider struct {
	apiKey string
}

func (p *geminiProvider) Name() string {
	return "gemini"
}

func (p *geminiProvider) Generate(ctx context.Context, model string, prompt string) (string, error) {
	if p.apiKey == "" {
		return "", ErrUnavailable
	}
	client, err := p.client(ctx)
	if err != nil {
		return "", Transient(err)
	}
	resp, err := client.Models.GenerateContent(
		ctx,
		model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
		nil,
	)
	if err != nil {
		return "", classifyCallErr(err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

func (p *geminiProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	if p.apiKey == "" {
		return nil, ErrUnavailable
	}
	client, err := p.client(ctx)
	if err != nil {
		return nil, Transient(err)
	}
	var config *genai.EmbedContentConfig
	if taskType != "" {
		config = &genai.EmbedContentConfig{TaskType: taskType}
	}
	resp, err := client.Models.EmbedContent(
		ctx,
		model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: text}}}},
		config,
	)
	if err != nil {
		return nil, classifyCallErr(err)
	}
	if resp.Embeddings == nil || len(resp.Embeddings) == 0 {
		return nil, Permanent(fmt.Errorf("no embedding values returned"))
	}
	return resp.Embeddings[0].Values, nil
}

func (p *geminiProvider) Transcribe(ctx context.Context, model string, audio io.Reader, mimeType string) (string, error) {
	if p.apiKey == "" {
		return "", ErrUnavailable
	}
	data, err := io.ReadAll(audio)
	if err != nil {
		return "", Transient(err)
	}
	if len(data) == 0 {
		return "", Permanent(fmt.Errorf("empty audio"))
	}
	client, err := p.client(ctx)
	if err != nil {
		return "", Transient(err)
	}
	resp, err := client.Models.GenerateContent(
		ctx,
		model,
		[]*genai.Content{{Parts: []*genai.Part{
			{Text: "Transcribe this audio verbatim. Output only the transcript text."},
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
		}}},
		nil,
	)
	if err != nil {
		return "", classifyCallErr(err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

func (p *geminiProvider) client(ctx context.Context) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
}

func createGeminiFactory(args interface{}) (IProvider, error) {
	cfg := &geminiConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	return &geminiProvider{apiKey: strings.TrimSpace(cfg.APIKey)}, nil
}

func init() {
	Register("gemini", createGeminiFactory)
}
