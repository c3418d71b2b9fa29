package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

type ManagerConfig struct {
	GenerateModel   string
	TranscribeModel string
	EmbedModel      string
	Timeout         int
	MaxInputChars   int
}

// Manager binds a provider to the fixed set of capabilities the pipeline
// consumes: transcription, analysis (summary + tags), embedding and free
// generation. Every call runs under the configured timeout.
type Manager struct {
	provider IProvider
	cfg      ManagerConfig
}

func NewManager(provider IProvider, cfg ManagerConfig) *Manager {
	return &Manager{provider: provider, cfg: cfg}
}

type AnalysisResult struct {
	Summary string   `json:"summary"`
	Tags    []string `json:"tags"`
}

func (m *Manager) Transcribe(ctx context.Context, audio io.Reader, mimeType string) (string, error) {
	if m.cfg.TranscribeModel == "" {
		return "", Permanent(fmt.Errorf("transcribe model not configured"))
	}
	ctx, cancel := m.callContext(ctx)
	defer cancel()
	text, err := m.provider.Transcribe(ctx, m.cfg.TranscribeModel, audio, mimeType)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", Permanent(fmt.Errorf("empty transcript"))
	}
	return text, nil
}

func (m *Manager) Analyze(ctx context.Context, transcript string) (*AnalysisResult, error) {
	text, err := m.cleanInput(transcript)
	if err != nil {
		return nil, err
	}
	prompt := fmt.Sprintf(`You are an assistant processing a voice note transcript.
Produce a short summary (one sentence, under 15 words) and up to 5 concise tags.
- Use the same language as the transcript.
- Respond with a JSON object {"summary": "...", "tags": ["...", ...]} and nothing else.

TRANSCRIPT:
%s`, text)
	raw, err := m.generateText(ctx, prompt)
	if err != nil {
		return nil, err
	}
	result, err := parseAnalysis(raw)
	if err != nil {
		return nil, Permanent(err)
	}
	return result, nil
}

func (m *Manager) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	cleaned, err := m.cleanInput(text)
	if err != nil {
		return nil, err
	}
	ctx, cancel := m.callContext(ctx)
	defer cancel()
	vec, err := m.provider.Embed(ctx, m.cfg.EmbedModel, cleaned, taskType)
	if err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, Permanent(fmt.Errorf("empty embedding"))
	}
	return vec, nil
}

func (m *Manager) Generate(ctx context.Context, prompt string) (string, error) {
	text, err := m.cleanInput(prompt)
	if err != nil {
		return "", err
	}
	return m.generateText(ctx, text)
}

// EmbeddingModelVersion identifies the vector space embeddings live in.
// Vectors from different versions are never compared.
func (m *Manager) EmbeddingModelVersion() string {
	return m.cfg.EmbedModel
}

func (m *Manager) generateText(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := m.callContext(ctx)
	defer cancel()
	resp, err := m.provider.Generate(ctx, m.cfg.GenerateModel, prompt)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp)
	if text == "" {
		return "", Permanent(fmt.Errorf("empty ai response"))
	}
	return text, nil
}

func (m *Manager) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, time.Duration(m.cfg.Timeout)*time.Second)
	}
	return context.WithCancel(ctx)
}

func (m *Manager) cleanInput(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", Permanent(fmt.Errorf("empty input"))
	}
	if m.cfg.MaxInputChars > 0 && len(trimmed) > m.cfg.MaxInputChars {
		// cut on runes so a truncated transcript stays valid utf-8
		if runes := []rune(trimmed); len(runes) > m.cfg.MaxInputChars {
			trimmed = string(runes[:m.cfg.MaxInputChars])
		}
	}
	return trimmed, nil
}

func parseAnalysis(output string) (*AnalysisResult, error) {
	clean := strings.TrimSpace(output)
	clean = strings.TrimPrefix(clean, "```json")
	clean = strings.TrimPrefix(clean, "```")
	clean = strings.TrimSuffix(clean, "```")
	clean = strings.TrimSpace(clean)
	start := strings.Index(clean, "{")
	end := strings.LastIndex(clean, "}")
	if start >= 0 && end > start {
		clean = clean[start : end+1]
	}
	var result AnalysisResult
	if err := json.Unmarshal([]byte(clean), &result); err != nil {
		return nil, fmt.Errorf("parse analysis: %w", err)
	}
	result.Summary = strings.TrimSpace(result.Summary)
	if result.Summary == "" {
		return nil, fmt.Errorf("analysis has no summary")
	}
	result.Tags = normalizeTags(result.Tags, 5)
	return &result, nil
}

func normalizeTags(tags []string, max int) []string {
	uniq := make([]string, 0, len(tags))
	seen := make(map[string]bool)
	for _, tag := range tags {
		normalized := strings.TrimSpace(tag)
		if normalized == "" {
			continue
		}
		key := strings.ToLower(normalized)
		if seen[key] {
			continue
		}
		seen[key] = true
		uniq = append(uniq, normalized)
		if len(uniq) >= max {
			break
		}
	}
	return uniq
}
