// Package summary turns commit diffs into short human-readable descriptions.
package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/fenggwsx/SlashCollab/internal/config"
)

const systemPrompt = "Summarize code diffs into crisp commit messages with bullet points."

// maxDiffBytes bounds the diff sent upstream.
const maxDiffBytes = 32 << 10

// Summarizer describes a unified diff.
type Summarizer interface {
	Summarize(ctx context.Context, diff string) (string, error)
}

// New returns the Groq-backed summarizer when an API key is configured and
// the offline Stats summarizer otherwise.
func New(cfg config.SummaryConfig) Summarizer {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return Stats{}
	}
	return NewGroq(cfg, nil)
}

// Groq calls an OpenAI-compatible chat completions endpoint.
type Groq struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

// NewGroq creates a client. A nil httpClient uses one with cfg.Timeout.
func NewGroq(cfg config.SummaryConfig, httpClient *http.Client) *Groq {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 20 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Groq{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		client:   httpClient,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

// Summarize posts the diff and returns the first choice's message content.
func (g *Groq) Summarize(ctx context.Context, diff string) (string, error) {
	if len(diff) > maxDiffBytes {
		diff = diff[:maxDiffBytes]
	}
	body, err := json.Marshal(chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: diff},
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", g.apiKey))

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("summary request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("summary response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("summary endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	content := gjson.GetBytes(data, "choices.0.message.content")
	if !content.Exists() || strings.TrimSpace(content.String()) == "" {
		return "", errors.New("summary response has no content")
	}
	return strings.TrimSpace(content.String()), nil
}

// Stats summarizes a diff by counting changed files and lines.
type Stats struct{}

// Summarize never fails.
func (Stats) Summarize(_ context.Context, diff string) (string, error) {
	var files []string
	added, removed := 0, 0
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++ "):
			files = append(files, strings.TrimPrefix(strings.TrimPrefix(line, "+++ "), "b/"))
		case strings.HasPrefix(line, "--- "):
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	if len(files) == 0 {
		return "No changes.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d file(s) changed, +%d/-%d lines", len(files), added, removed)
	for _, f := range files {
		fmt.Fprintf(&b, "\n- %s", strings.TrimSpace(f))
	}
	return b.String(), nil
}
