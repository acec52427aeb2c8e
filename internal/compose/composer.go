// Package compose turns free chat text into a post draft via an
// OpenAI-compatible chat/completions endpoint.
package compose

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/deylak/chirpgram/internal/util"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	defaultTimeout = 60 * time.Second

	// Output is bounded and sampling is fixed; the instruction never
	// varies with the input.
	instruction = "Rewrite the user's message as a single catchy social media post. " +
		"Keep it under 280 characters. Reply with the post text only, no quotes, no commentary."
	maxTokens   = 120
	temperature = 0.7

	// FallbackText is returned when the endpoint yields no usable content.
	FallbackText = "I couldn't come up with anything for that. Try rephrasing it."
)

// Client calls the completion endpoint. One request per transform, no retry;
// a transport failure surfaces directly to the caller.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(apiKey, baseURL, model string, log *zap.Logger) *Client {
	return NewClientWithHTTP(apiKey, baseURL, model, &http.Client{Timeout: defaultTimeout}, log)
}

func NewClientWithHTTP(apiKey, baseURL, model string, httpClient *http.Client, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if model == "" {
		model = defaultModel
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: httpClient,
		log:        log,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Transform sends freeText through the fixed instruction template and
// returns the completion, or FallbackText when the endpoint returns no
// usable content.
func (c *Client) Transform(ctx context.Context, freeText string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: instruction},
			{Role: "user", Content: freeText},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", fmt.Errorf("encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.log.Warn("completion rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("body", util.Truncate(string(respBody), util.DefaultLogMaxLen)))
		return "", fmt.Errorf("completion rejected with status %d", resp.StatusCode)
	}

	var out struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}

	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		c.log.Warn("completion returned no content")
		return FallbackText, nil
	}

	text := strings.TrimSpace(out.Choices[0].Message.Content)
	c.log.Debug("transform completed", zap.String("text", util.Truncate(text, util.DefaultLogMaxLen)))
	return text, nil
}
