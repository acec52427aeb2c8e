// Package poster publishes posts to the X API under a user's stored
// credential.
package poster

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
)

// MaxPostLength is the platform's post length limit, counted in characters.
const MaxPostLength = 280

const defaultTimeout = 30 * time.Second

// Client talks to the posting endpoint. BaseURL is overridable for tests.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(baseURL string, log *zap.Logger) *Client {
	return NewClientWithHTTP(baseURL, &http.Client{Timeout: defaultTimeout}, log)
}

func NewClientWithHTTP(baseURL string, httpClient *http.Client, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = "https://api.twitter.com"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		log:        log,
	}
}

// CreatePost publishes text under the given access token and returns the new
// post's id. The text is forwarded verbatim; length validation happens before
// this call.
func (c *Client) CreatePost(ctx context.Context, accessToken, text string) (string, error) {
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", fmt.Errorf("encode post: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/2/tweets", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build post request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("post request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.log.Warn("post rejected",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return "", fmt.Errorf("post rejected with status %d", resp.StatusCode)
	}

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode post response: %w", err)
	}
	return out.Data.ID, nil
}
