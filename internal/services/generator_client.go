package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"lexmemo/backend/pkg/models"
)

// HTTPGenerator is an HTTP implementation of the Generator interface talking
// to the text-completion sidecar.
type HTTPGenerator struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPGenerator creates a new HTTPGenerator.
func NewHTTPGenerator(url string, timeout time.Duration) *HTTPGenerator {
	return &HTTPGenerator{url: url, timeout: timeout, client: http.DefaultClient}
}

type completeRequest struct {
	Prompt  string               `json:"prompt"`
	Context []models.SourceChunk `json:"context,omitempty"`
}

type completeResponse struct {
	Text string `json:"text"`
}

// Complete returns the completion text for the prompt. The caller must treat
// the result as untrusted.
func (c *HTTPGenerator) Complete(ctx context.Context, prompt string, contextChunks []models.SourceChunk) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	requestBody, err := json.Marshal(completeRequest{Prompt: prompt, Context: contextChunks})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/complete", bytes.NewBuffer(requestBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generation failed: status code %d", resp.StatusCode)
	}

	var out completeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode response body: %w", err)
	}
	return out.Text, nil
}
