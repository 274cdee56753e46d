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

// HTTPRetriever is an HTTP implementation of the Retriever interface talking
// to the retrieval sidecar. Every call carries a bounded timeout.
type HTTPRetriever struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

// NewHTTPRetriever creates a new HTTPRetriever.
func NewHTTPRetriever(url string, timeout time.Duration) *HTTPRetriever {
	return &HTTPRetriever{url: url, timeout: timeout, client: http.DefaultClient}
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// Search returns ranked source chunks for the query, truncated at topK.
func (c *HTTPRetriever) Search(ctx context.Context, query string, topK int) ([]models.SourceChunk, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	requestBody, err := json.Marshal(searchRequest{Query: query, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/search", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieval request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("retrieval failed: status code %d", resp.StatusCode)
	}

	var chunks []models.SourceChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunks); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}

	if len(chunks) > topK {
		chunks = chunks[:topK]
	}
	return chunks, nil
}
