// Package vectorstore provides a narrow HTTP-backed implementation of the
// opaque vector-store capability the Knowledge Writer indexes content
// through (spec: "the vector store, treated as an opaque search/insert
// capability"). Internals of the vector store itself are out of scope; this
// package only speaks the thin index/search contract.
package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	pipelineerrors "github.com/eventcore/pipeline/pkg/errors"
)

// Client indexes and searches content against a remote vector store over
// HTTP. A zero-value baseURL disables the capability entirely: Index is a
// no-op returning nil and Search returns no results and no error.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New constructs a Client. baseURL/apiKey come from config.VectorStoreURL /
// config.VectorStoreKey.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Configured reports whether a vector store endpoint is set.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

type indexRequest struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Index upserts a single document keyed by id, satisfying
// internal/knowledge.VectorIndexer.
func (c *Client) Index(ctx context.Context, id string, content string, metadata map[string]string) error {
	if !c.Configured() {
		return nil
	}

	body, err := json.Marshal(indexRequest{ID: id, Content: content, Metadata: metadata})
	if err != nil {
		return pipelineerrors.Validation(fmt.Sprintf("encode index request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/index", bytes.NewReader(body))
	if err != nil {
		return pipelineerrors.Transient("vectorstore index", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pipelineerrors.Transient("vectorstore index", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return pipelineerrors.Transient("vectorstore index", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return nil
}

// SearchResult is one ranked match from Search.
type SearchResult struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchResponse struct {
	Results []SearchResult `json:"results"`
}

// Search queries the vector store for the top limit matches to query. An
// unconfigured client returns an empty result set rather than an error.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if !c.Configured() {
		return nil, nil
	}

	body, err := json.Marshal(searchRequest{Query: query, Limit: limit})
	if err != nil {
		return nil, pipelineerrors.Validation(fmt.Sprintf("encode search request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/search", bytes.NewReader(body))
	if err != nil {
		return nil, pipelineerrors.Transient("vectorstore search", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pipelineerrors.Transient("vectorstore search", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, pipelineerrors.Transient("vectorstore search", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, pipelineerrors.Transient("vectorstore search", fmt.Errorf("decode response: %w", err))
	}
	return decoded.Results, nil
}
