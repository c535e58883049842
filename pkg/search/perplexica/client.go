// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package perplexica

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

	searchtypes "github.com/teradata-labs/needle/pkg/search/types"
)

// Client implements the search adapter for a self-hosted Perplexica
// instance (AI-augmented search). Queries are full-sentence prompts;
// the cited sources become the result list.
type Client struct {
	baseURL          string
	optimizationMode string
	enabled          bool
	httpClient       *http.Client
}

// Config holds configuration for the Perplexica adapter.
type Config struct {
	BaseURL          string        // Default: http://localhost:3001
	OptimizationMode string        // Default: balanced (speed|balanced|quality)
	Timeout          time.Duration // Default: 30s; AI search is slow
	Enabled          bool
}

// NewClient creates a new Perplexica adapter.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:3001"
	}
	if cfg.OptimizationMode == "" {
		cfg.OptimizationMode = "balanced"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		baseURL:          strings.TrimRight(cfg.BaseURL, "/"),
		optimizationMode: cfg.OptimizationMode,
		enabled:          cfg.Enabled,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Engine returns the engine identifier.
func (c *Client) Engine() searchtypes.Engine {
	return searchtypes.EnginePerplexica
}

// Enabled reports whether the adapter is configured for use.
func (c *Client) Enabled() bool {
	return c.enabled
}

// Search submits one prompt-style query and maps the cited sources to
// results. pageContent becomes the snippet.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]searchtypes.Result, error) {
	if maxResults <= 0 {
		maxResults = 10
	}

	body, err := json.Marshal(searchRequest{
		FocusMode:        "webSearch",
		OptimizationMode: c.optimizationMode,
		Query:            query,
	})
	if err != nil {
		return nil, searchtypes.NewAdapterError(c.Engine(), searchtypes.ErrUnknown,
			fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/search", bytes.NewReader(body))
	if err != nil {
		return nil, searchtypes.NewAdapterError(c.Engine(), searchtypes.ErrUnknown,
			fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, searchtypes.NewAdapterError(c.Engine(), searchtypes.KindFromStatus(resp.StatusCode),
			fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody)))
	}

	var plxResp searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&plxResp); err != nil {
		return nil, searchtypes.NewAdapterError(c.Engine(), searchtypes.ErrInvalidResponse,
			fmt.Errorf("failed to parse response: %w", err))
	}

	now := time.Now()
	results := make([]searchtypes.Result, 0, len(plxResp.Sources))
	for i, s := range plxResp.Sources {
		if len(results) >= maxResults {
			break
		}
		if s.Metadata.URL == "" {
			continue
		}
		results = append(results, searchtypes.Result{
			URL:        s.Metadata.URL,
			Title:      s.Metadata.Title,
			Snippet:    s.PageContent,
			Engine:     c.Engine(),
			Query:      query,
			Rank:       i + 1,
			ObservedAt: now,
		})
	}

	return results, nil
}

// Health probes instance reachability.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perplexica unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("perplexica unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}

func (c *Client) transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return searchtypes.NewAdapterError(c.Engine(), searchtypes.ErrTimeout, err)
	}
	return searchtypes.NewAdapterError(c.Engine(), searchtypes.ErrNetwork, err)
}

// Perplexica API types

type searchRequest struct {
	FocusMode        string `json:"focusMode"`
	OptimizationMode string `json:"optimizationMode,omitempty"`
	Query            string `json:"query"`
}

type searchResponse struct {
	Message string   `json:"message"`
	Sources []source `json:"sources"`
}

type source struct {
	PageContent string         `json:"pageContent"`
	Metadata    sourceMetadata `json:"metadata"`
}

type sourceMetadata struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Ensure Client implements the adapter interface.
var _ searchtypes.Adapter = (*Client)(nil)
