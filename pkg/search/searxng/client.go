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
package searxng

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	searchtypes "github.com/teradata-labs/needle/pkg/search/types"
)

// Client implements the search adapter for a self-hosted SearXNG
// meta-search instance. SearXNG is contacted over plain HTTP with
// format=json; no authentication.
type Client struct {
	baseURL    string
	language   string
	enabled    bool
	httpClient *http.Client
}

// Config holds configuration for the SearXNG adapter.
type Config struct {
	BaseURL  string        // Default: http://localhost:8888
	Language string        // Default: en
	Timeout  time.Duration // Default: 10s
	Enabled  bool
}

// NewClient creates a new SearXNG adapter.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8888"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		language: cfg.Language,
		enabled:  cfg.Enabled,
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
	return searchtypes.EngineSearXNG
}

// Enabled reports whether the adapter is configured for use.
func (c *Client) Enabled() bool {
	return c.enabled
}

// Search runs one query against the SearXNG instance. The instance
// decides its own result count; the adapter truncates to maxResults.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]searchtypes.Result, error) {
	if maxResults <= 0 {
		maxResults = 10
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("language", c.language)
	params.Set("safesearch", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, searchtypes.NewAdapterError(c.Engine(), searchtypes.ErrUnknown,
			fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, searchtypes.NewAdapterError(c.Engine(), searchtypes.KindFromStatus(resp.StatusCode),
			fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body)))
	}

	var searxResp searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&searxResp); err != nil {
		return nil, searchtypes.NewAdapterError(c.Engine(), searchtypes.ErrInvalidResponse,
			fmt.Errorf("failed to parse response: %w", err))
	}

	now := time.Now()
	results := make([]searchtypes.Result, 0, len(searxResp.Results))
	for i, r := range searxResp.Results {
		if len(results) >= maxResults {
			break
		}
		results = append(results, searchtypes.Result{
			URL:        r.URL,
			Title:      r.Title,
			Snippet:    r.Content,
			Engine:     c.Engine(),
			Query:      query,
			Rank:       i + 1,
			ObservedAt: now,
		})
	}

	return results, nil
}

// Health probes the instance healthz endpoint.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("searxng unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("searxng unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}

func (c *Client) transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return searchtypes.NewAdapterError(c.Engine(), searchtypes.ErrTimeout, err)
	}
	return searchtypes.NewAdapterError(c.Engine(), searchtypes.ErrNetwork, err)
}

// SearXNG API types

type searchResponse struct {
	Query   string         `json:"query"`
	Results []searchResult `json:"results"`
}

type searchResult struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Engine  string  `json:"engine,omitempty"`
	Score   float64 `json:"score,omitempty"`
}

// Ensure Client implements the adapter interface.
var _ searchtypes.Adapter = (*Client)(nil)
