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
package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	searchtypes "github.com/teradata-labs/needle/pkg/search/types"
)

// DefaultEndpoint is the Serper.dev search endpoint (Google results).
// Docs: https://serper.dev/
const DefaultEndpoint = "https://google.serper.dev/search"

// Client implements the search adapter for the Serper API.
type Client struct {
	baseURL    string
	apiKey     string
	language   string
	enabled    bool
	httpClient *http.Client
}

// Config holds configuration for the Serper adapter.
type Config struct {
	BaseURL  string        // Default: DefaultEndpoint
	APIKey   string        // Required when Enabled
	Language string        // Default: en
	Timeout  time.Duration // Default: 10s
	Enabled  bool
}

// NewClient creates a new Serper adapter.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultEndpoint
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
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
	return searchtypes.EngineSerper
}

// Enabled reports whether the adapter is configured for use.
func (c *Client) Enabled() bool {
	return c.enabled
}

// Search runs one query against the Serper API.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]searchtypes.Result, error) {
	if maxResults <= 0 {
		maxResults = 10
	}

	body, err := json.Marshal(searchRequest{Q: query, Num: maxResults, HL: c.language})
	if err != nil {
		return nil, searchtypes.NewAdapterError(c.Engine(), searchtypes.ErrUnknown,
			fmt.Errorf("failed to marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, searchtypes.NewAdapterError(c.Engine(), searchtypes.ErrUnknown,
			fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)

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

	var serperResp searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&serperResp); err != nil {
		return nil, searchtypes.NewAdapterError(c.Engine(), searchtypes.ErrInvalidResponse,
			fmt.Errorf("failed to parse response: %w", err))
	}

	now := time.Now()
	results := make([]searchtypes.Result, 0, len(serperResp.Organic))
	for i, r := range serperResp.Organic {
		if len(results) >= maxResults {
			break
		}
		rank := r.Position
		if rank <= 0 {
			rank = i + 1
		}
		results = append(results, searchtypes.Result{
			URL:        r.Link,
			Title:      r.Title,
			Snippet:    r.Snippet,
			Engine:     c.Engine(),
			Query:      query,
			Rank:       rank,
			ObservedAt: now,
		})
	}

	return results, nil
}

// Health probes API reachability. Any HTTP response below 500 counts as
// healthy.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("serper unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("serper unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}

func (c *Client) transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return searchtypes.NewAdapterError(c.Engine(), searchtypes.ErrTimeout, err)
	}
	return searchtypes.NewAdapterError(c.Engine(), searchtypes.ErrNetwork, err)
}

// Serper API types

type searchRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num,omitempty"`
	HL  string `json:"hl,omitempty"`
}

type searchResponse struct {
	Organic []organicResult `json:"organic"`
}

type organicResult struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
	Position int    `json:"position"`
	Date     string `json:"date,omitempty"`
}

// Ensure Client implements the adapter interface.
var _ searchtypes.Adapter = (*Client)(nil)
