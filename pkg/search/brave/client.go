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
package brave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	searchtypes "github.com/teradata-labs/needle/pkg/search/types"
)

// DefaultEndpoint is the Brave Search API endpoint.
// Docs: https://api.search.brave.com/app/documentation
const DefaultEndpoint = "https://api.search.brave.com/res/v1/web/search"

// Client implements the search adapter for the Brave Search API.
type Client struct {
	baseURL    string
	apiKey     string
	language   string
	safeSearch string
	enabled    bool
	httpClient *http.Client
}

// Config holds configuration for the Brave adapter.
type Config struct {
	BaseURL    string        // Default: DefaultEndpoint
	APIKey     string        // Required when Enabled
	Language   string        // Default: en
	SafeSearch string        // Default: moderate
	Timeout    time.Duration // Default: 10s
	Enabled    bool
}

// NewClient creates a new Brave Search adapter.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultEndpoint
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.SafeSearch == "" {
		cfg.SafeSearch = "moderate"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		language:   cfg.Language,
		safeSearch: cfg.SafeSearch,
		enabled:    cfg.Enabled,
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
	return searchtypes.EngineBrave
}

// Enabled reports whether the adapter is configured for use.
func (c *Client) Enabled() bool {
	return c.enabled
}

// Search runs one query against the Brave Search API.
func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]searchtypes.Result, error) {
	if maxResults <= 0 {
		maxResults = 10
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", fmt.Sprintf("%d", maxResults))
	params.Set("search_lang", c.language)
	params.Set("safesearch", c.safeSearch)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, searchtypes.NewAdapterError(c.Engine(), searchtypes.ErrUnknown,
			fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

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

	var braveResp searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&braveResp); err != nil {
		return nil, searchtypes.NewAdapterError(c.Engine(), searchtypes.ErrInvalidResponse,
			fmt.Errorf("failed to parse response: %w", err))
	}

	now := time.Now()
	results := make([]searchtypes.Result, 0, len(braveResp.Web.Results))
	for i, r := range braveResp.Web.Results {
		if len(results) >= maxResults {
			break
		}
		results = append(results, searchtypes.Result{
			URL:        r.URL,
			Title:      r.Title,
			Snippet:    r.Description,
			Engine:     c.Engine(),
			Query:      query,
			Rank:       i + 1,
			ObservedAt: now,
		})
	}

	return results, nil
}

// Health probes API reachability. Any HTTP response below 500 counts as
// healthy; auth errors mean the endpoint is up.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Subscription-Token", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("brave unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("brave unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}

func (c *Client) transportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return searchtypes.NewAdapterError(c.Engine(), searchtypes.ErrTimeout, err)
	}
	return searchtypes.NewAdapterError(c.Engine(), searchtypes.ErrNetwork, err)
}

// Brave API types

type searchResponse struct {
	Web struct {
		Results []webResult `json:"results"`
	} `json:"web"`
}

type webResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Age         string `json:"age,omitempty"`
}

// Ensure Client implements the adapter interface.
var _ searchtypes.Adapter = (*Client)(nil)
