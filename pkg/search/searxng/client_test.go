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
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	searchtypes "github.com/teradata-labs/needle/pkg/search/types"
)

func TestClient_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "bulgaria education grants", r.URL.Query().Get("q"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "en", r.URL.Query().Get("language"))

		_, _ = w.Write([]byte(`{
			"query": "bulgaria education grants",
			"results": [
				{"url": "https://us-bulgaria.org/ed-grant",
				 "title": "Bulgaria Education Grant - US-Bulgaria Foundation",
				 "content": "Grants and scholarships for Bulgarian students...",
				 "engine": "duckduckgo",
				 "score": 4.2}
			]
		}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Enabled: true})
	results, err := client.Search(context.Background(), "bulgaria education grants", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// content maps to snippet
	assert.Equal(t, "Grants and scholarships for Bulgarian students...", results[0].Snippet)
	assert.Equal(t, "Bulgaria Education Grant - US-Bulgaria Foundation", results[0].Title)
	assert.Equal(t, searchtypes.EngineSearXNG, results[0].Engine)
	assert.Equal(t, 1, results[0].Rank)
}

func TestClient_Search_Truncates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[
			{"url":"https://a.org","title":"a","content":"x"},
			{"url":"https://b.org","title":"b","content":"x"},
			{"url":"https://c.org","title":"c","content":"x"},
			{"url":"https://d.org","title":"d","content":"x"}
		]}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Enabled: true})
	results, err := client.Search(context.Background(), "grants", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestClient_Search_EmptyResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Enabled: true})
	results, err := client.Search(context.Background(), "grants", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestClient_Search_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Enabled: true})
	_, err := client.Search(context.Background(), "grants", 5)

	var ae *searchtypes.AdapterError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, searchtypes.ErrNetwork, ae.Kind)
}

func TestClient_Search_Unreachable(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1", Enabled: true})
	_, err := client.Search(context.Background(), "grants", 5)

	var ae *searchtypes.AdapterError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, searchtypes.ErrNetwork, ae.Kind)
}

func TestClient_Health(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/healthz", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, Enabled: true})
	assert.NoError(t, client.Health(context.Background()))
}

func TestNewClient_TrimsTrailingSlash(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://searx.local:8888/"})
	assert.Equal(t, "http://searx.local:8888", client.baseURL)
}
