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
	"context"
	"encoding/json"
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
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "api-key-123", r.Header.Get("X-API-KEY"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "stem scholarships bulgaria", req["q"])
		assert.Equal(t, float64(3), req["num"])

		_, _ = w.Write([]byte(`{
			"organic": [
				{"title": "STEM Scholarships | America for Bulgaria Foundation",
				 "link": "https://us4bg.org/stem",
				 "snippet": "Scholarship funding for Bulgarian students",
				 "position": 1},
				{"title": "Fellowships - Sofia University",
				 "link": "https://uni-sofia.bg/fellowships",
				 "snippet": "University fellowships",
				 "position": 2}
			]
		}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, APIKey: "api-key-123", Enabled: true})
	results, err := client.Search(context.Background(), "stem scholarships bulgaria", 3)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "https://us4bg.org/stem", results[0].URL)
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, searchtypes.EngineSerper, results[0].Engine)
	assert.Equal(t, "stem scholarships bulgaria", results[0].Query)
}

func TestClient_Search_RankFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// no position fields
		_, _ = w.Write([]byte(`{"organic":[
			{"title":"a","link":"https://a.org","snippet":"s"},
			{"title":"b","link":"https://b.org","snippet":"s"}
		]}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, APIKey: "k", Enabled: true})
	results, err := client.Search(context.Background(), "grants", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].Rank)
	assert.Equal(t, 2, results[1].Rank)
}

func TestClient_Search_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL, APIKey: "k", Enabled: true})
	_, err := client.Search(context.Background(), "grants", 5)

	var ae *searchtypes.AdapterError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, searchtypes.ErrRateLimited, ae.Kind)
	assert.Equal(t, searchtypes.EngineSerper, ae.Engine)
}

func TestClient_Defaults(t *testing.T) {
	client := NewClient(Config{APIKey: "k"})
	assert.Equal(t, DefaultEndpoint, client.baseURL)
	assert.Equal(t, "en", client.language)
	assert.False(t, client.Enabled())
}
