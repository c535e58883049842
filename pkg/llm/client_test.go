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
package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_ChatCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "HTTP/1.1", r.Proto)

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "local-model", req["model"])
		assert.InDelta(t, 0.7, req["temperature"], 1e-9)
		msgs, ok := req["messages"].([]interface{})
		require.True(t, ok)
		require.Len(t, msgs, 2)

		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "local-model",
			"choices": [{"index": 0,
			             "message": {"role": "assistant", "content": "bulgaria education grants\nscholarships sofia"},
			             "finish_reason": "stop"}]
		}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL + "/v1", APIKey: "test-key"})
	content, err := client.ChatCompletion(context.Background(), []Message{
		{Role: "system", Content: "You generate search queries."},
		{Role: "user", Content: "Generate 2 queries."},
	})
	require.NoError(t, err)
	assert.Equal(t, "bulgaria education grants\nscholarships sofia", content)
}

func TestClient_ChatCompletion_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "model not loaded"}}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	_, err := client.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestClient_ChatCompletion_ErrorPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error": {"message": "context length exceeded", "type": "invalid_request_error"}}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	_, err := client.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "context length exceeded")
}

func TestClient_ChatCompletion_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id": "chatcmpl-2", "choices": []}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL})
	_, err := client.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestClient_Health(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		_, _ = w.Write([]byte(`{"data": [{"id": "local-model"}]}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL + "/v1"})
	assert.NoError(t, client.Health(context.Background()))
}

func TestClient_Health_Unreachable(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	assert.Error(t, client.Health(context.Background()))
}

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(Config{})
	assert.Equal(t, DefaultBaseURL, client.baseURL)
	assert.Equal(t, DefaultModel, client.model)
	assert.Equal(t, DefaultTemperature, client.temperature)
	assert.Equal(t, DefaultMaxTokens, client.maxTokens)
	assert.Equal(t, DefaultTimeout, client.httpClient.Timeout)
}

func TestNewClient_ForcesHTTP1(t *testing.T) {
	client := NewClient(Config{})
	transport, ok := client.httpClient.Transport.(*http.Transport)
	require.True(t, ok)
	assert.False(t, transport.ForceAttemptHTTP2)
	require.NotNil(t, transport.TLSNextProto)
	assert.Empty(t, transport.TLSNextProto)
}
