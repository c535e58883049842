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
package types

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEngine(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Engine
		wantErr bool
	}{
		{name: "uppercase", input: "BRAVE", want: EngineBrave},
		{name: "lowercase", input: "searxng", want: EngineSearXNG},
		{name: "mixed case", input: "Serper", want: EngineSerper},
		{name: "whitespace", input: "  perplexica  ", want: EnginePerplexica},
		{name: "unknown", input: "google", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseEngine(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_Valid(t *testing.T) {
	for _, e := range AllEngines() {
		assert.True(t, e.Valid(), "engine %s should be valid", e)
	}
	assert.False(t, Engine("BING").Valid())
}

func TestErrorKind_Retryable(t *testing.T) {
	retryable := []ErrorKind{ErrRateLimited, ErrTimeout, ErrNetwork}
	for _, k := range retryable {
		assert.True(t, k.Retryable(), "%s should be retryable", k)
	}

	permanent := []ErrorKind{ErrAuthFailed, ErrInvalidResponse, ErrCircuitOpen, ErrUnknown}
	for _, k := range permanent {
		assert.False(t, k.Retryable(), "%s should not be retryable", k)
	}
}

func TestAdapterError_Unwrap(t *testing.T) {
	inner := errors.New("connection reset")
	err := NewAdapterError(EngineBrave, ErrNetwork, inner)

	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "BRAVE")
	assert.Contains(t, err.Error(), "NETWORK_ERROR")

	var ae *AdapterError
	require.True(t, errors.As(fmt.Errorf("search failed: %w", err), &ae))
	assert.Equal(t, ErrNetwork, ae.Kind)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: ErrUnknown},
		{name: "adapter error", err: NewAdapterError(EngineSerper, ErrCircuitOpen, nil), want: ErrCircuitOpen},
		{name: "wrapped adapter error", err: fmt.Errorf("outer: %w", NewAdapterError(EngineSerper, ErrAuthFailed, nil)), want: ErrAuthFailed},
		{name: "deadline", err: context.DeadlineExceeded, want: ErrTimeout},
		{name: "plain", err: errors.New("boom"), want: ErrUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKindFromStatus(t *testing.T) {
	assert.Equal(t, ErrAuthFailed, KindFromStatus(401))
	assert.Equal(t, ErrAuthFailed, KindFromStatus(403))
	assert.Equal(t, ErrRateLimited, KindFromStatus(429))
	assert.Equal(t, ErrNetwork, KindFromStatus(500))
	assert.Equal(t, ErrNetwork, KindFromStatus(503))
	assert.Equal(t, ErrInvalidResponse, KindFromStatus(400))
	assert.Equal(t, ErrInvalidResponse, KindFromStatus(404))
}
