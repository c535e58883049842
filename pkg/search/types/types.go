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
// Package types contains the shared search contract: the engine
// enumeration, the adapter interface every provider implements, the
// result shape, and the adapter error taxonomy.
//
// Nothing outside adapter code may branch on specific engine values.
package types

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Engine identifies an external search provider.
// Values are persisted uppercase (text arrays in session rows).
type Engine string

const (
	EngineBrave      Engine = "BRAVE"
	EngineSerper     Engine = "SERPER"
	EngineSearXNG    Engine = "SEARXNG"
	EnginePerplexica Engine = "PERPLEXICA"
)

// AllEngines returns every known engine in declaration order.
func AllEngines() []Engine {
	return []Engine{EngineBrave, EngineSerper, EngineSearXNG, EnginePerplexica}
}

// ParseEngine parses a case-insensitive engine name.
func ParseEngine(s string) (Engine, error) {
	switch Engine(strings.ToUpper(strings.TrimSpace(s))) {
	case EngineBrave:
		return EngineBrave, nil
	case EngineSerper:
		return EngineSerper, nil
	case EngineSearXNG:
		return EngineSearXNG, nil
	case EnginePerplexica:
		return EnginePerplexica, nil
	default:
		return "", fmt.Errorf("unknown search engine: %q", s)
	}
}

// Valid reports whether e is a known engine.
func (e Engine) Valid() bool {
	_, err := ParseEngine(string(e))
	return err == nil
}

func (e Engine) String() string {
	return string(e)
}

// Query is a single engine-tagged query string ready for fan-out.
type Query struct {
	Text   string
	Engine Engine
}

// Result is one search hit as reported by an adapter.
type Result struct {
	// URL is the landing page as returned by the provider.
	URL string

	// Title is the result title; may be empty for degraded providers.
	Title string

	// Snippet is the provider's description/content excerpt.
	Snippet string

	// Engine is the originating adapter.
	Engine Engine

	// Query is the query text that produced this result.
	Query string

	// Rank is the 1-based position within the provider's result list.
	Rank int

	// ObservedAt is when the adapter received the result.
	ObservedAt time.Time
}

// Adapter is the unified per-engine search contract.
//
// Implementations must be safe for concurrent use; the orchestrator
// shares one adapter instance across all in-flight queries.
type Adapter interface {
	// Search runs one query and returns up to maxResults results.
	// Errors are *AdapterError values carrying the taxonomy kind.
	Search(ctx context.Context, query string, maxResults int) ([]Result, error)

	// Engine returns the engine this adapter speaks for.
	Engine() Engine

	// Enabled reports whether the adapter is configured for use.
	Enabled() bool

	// Health probes the provider endpoint.
	Health(ctx context.Context) error
}

// ErrorKind classifies an adapter failure.
type ErrorKind string

const (
	ErrRateLimited     ErrorKind = "RATE_LIMITED"
	ErrTimeout         ErrorKind = "TIMEOUT"
	ErrAuthFailed      ErrorKind = "AUTH_FAILED"
	ErrNetwork         ErrorKind = "NETWORK_ERROR"
	ErrInvalidResponse ErrorKind = "INVALID_RESPONSE"
	ErrCircuitOpen     ErrorKind = "CIRCUIT_OPEN"
	ErrUnknown         ErrorKind = "UNKNOWN"
)

// Retryable reports whether a failure of this kind is transient.
// Only transient failures are retried by the resilience layer.
func (k ErrorKind) Retryable() bool {
	switch k {
	case ErrRateLimited, ErrTimeout, ErrNetwork:
		return true
	default:
		return false
	}
}

func (k ErrorKind) String() string {
	return string(k)
}

// AdapterError is the error type every adapter surfaces.
type AdapterError struct {
	Engine Engine
	Kind   ErrorKind
	Err    error
}

// NewAdapterError wraps err with an engine and taxonomy kind.
func NewAdapterError(engine Engine, kind ErrorKind, err error) *AdapterError {
	return &AdapterError{Engine: engine, Kind: kind, Err: err}
}

func (e *AdapterError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Engine, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Engine, e.Kind, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// KindOf extracts the taxonomy kind from any error. Non-adapter errors
// classify as Timeout (context deadline), Network (net errors), or
// Unknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrUnknown
	}
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return ErrTimeout
		}
		return ErrNetwork
	}
	return ErrUnknown
}

// KindFromStatus maps an HTTP response status to a taxonomy kind.
// Used by adapters after a non-2xx response.
func KindFromStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return ErrAuthFailed
	case status == 429:
		return ErrRateLimited
	case status >= 500:
		return ErrNetwork
	default:
		return ErrInvalidResponse
	}
}

// UsageRecord captures one adapter call for rate-limit accounting.
type UsageRecord struct {
	Engine         Engine
	Query          string
	ResultCount    int
	Success        bool
	ErrorKind      ErrorKind // empty when Success
	ExecutedAt     time.Time
	ResponseTimeMS int64
}

// UsageSink receives usage records. Sinks must tolerate concurrent
// writers; record errors are logged by the caller, never surfaced.
type UsageSink interface {
	RecordUsage(ctx context.Context, rec UsageRecord) error
}
