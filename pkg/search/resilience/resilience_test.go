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
package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	searchtypes "github.com/teradata-labs/needle/pkg/search/types"
)

// scriptedAdapter returns whatever its script says for the n-th call.
type scriptedAdapter struct {
	engine    searchtypes.Engine
	script    func(call int) ([]searchtypes.Result, error)
	healthErr error

	mu    sync.Mutex
	calls int
}

func (f *scriptedAdapter) Search(ctx context.Context, query string, maxResults int) ([]searchtypes.Result, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	return f.script(n)
}

func (f *scriptedAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *scriptedAdapter) Engine() searchtypes.Engine       { return f.engine }
func (f *scriptedAdapter) Enabled() bool                    { return true }
func (f *scriptedAdapter) Health(ctx context.Context) error { return f.healthErr }

type captureSink struct {
	mu   sync.Mutex
	recs []searchtypes.UsageRecord
}

func (s *captureSink) RecordUsage(ctx context.Context, rec searchtypes.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *captureSink) records() []searchtypes.UsageRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]searchtypes.UsageRecord, len(s.recs))
	copy(out, s.recs)
	return out
}

func okResults(n int) []searchtypes.Result {
	out := make([]searchtypes.Result, n)
	for i := range out {
		out[i] = searchtypes.Result{URL: "https://example.org", Rank: i + 1}
	}
	return out
}

func TestWrap_Defaults(t *testing.T) {
	inner := &scriptedAdapter{engine: searchtypes.EngineBrave}
	a := Wrap(inner, nil, Config{})

	assert.Equal(t, uint(3), a.cfg.MaxAttempts)
	assert.Equal(t, 10*time.Second, a.cfg.Timeout)
	assert.Equal(t, 0.5, a.cfg.FailureRatio)
	assert.Equal(t, uint32(10), a.cfg.WindowSize)
	assert.Equal(t, 60*time.Second, a.cfg.Cooldown)
	assert.Equal(t, searchtypes.EngineBrave, a.Engine())
	assert.True(t, a.Enabled())
}

func TestSearch_Success(t *testing.T) {
	inner := &scriptedAdapter{
		engine: searchtypes.EngineBrave,
		script: func(int) ([]searchtypes.Result, error) { return okResults(2), nil },
	}
	sink := &captureSink{}
	a := Wrap(inner, sink, Config{InitialInterval: time.Millisecond})

	results, err := a.Search(context.Background(), "eu research grants", 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, 1, inner.callCount())

	recs := sink.records()
	require.Len(t, recs, 1)
	assert.Equal(t, searchtypes.EngineBrave, recs[0].Engine)
	assert.Equal(t, "eu research grants", recs[0].Query)
	assert.Equal(t, 2, recs[0].ResultCount)
	assert.True(t, recs[0].Success)
	assert.Empty(t, recs[0].ErrorKind)
}

func TestSearch_RetriesTransientThenSucceeds(t *testing.T) {
	inner := &scriptedAdapter{
		engine: searchtypes.EngineSerper,
		script: func(call int) ([]searchtypes.Result, error) {
			if call < 3 {
				return nil, searchtypes.NewAdapterError(
					searchtypes.EngineSerper, searchtypes.ErrNetwork, errors.New("connection reset"))
			}
			return okResults(1), nil
		},
	}
	a := Wrap(inner, nil, Config{InitialInterval: time.Millisecond})

	results, err := a.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, 3, inner.callCount())
}

func TestSearch_NoRetryOnPermanentKinds(t *testing.T) {
	for _, kind := range []searchtypes.ErrorKind{
		searchtypes.ErrAuthFailed,
		searchtypes.ErrInvalidResponse,
		searchtypes.ErrUnknown,
	} {
		t.Run(kind.String(), func(t *testing.T) {
			inner := &scriptedAdapter{
				engine: searchtypes.EngineBrave,
				script: func(int) ([]searchtypes.Result, error) {
					return nil, searchtypes.NewAdapterError(searchtypes.EngineBrave, kind, errors.New("boom"))
				},
			}
			sink := &captureSink{}
			a := Wrap(inner, sink, Config{InitialInterval: time.Millisecond})

			_, err := a.Search(context.Background(), "q", 5)
			var ae *searchtypes.AdapterError
			require.True(t, errors.As(err, &ae))
			assert.Equal(t, kind, ae.Kind)
			assert.Equal(t, 1, inner.callCount(), "permanent kinds must not retry")

			recs := sink.records()
			require.Len(t, recs, 1)
			assert.False(t, recs[0].Success)
			assert.Equal(t, kind, recs[0].ErrorKind)
		})
	}
}

func TestSearch_RetryBudgetBoundedByTimeout(t *testing.T) {
	inner := &scriptedAdapter{
		engine: searchtypes.EngineSearXNG,
		script: func(int) ([]searchtypes.Result, error) {
			return nil, searchtypes.NewAdapterError(
				searchtypes.EngineSearXNG, searchtypes.ErrNetwork, errors.New("unreachable"))
		},
	}
	a := Wrap(inner, nil, Config{
		MaxAttempts:     10,
		InitialInterval: 20 * time.Millisecond,
		Timeout:         30 * time.Millisecond,
	})

	start := time.Now()
	_, err := a.Search(context.Background(), "q", 5)
	elapsed := time.Since(start)

	var ae *searchtypes.AdapterError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, searchtypes.ErrTimeout, ae.Kind)
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.Less(t, inner.callCount(), 10)
}

func TestSearch_BreakerOpensAndShortCircuits(t *testing.T) {
	inner := &scriptedAdapter{
		engine: searchtypes.EngineSerper,
		script: func(int) ([]searchtypes.Result, error) {
			return nil, searchtypes.NewAdapterError(
				searchtypes.EngineSerper, searchtypes.ErrAuthFailed, errors.New("bad key"))
		},
	}
	a := Wrap(inner, nil, Config{
		InitialInterval: time.Millisecond,
		FailureRatio:    0.5,
		WindowSize:      3,
		Cooldown:        time.Minute,
	})

	for i := 0; i < 3; i++ {
		_, err := a.Search(context.Background(), "q", 5)
		require.Error(t, err)
	}
	require.Equal(t, gobreaker.StateOpen, a.State())
	require.Equal(t, 3, inner.callCount())

	_, err := a.Search(context.Background(), "q", 5)
	var ae *searchtypes.AdapterError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, searchtypes.ErrCircuitOpen, ae.Kind)
	assert.Equal(t, 3, inner.callCount(), "open breaker must not invoke the adapter")
}

func TestSearch_BreakerHalfOpenRecovery(t *testing.T) {
	inner := &scriptedAdapter{
		engine: searchtypes.EngineBrave,
		script: func(call int) ([]searchtypes.Result, error) {
			if call <= 3 {
				return nil, searchtypes.NewAdapterError(
					searchtypes.EngineBrave, searchtypes.ErrAuthFailed, errors.New("bad key"))
			}
			return okResults(1), nil
		},
	}
	a := Wrap(inner, nil, Config{
		InitialInterval: time.Millisecond,
		FailureRatio:    0.5,
		WindowSize:      3,
		Cooldown:        50 * time.Millisecond,
	})

	for i := 0; i < 3; i++ {
		_, _ = a.Search(context.Background(), "q", 5)
	}
	require.Equal(t, gobreaker.StateOpen, a.State())

	time.Sleep(70 * time.Millisecond)

	results, err := a.Search(context.Background(), "q", 5)
	require.NoError(t, err, "half-open probe should be admitted")
	assert.Len(t, results, 1)
	assert.Equal(t, gobreaker.StateClosed, a.State())
}

func TestSearch_CircuitOpenRecordedInUsage(t *testing.T) {
	inner := &scriptedAdapter{
		engine: searchtypes.EngineSerper,
		script: func(int) ([]searchtypes.Result, error) {
			return nil, searchtypes.NewAdapterError(
				searchtypes.EngineSerper, searchtypes.ErrNetwork, errors.New("down"))
		},
	}
	sink := &captureSink{}
	a := Wrap(inner, sink, Config{
		MaxAttempts:     1,
		InitialInterval: time.Millisecond,
		FailureRatio:    0.5,
		WindowSize:      2,
		Cooldown:        time.Minute,
	})

	_, _ = a.Search(context.Background(), "q", 5)
	_, _ = a.Search(context.Background(), "q", 5)
	require.Equal(t, gobreaker.StateOpen, a.State())

	_, err := a.Search(context.Background(), "q", 5)
	require.Error(t, err)

	recs := sink.records()
	require.Len(t, recs, 3)
	assert.Equal(t, searchtypes.ErrNetwork, recs[0].ErrorKind)
	assert.Equal(t, searchtypes.ErrNetwork, recs[1].ErrorKind)
	assert.Equal(t, searchtypes.ErrCircuitOpen, recs[2].ErrorKind)
}

func TestHealth_BypassesBreaker(t *testing.T) {
	inner := &scriptedAdapter{
		engine: searchtypes.EngineBrave,
		script: func(int) ([]searchtypes.Result, error) {
			return nil, searchtypes.NewAdapterError(
				searchtypes.EngineBrave, searchtypes.ErrAuthFailed, errors.New("bad key"))
		},
	}
	a := Wrap(inner, nil, Config{
		InitialInterval: time.Millisecond,
		WindowSize:      2,
		Cooldown:        time.Minute,
	})

	_, _ = a.Search(context.Background(), "q", 5)
	_, _ = a.Search(context.Background(), "q", 5)
	require.Equal(t, gobreaker.StateOpen, a.State())

	assert.NoError(t, a.Health(context.Background()))
}
