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
// Package resilience decorates a search adapter with retry, a per-engine
// circuit breaker, and API-usage recording.
//
// Layering is breaker outermost: an open breaker fails the call before
// any retry or network activity. Inside the breaker, transient failures
// (rate limit, timeout, network) are retried with exponential backoff;
// the whole retry sequence shares one wall-clock budget.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/teradata-labs/needle/internal/log"
	searchtypes "github.com/teradata-labs/needle/pkg/search/types"
)

// Config tunes retry and breaker behavior for one adapter.
type Config struct {
	// MaxAttempts caps the total tries per Search call, first try
	// included.
	MaxAttempts uint

	// InitialInterval is the first backoff delay between attempts.
	InitialInterval time.Duration

	// Timeout bounds the wall clock of one Search call across all
	// attempts.
	Timeout time.Duration

	// FailureRatio trips the breaker when failures/requests reaches it.
	FailureRatio float64

	// WindowSize is the minimum request count before the ratio is
	// evaluated.
	WindowSize uint32

	// Cooldown is how long the breaker stays open before admitting a
	// half-open probe. It is also the period on which closed-state
	// counts reset, so the ratio tracks recent traffic.
	Cooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.InitialInterval == 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.FailureRatio == 0 {
		c.FailureRatio = 0.5
	}
	if c.WindowSize == 0 {
		c.WindowSize = 10
	}
	if c.Cooldown == 0 {
		c.Cooldown = 60 * time.Second
	}
	return c
}

// Adapter wraps an inner search adapter. It satisfies the same contract,
// so callers cannot tell a wrapped adapter from a bare one.
type Adapter struct {
	inner   searchtypes.Adapter
	breaker *gobreaker.CircuitBreaker
	sink    searchtypes.UsageSink
	cfg     Config
}

// Wrap decorates inner with retry, breaker, and usage recording.
// sink may be nil; usage records are then dropped.
func Wrap(inner searchtypes.Adapter, sink searchtypes.UsageSink, cfg Config) *Adapter {
	cfg = cfg.withDefaults()
	return &Adapter{
		inner:   inner,
		breaker: newBreaker(inner.Engine(), cfg),
		sink:    sink,
		cfg:     cfg,
	}
}

func newBreaker(engine searchtypes.Engine, cfg Config) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        engine.String(),
		MaxRequests: 1,
		Interval:    cfg.Cooldown,
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.WindowSize {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("search circuit breaker state change",
				zap.String("engine", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// Search runs one query through the breaker and retry policy, then
// records a usage row for the call regardless of outcome.
func (a *Adapter) Search(ctx context.Context, query string, maxResults int) ([]searchtypes.Result, error) {
	start := time.Now()

	out, err := a.breaker.Execute(func() (interface{}, error) {
		return a.searchWithRetry(ctx, query, maxResults)
	})

	elapsed := time.Since(start)
	if err != nil {
		err = a.normalize(err)
		a.recordUsage(ctx, query, 0, err, elapsed)
		return nil, err
	}

	results := out.([]searchtypes.Result)
	a.recordUsage(ctx, query, len(results), nil, elapsed)
	return results, nil
}

func (a *Adapter) searchWithRetry(ctx context.Context, query string, maxResults int) ([]searchtypes.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = a.cfg.InitialInterval

	attempt := 0
	op := func() ([]searchtypes.Result, error) {
		attempt++
		results, err := a.inner.Search(ctx, query, maxResults)
		if err == nil {
			return results, nil
		}
		if !searchtypes.KindOf(err).Retryable() {
			return nil, backoff.Permanent(err)
		}
		log.Debug("search attempt failed",
			zap.String("engine", a.inner.Engine().String()),
			zap.Int("attempt", attempt),
			zap.String("kind", searchtypes.KindOf(err).String()),
			zap.Error(err))
		return nil, err
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(a.cfg.MaxAttempts))
}

// normalize maps breaker sentinels and raw transport errors into the
// adapter error taxonomy. Adapter errors pass through untouched.
func (a *Adapter) normalize(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return searchtypes.NewAdapterError(a.inner.Engine(), searchtypes.ErrCircuitOpen, err)
	}
	var ae *searchtypes.AdapterError
	if errors.As(err, &ae) {
		return err
	}
	return searchtypes.NewAdapterError(a.inner.Engine(), searchtypes.KindOf(err), err)
}

func (a *Adapter) recordUsage(ctx context.Context, query string, count int, err error, elapsed time.Duration) {
	if a.sink == nil {
		return
	}
	rec := searchtypes.UsageRecord{
		Engine:         a.inner.Engine(),
		Query:          query,
		ResultCount:    count,
		Success:        err == nil,
		ExecutedAt:     time.Now().UTC(),
		ResponseTimeMS: elapsed.Milliseconds(),
	}
	if err != nil {
		rec.ErrorKind = searchtypes.KindOf(err)
	}
	// The call's own deadline may already be spent; the usage write
	// must still go through.
	if serr := a.sink.RecordUsage(context.WithoutCancel(ctx), rec); serr != nil {
		log.Warn("failed to record search api usage",
			zap.String("engine", rec.Engine.String()),
			zap.Error(serr))
	}
}

// State exposes the breaker state for health and stats endpoints.
func (a *Adapter) State() gobreaker.State {
	return a.breaker.State()
}

// Engine returns the wrapped adapter's engine.
func (a *Adapter) Engine() searchtypes.Engine {
	return a.inner.Engine()
}

// Enabled reports whether the wrapped adapter is configured for use.
func (a *Adapter) Enabled() bool {
	return a.inner.Enabled()
}

// Health probes the wrapped adapter directly, bypassing retry and the
// breaker; a health check must observe the provider, not our policy.
func (a *Adapter) Health(ctx context.Context) error {
	return a.inner.Health(ctx)
}

var _ searchtypes.Adapter = (*Adapter)(nil)
