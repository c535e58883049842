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
// Package search fans queries out across engine adapters and reduces
// the raw hits into a clean, deduplicated batch.
//
// The orchestrator owns the fan-out, the anti-spam filter, domain-level
// deduplication, and the blacklist gate. Adapters guard themselves with
// retries and circuit breakers underneath (pkg/search/resilience); the
// orchestrator only classifies whatever errors bubble up.
package search

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teradata-labs/needle/internal/log"
	"github.com/teradata-labs/needle/pkg/observability"
	searchtypes "github.com/teradata-labs/needle/pkg/search/types"
)

// ErrAllEnginesFailed marks a batch in which no adapter call succeeded.
// Callers treat it as a session-level failure.
var ErrAllEnginesFailed = errors.New("all search engines failed")

// DomainResolver is the registry seam the orchestrator needs: extract
// the registrable domain from a result URL and answer whether that
// domain is currently blacklisted.
type DomainResolver interface {
	ExtractDomain(rawURL string) (string, error)
	IsBlacklisted(ctx context.Context, domain string) (bool, error)
}

// EngineStats aggregates per-engine counters for one batch.
type EngineStats struct {
	// Raw is the number of results the engine returned.
	Raw int

	// SpamFiltered is the number of results the anti-spam filter dropped.
	SpamFiltered int

	// DuplicatesRemoved is the number of results dropped because another
	// result for the same domain ranked better.
	DuplicatesRemoved int

	// InvalidURL is the number of results dropped because no domain
	// could be extracted from their URL.
	InvalidURL int
}

// BatchResult is the aggregated outcome of one orchestrated batch.
type BatchResult struct {
	// Results are the surviving hits, one per domain, ordered by rank
	// then URL.
	Results []searchtypes.Result

	// Stats holds per-engine counters for every engine the batch
	// targeted.
	Stats map[searchtypes.Engine]*EngineStats

	// Errors lists every failed adapter call, classified into the
	// adapter error taxonomy.
	Errors []*searchtypes.AdapterError

	// Blacklisted is the number of results dropped because their
	// domain is blacklisted.
	Blacklisted int
}

// OrchestratorConfig tunes batch execution.
type OrchestratorConfig struct {
	// BatchDeadline bounds the fan-out wait. Default: 10s.
	BatchDeadline time.Duration
}

// Orchestrator executes query batches against the adapter set.
type Orchestrator struct {
	adapters map[searchtypes.Engine]searchtypes.Adapter
	filter   *Filter
	domains  DomainResolver
	tracer   observability.Tracer
	deadline time.Duration
}

// NewOrchestrator indexes the enabled adapters by engine. domains must
// not be nil; filter may be nil for the default pattern lists; tracer
// may be nil for no-op tracing.
func NewOrchestrator(adapters []searchtypes.Adapter, filter *Filter, domains DomainResolver, tracer observability.Tracer, cfg OrchestratorConfig) *Orchestrator {
	if filter == nil {
		filter = NewFilter(DefaultFilterConfig())
	}
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	if cfg.BatchDeadline == 0 {
		cfg.BatchDeadline = 10 * time.Second
	}

	indexed := make(map[searchtypes.Engine]searchtypes.Adapter, len(adapters))
	for _, a := range adapters {
		if a.Enabled() {
			indexed[a.Engine()] = a
		}
	}
	return &Orchestrator{
		adapters: indexed,
		filter:   filter,
		domains:  domains,
		tracer:   tracer,
		deadline: cfg.BatchDeadline,
	}
}

// Engines returns the engines this orchestrator can serve.
func (o *Orchestrator) Engines() []searchtypes.Engine {
	out := make([]searchtypes.Engine, 0, len(o.adapters))
	for _, e := range searchtypes.AllEngines() {
		if _, ok := o.adapters[e]; ok {
			out = append(out, e)
		}
	}
	return out
}

// Execute runs one batch: concurrent adapter calls for every query,
// bounded by the batch deadline, then spam filtering, domain-level
// deduplication, and the blacklist gate.
//
// The batch fails only when no call succeeded at all; even then the
// returned batch carries the classified errors for session recording.
// Partial failure is not an error: the surviving results come back
// alongside the error list.
func (o *Orchestrator) Execute(ctx context.Context, queries []searchtypes.Query, maxResults int, sessionID uuid.UUID) (*BatchResult, error) {
	ctx, span := o.tracer.StartSpan(ctx, "search.execute",
		observability.WithSpanKind("search"),
		observability.WithAttribute("session_id", sessionID.String()),
		observability.WithAttribute("query_count", len(queries)))
	defer o.tracer.EndSpan(span)

	batch := &BatchResult{Stats: make(map[searchtypes.Engine]*EngineStats)}
	if len(queries) == 0 {
		return batch, nil
	}

	raw, successes := o.fanOut(ctx, queries, maxResults, batch)

	if successes == 0 {
		span.RecordError(ErrAllEnginesFailed)
		return batch, ErrAllEnginesFailed
	}

	kept := o.applySpamFilter(raw, batch)
	kept = o.dedupeByDomain(kept, batch)
	// The fan-out deadline does not bind the blacklist lookups.
	batch.Results = o.dropBlacklisted(ctx, kept, batch)

	span.SetAttribute("result_count", len(batch.Results))
	span.SetAttribute("error_count", len(batch.Errors))
	log.Info("search batch complete",
		zap.String("session_id", sessionID.String()),
		zap.Int("queries", len(queries)),
		zap.Int("results", len(batch.Results)),
		zap.Int("errors", len(batch.Errors)),
		zap.Int("blacklisted", batch.Blacklisted))
	return batch, nil
}

// fanOut runs every query against its target adapter concurrently and
// collects raw results, per-engine counters, and classified errors.
// It returns the raw results and the number of successful calls.
func (o *Orchestrator) fanOut(ctx context.Context, queries []searchtypes.Query, maxResults int, batch *BatchResult) ([]searchtypes.Result, int) {
	fanCtx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	var (
		mu        sync.Mutex
		raw       []searchtypes.Result
		successes int
	)

	for _, q := range queries {
		ensureStats(batch, q.Engine)
	}

	var g errgroup.Group
	for _, q := range queries {
		adapter, ok := o.adapters[q.Engine]
		if !ok {
			mu.Lock()
			batch.Errors = append(batch.Errors, searchtypes.NewAdapterError(
				q.Engine, searchtypes.ErrUnknown, errors.New("no enabled adapter for engine")))
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			results, err := adapter.Search(fanCtx, q.Text, maxResults)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				batch.Errors = append(batch.Errors, classify(q.Engine, err))
				return nil
			}
			successes++
			batch.Stats[q.Engine].Raw += len(results)
			raw = append(raw, results...)
			return nil
		})
	}
	_ = g.Wait()

	return raw, successes
}

func (o *Orchestrator) applySpamFilter(in []searchtypes.Result, batch *BatchResult) []searchtypes.Result {
	kept := in[:0]
	for _, r := range in {
		verdict := o.filter.Check(r)
		if !verdict.Accepted {
			ensureStats(batch, r.Engine).SpamFiltered++
			log.Debug("spam filter rejected result",
				zap.String("url", r.URL),
				zap.String("reason", string(verdict.Reason)))
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// dedupeByDomain keeps one result per extracted domain: the lowest
// rank wins, ties break on lexicographic URL. Results without an
// extractable domain are dropped.
func (o *Orchestrator) dedupeByDomain(in []searchtypes.Result, batch *BatchResult) []searchtypes.Result {
	best := make(map[string]searchtypes.Result, len(in))
	for _, r := range in {
		domain, err := o.domains.ExtractDomain(r.URL)
		if err != nil {
			ensureStats(batch, r.Engine).InvalidURL++
			log.Debug("dropping result with unextractable domain",
				zap.String("url", r.URL), zap.Error(err))
			continue
		}

		current, seen := best[domain]
		if !seen {
			best[domain] = r
			continue
		}
		if r.Rank < current.Rank || (r.Rank == current.Rank && r.URL < current.URL) {
			ensureStats(batch, current.Engine).DuplicatesRemoved++
			best[domain] = r
		} else {
			ensureStats(batch, r.Engine).DuplicatesRemoved++
		}
	}

	out := make([]searchtypes.Result, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank < out[j].Rank
		}
		return out[i].URL < out[j].URL
	})
	return out
}

// dropBlacklisted consults the domain registry for every surviving
// result. Lookup failures keep the result; the processor re-checks
// every domain before judging.
func (o *Orchestrator) dropBlacklisted(ctx context.Context, in []searchtypes.Result, batch *BatchResult) []searchtypes.Result {
	kept := in[:0]
	for _, r := range in {
		domain, err := o.domains.ExtractDomain(r.URL)
		if err != nil {
			continue
		}
		blacklisted, err := o.domains.IsBlacklisted(ctx, domain)
		if err != nil {
			log.Warn("blacklist lookup failed, keeping result",
				zap.String("domain", domain), zap.Error(err))
			kept = append(kept, r)
			continue
		}
		if blacklisted {
			batch.Blacklisted++
			continue
		}
		kept = append(kept, r)
	}
	return kept
}

// classify wraps an adapter call error into the taxonomy, preserving
// an existing classification when the adapter already made one.
func classify(engine searchtypes.Engine, err error) *searchtypes.AdapterError {
	var ae *searchtypes.AdapterError
	if errors.As(err, &ae) {
		return ae
	}
	return searchtypes.NewAdapterError(engine, searchtypes.KindOf(err), err)
}

func ensureStats(batch *BatchResult, engine searchtypes.Engine) *EngineStats {
	s, ok := batch.Stats[engine]
	if !ok {
		s = &EngineStats{}
		batch.Stats[engine] = s
	}
	return s
}
