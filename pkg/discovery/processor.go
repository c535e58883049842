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

// Package discovery runs Phase 1 of the funding pipeline end to end:
// generate queries, execute them across the search engines, judge every
// surviving hit on its metadata, and persist the promising ones as
// crawl candidates for Phase 2.
package discovery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teradata-labs/needle/internal/log"
	"github.com/teradata-labs/needle/pkg/judge"
	"github.com/teradata-labs/needle/pkg/observability"
	"github.com/teradata-labs/needle/pkg/registry"
	searchtypes "github.com/teradata-labs/needle/pkg/search/types"
	"github.com/teradata-labs/needle/pkg/storage"
)

// BatchStats aggregates one processed batch of search results.
type BatchStats struct {
	TotalProcessed       int
	CandidatesCreated    int
	SkippedLowConfidence int
	SkippedDomain        int
	DuplicateCandidates  int
	Failures             int

	// SkippedBlacklisted is filled in by the caller from the search
	// batch; the orchestrator drops blacklisted domains before results
	// reach the processor.
	SkippedBlacklisted int

	// Confidence spread of the candidates this batch created. Nil when
	// the batch created none.
	MinConfidence *decimal.Decimal
	AvgConfidence *decimal.Decimal
	MaxConfidence *decimal.Decimal

	// ConfidenceSum backs session-wide averaging across batches.
	ConfidenceSum decimal.Decimal

	Elapsed time.Duration
}

type outcomeKind int

const (
	outcomeCandidate outcomeKind = iota
	outcomeLowConfidence
	outcomeSkippedDomain
	outcomeDuplicate
	outcomeFailed
)

func (k outcomeKind) label() string {
	switch k {
	case outcomeCandidate:
		return "candidate"
	case outcomeLowConfidence:
		return "low_confidence"
	case outcomeSkippedDomain:
		return "skipped_domain"
	case outcomeDuplicate:
		return "duplicate"
	default:
		return "failed"
	}
}

type outcome struct {
	kind       outcomeKind
	confidence decimal.Decimal
}

// ProcessorConfig tunes per-result processing.
type ProcessorConfig struct {
	// Concurrency bounds the per-result fan-out. Default: 8.
	Concurrency int
}

// Processor judges a batch of search results and persists the ones
// worth crawling. One result is one unit of work: its failure is
// logged and counted, never allowed to abort the rest of the batch.
type Processor struct {
	registry    *registry.Registry
	committee   *judge.Committee
	candidates  storage.CandidateStore
	tracer      observability.Tracer
	concurrency int
}

// NewProcessor creates a processor. A nil tracer disables tracing.
func NewProcessor(reg *registry.Registry, committee *judge.Committee, candidates storage.CandidateStore, tracer observability.Tracer, cfg ProcessorConfig) *Processor {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Processor{
		registry:    reg,
		committee:   committee,
		candidates:  candidates,
		tracer:      tracer,
		concurrency: concurrency,
	}
}

// ProcessBatch runs the per-result pipeline over every result with
// bounded concurrency and returns the batch statistics.
func (p *Processor) ProcessBatch(ctx context.Context, sessionID uuid.UUID, results []searchtypes.Result) *BatchStats {
	start := time.Now()
	ctx, span := p.tracer.StartSpan(ctx, "discovery.process_batch",
		observability.WithSpanKind("judge"),
		observability.WithAttribute("session_id", sessionID.String()),
		observability.WithAttribute("result_count", len(results)))
	defer p.tracer.EndSpan(span)

	stats := &BatchStats{ConfidenceSum: decimal.Zero}
	var (
		mu          sync.Mutex
		confidences []decimal.Decimal
	)

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for _, result := range results {
		g.Go(func() error {
			out := p.processOne(ctx, sessionID, result)
			resultOutcomes.WithLabelValues(out.kind.label()).Inc()

			mu.Lock()
			defer mu.Unlock()
			stats.TotalProcessed++
			switch out.kind {
			case outcomeCandidate:
				stats.CandidatesCreated++
				confidences = append(confidences, out.confidence)
			case outcomeLowConfidence:
				stats.SkippedLowConfidence++
			case outcomeSkippedDomain:
				stats.SkippedDomain++
			case outcomeDuplicate:
				stats.DuplicateCandidates++
			case outcomeFailed:
				stats.Failures++
			}
			return nil
		})
	}
	_ = g.Wait() // workers report through stats, never through errors

	stats.Elapsed = time.Since(start)
	fillConfidenceSpread(stats, confidences)
	batchSeconds.Observe(stats.Elapsed.Seconds())

	span.SetAttribute("candidates_created", stats.CandidatesCreated)
	span.SetAttribute("failures", stats.Failures)
	return stats
}

// processOne runs a single result through eligibility, registration,
// judging, and persistence.
func (p *Processor) processOne(ctx context.Context, sessionID uuid.UUID, result searchtypes.Result) outcome {
	eligible, err := p.registry.ShouldProcess(ctx, result.URL)
	if err != nil {
		if errors.Is(err, registry.ErrInvalidURL) {
			log.Warn("result URL rejected",
				zap.String("url", result.URL),
				zap.String("engine", result.Engine.String()))
		} else {
			log.Error("domain eligibility check failed",
				zap.String("url", result.URL),
				zap.Error(err))
		}
		return outcome{kind: outcomeFailed}
	}
	if !eligible {
		return outcome{kind: outcomeSkippedDomain}
	}

	domain, err := p.registry.Register(ctx, result.URL, sessionID)
	if err != nil {
		log.Error("domain registration failed",
			zap.String("url", result.URL),
			zap.Error(err))
		return outcome{kind: outcomeFailed}
	}

	judgment := p.committee.Judge(result)

	if !judgment.ShouldCrawl {
		if err := p.registry.UpdateQuality(ctx, domain.ID, judgment.Confidence, false); err != nil {
			log.Error("quality update failed",
				zap.String("domain", domain.Name),
				zap.Error(err))
			return outcome{kind: outcomeFailed}
		}
		return outcome{kind: outcomeLowConfidence}
	}

	candidate := &storage.FundingCandidate{
		ID:           uuid.New(),
		SessionID:    sessionID,
		DomainID:     domain.ID,
		Status:       storage.CandidateStatusPendingCrawl,
		SourceURL:    result.URL,
		Title:        result.Title,
		Snippet:      result.Snippet,
		Confidence:   judgment.Confidence,
		Organization: judgment.Organization,
		Program:      judgment.Program,
		Reasoning:    judgment.Reasoning,
		Engine:       result.Engine,
		Query:        result.Query,
		DiscoveredAt: time.Now().UTC(),
	}
	if err := p.candidates.Insert(ctx, candidate); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			// Same URL already judged earlier in this session. The
			// existing candidate stands; quality counters stay put.
			return outcome{kind: outcomeDuplicate}
		}
		log.Error("candidate persistence failed",
			zap.String("url", result.URL),
			zap.Error(err))
		return outcome{kind: outcomeFailed}
	}
	candidateConfidence.Observe(judgment.Confidence.InexactFloat64())

	if err := p.registry.UpdateQuality(ctx, domain.ID, judgment.Confidence, true); err != nil {
		// The candidate row is already durable; losing one counter
		// increment is preferable to dropping the candidate.
		log.Error("quality update failed after candidate insert",
			zap.String("domain", domain.Name),
			zap.Error(err))
	}

	log.Debug("candidate created",
		zap.String("url", result.URL),
		zap.String("organization", judgment.Organization),
		zap.String("confidence", judgment.Confidence.StringFixed(2)))
	return outcome{kind: outcomeCandidate, confidence: judgment.Confidence}
}

func fillConfidenceSpread(stats *BatchStats, confidences []decimal.Decimal) {
	if len(confidences) == 0 {
		return
	}
	lo, hi, sum := confidences[0], confidences[0], decimal.Zero
	for _, c := range confidences {
		if c.LessThan(lo) {
			lo = c
		}
		if c.GreaterThan(hi) {
			hi = c
		}
		sum = sum.Add(c)
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(confidences)))).Round(2)
	stats.MinConfidence = &lo
	stats.AvgConfidence = &avg
	stats.MaxConfidence = &hi
	stats.ConfidenceSum = sum
}
