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
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/teradata-labs/needle/internal/log"
	"github.com/teradata-labs/needle/pkg/observability"
	"github.com/teradata-labs/needle/pkg/query"
	"github.com/teradata-labs/needle/pkg/search"
	searchtypes "github.com/teradata-labs/needle/pkg/search/types"
	"github.com/teradata-labs/needle/pkg/session"
	"github.com/teradata-labs/needle/pkg/storage"
)

// ErrInvalidInput marks a trigger request the service refuses to run.
var ErrInvalidInput = errors.New("invalid input")

// maxResultsLimit bounds the per-query result count a caller may ask
// for.
const maxResultsLimit = 50

// Config tunes the discovery service.
type Config struct {
	// BatchSize is how many engine-tagged queries go into one
	// orchestrated batch. Default: 4.
	BatchSize int

	// MaxResults is the per-query result count when the trigger does
	// not name one. Default: 10.
	MaxResults int

	// QueryCount is how many queries to generate per engine when the
	// trigger does not name a count. Default: 5.
	QueryCount int

	// Categories and Geography seed generation for triggers that carry
	// neither, such as scheduled runs.
	Categories []string
	Geography  string

	// PromptID and ModelID identify the configured generation setup;
	// they are stamped onto every session for reproducibility.
	PromptID string
	ModelID  string
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 4
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 10
	}
	if c.QueryCount <= 0 {
		c.QueryCount = 5
	}
	return c
}

// TriggerParams describes one discovery request.
type TriggerParams struct {
	Type       storage.SessionType
	Engines    []searchtypes.Engine
	Categories []string
	Geography  string
	Tags       []query.Tag

	// QueryCount is the number of queries to generate per engine.
	// Zero means the configured default.
	QueryCount int

	// MaxResults per query. Zero means the configured default; values
	// outside [1, 50] are rejected.
	MaxResults int
}

// Service drives discovery sessions: it generates queries, opens a
// session, and runs the search-judge-persist loop asynchronously.
// Sessions can be cancelled between batches; in-flight batches always
// complete.
type Service struct {
	sessions  *session.Service
	queries   *query.Facade
	search    *search.Orchestrator
	processor *Processor
	tracer    observability.Tracer

	batchSize  int
	maxResults int
	queryCount int
	categories []string
	geography  string
	promptID   string
	modelID    string

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	running map[uuid.UUID]chan struct{}
	wg      sync.WaitGroup
}

// NewService wires the discovery pipeline. A nil tracer disables
// tracing.
func NewService(sessions *session.Service, queries *query.Facade, orchestrator *search.Orchestrator, processor *Processor, tracer observability.Tracer, cfg Config) *Service {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	cfg = cfg.withDefaults()
	baseCtx, baseCancel := context.WithCancel(context.Background())
	return &Service{
		sessions:   sessions,
		queries:    queries,
		search:     orchestrator,
		processor:  processor,
		tracer:     tracer,
		batchSize:  cfg.BatchSize,
		maxResults: cfg.MaxResults,
		queryCount: cfg.QueryCount,
		categories: cfg.Categories,
		geography:  cfg.Geography,
		promptID:   cfg.PromptID,
		modelID:    cfg.ModelID,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		running:    map[uuid.UUID]chan struct{}{},
	}
}

// Trigger generates queries, opens a RUNNING session, and starts the
// run in the background. It returns the new session and the number of
// engine-tagged queries dispatched to it.
func (s *Service) Trigger(ctx context.Context, params TriggerParams) (*storage.DiscoverySession, int, error) {
	ctx, span := s.tracer.StartSpan(ctx, "discovery.trigger",
		observability.WithAttribute("type", string(params.Type)))
	defer s.tracer.EndSpan(span)

	engines := params.Engines
	if len(engines) == 0 {
		engines = s.search.Engines()
	}
	if len(engines) == 0 {
		return nil, 0, fmt.Errorf("%w: no search engines enabled", ErrInvalidInput)
	}

	maxResults := params.MaxResults
	if maxResults == 0 {
		maxResults = s.maxResults
	}
	if maxResults < 1 || maxResults > maxResultsLimit {
		return nil, 0, fmt.Errorf("%w: max results must be in [1, %d], got %d", ErrInvalidInput, maxResultsLimit, params.MaxResults)
	}

	sessType := params.Type
	if sessType == "" {
		sessType = storage.SessionTypeManual
	}

	categories := params.Categories
	if len(categories) == 0 {
		categories = s.categories
	}
	geography := params.Geography
	if geography == "" {
		geography = s.geography
	}
	queryCount := params.QueryCount
	if queryCount == 0 {
		queryCount = s.queryCount
	}

	generated := s.queries.GenerateForMany(ctx, engines, query.Request{
		Categories: categories,
		Geography:  geography,
		Tags:       params.Tags,
		Count:      queryCount,
	})

	var (
		tagged []searchtypes.Query
		flat   []string
		seen   = map[string]struct{}{}
	)
	for _, engine := range engines {
		gq, ok := generated[engine]
		if !ok {
			continue
		}
		for _, text := range gq.Queries {
			tagged = append(tagged, searchtypes.Query{Text: text, Engine: engine})
			if _, dup := seen[text]; !dup {
				seen[text] = struct{}{}
				flat = append(flat, text)
			}
		}
	}
	if len(tagged) == 0 {
		return nil, 0, fmt.Errorf("%w: query generation produced no queries", ErrInvalidInput)
	}
	span.SetAttribute("queries", len(tagged))

	sess, err := s.sessions.Begin(ctx, session.BeginParams{
		Type:     sessType,
		Engines:  engines,
		Queries:  flat,
		PromptID: s.promptID,
		ModelID:  s.modelID,
	})
	if err != nil {
		span.RecordError(err)
		return nil, 0, err
	}

	stop := make(chan struct{})
	s.mu.Lock()
	s.running[sess.ID] = stop
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(sess.ID, sessType, tagged, maxResults, stop)

	return sess, len(tagged), nil
}

// Cancel settles a RUNNING session as CANCELLED and signals its run
// loop to stop before the next batch. Settled sessions return
// storage.ErrConflict, unknown ones storage.ErrNotFound.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.sessions.Cancel(ctx, id); err != nil {
		return err
	}
	sessionsSettled.WithLabelValues(string(sess.Type), string(storage.SessionStatusCancelled)).Inc()

	s.mu.Lock()
	if stop, ok := s.running[id]; ok {
		close(stop)
		delete(s.running, id)
	}
	s.mu.Unlock()
	return nil
}

// ActiveRuns reports how many sessions are currently executing.
func (s *Service) ActiveRuns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Shutdown stops accepting work and waits for in-flight runs until the
// context expires.
func (s *Service) Shutdown(ctx context.Context) error {
	s.baseCancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run executes the session's batches and settles the session. It runs
// on the service's base context so HTTP request cancellation never
// kills a session mid-flight.
func (s *Service) run(sessionID uuid.UUID, sessType storage.SessionType, queries []searchtypes.Query, maxResults int, stop <-chan struct{}) {
	defer s.wg.Done()
	defer s.release(sessionID)

	ctx := s.baseCtx
	var (
		anySuccess      bool
		cancelled       bool
		vanished        bool
		totalSum        = decimal.Zero
		totalCandidates int
	)

	for _, batch := range chunkQueries(queries, s.batchSize) {
		if runStopped(ctx, stop) {
			cancelled = true
			break
		}

		result, execErr := s.search.Execute(ctx, batch, maxResults, sessionID)
		for _, adapterErr := range result.Errors {
			if err := s.sessions.RecordEngineError(ctx, sessionID, adapterErr.Engine, adapterErrorMessage(adapterErr)); err != nil {
				log.Warn("engine error not recorded",
					zap.String("session_id", sessionID.String()),
					zap.Error(err))
			}
		}
		if execErr != nil {
			// Every call in this batch failed. The session fails only
			// if no batch ever succeeds.
			continue
		}
		anySuccess = true

		stats := s.processor.ProcessBatch(ctx, sessionID, result.Results)
		stats.SkippedBlacklisted = result.Blacklisted
		totalSum = totalSum.Add(stats.ConfidenceSum)
		totalCandidates += stats.CandidatesCreated

		delta := storage.SessionStatsDelta{
			CandidatesFound:    stats.CandidatesCreated,
			DuplicatesDetected: stats.DuplicateCandidates + duplicatesRemoved(result),
			ResultCounts:       rawCounts(result),
		}
		if totalCandidates > 0 {
			avg := totalSum.Div(decimal.NewFromInt(int64(totalCandidates))).Round(2)
			delta.AverageConfidence = &avg
		}

		if err := s.sessions.RecordBatchStats(ctx, sessionID, delta); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				log.Error("session disappeared mid-run",
					zap.String("session_id", sessionID.String()))
				vanished = true
				break
			}
			log.Warn("batch stats not recorded",
				zap.String("session_id", sessionID.String()),
				zap.Error(err))
		}

		log.Info("discovery batch done",
			zap.String("session_id", sessionID.String()),
			zap.Int("processed", stats.TotalProcessed),
			zap.Int("candidates", stats.CandidatesCreated),
			zap.Int("failures", stats.Failures),
			zap.Duration("elapsed", stats.Elapsed))
	}

	switch {
	case vanished:
		return
	case cancelled:
		// Cancel already settled the session.
		log.Info("discovery run stopped before next batch",
			zap.String("session_id", sessionID.String()))
		return
	case !anySuccess:
		s.settle(sessionID, sessType, storage.SessionStatusFailed)
	default:
		s.settle(sessionID, sessType, storage.SessionStatusCompleted)
	}
}

// settle finishes the session on a context that survives service
// shutdown, so terminating the process does not strand RUNNING rows.
func (s *Service) settle(sessionID uuid.UUID, sessType storage.SessionType, status storage.SessionStatus) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.baseCtx), 10*time.Second)
	defer cancel()

	var err error
	if status == storage.SessionStatusFailed {
		err = s.sessions.Fail(ctx, sessionID, nil)
	} else {
		err = s.sessions.Complete(ctx, sessionID)
	}
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// A concurrent cancel won; its status stands.
			log.Info("session already settled",
				zap.String("session_id", sessionID.String()))
			return
		}
		log.Error("failed to settle session",
			zap.String("session_id", sessionID.String()),
			zap.String("status", string(status)),
			zap.Error(err))
		return
	}
	sessionsSettled.WithLabelValues(string(sessType), string(status)).Inc()
}

func (s *Service) release(id uuid.UUID) {
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
}

func runStopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func chunkQueries(queries []searchtypes.Query, size int) [][]searchtypes.Query {
	if size <= 0 || size >= len(queries) {
		if len(queries) == 0 {
			return nil
		}
		return [][]searchtypes.Query{queries}
	}
	out := make([][]searchtypes.Query, 0, (len(queries)+size-1)/size)
	for start := 0; start < len(queries); start += size {
		end := min(start+size, len(queries))
		out = append(out, queries[start:end])
	}
	return out
}

func adapterErrorMessage(e *searchtypes.AdapterError) string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func duplicatesRemoved(result *search.BatchResult) int {
	total := 0
	for _, stats := range result.Stats {
		total += stats.DuplicatesRemoved
	}
	return total
}

func rawCounts(result *search.BatchResult) map[searchtypes.Engine]int {
	if len(result.Stats) == 0 {
		return nil
	}
	counts := make(map[searchtypes.Engine]int, len(result.Stats))
	for engine, stats := range result.Stats {
		counts[engine] = stats.Raw
	}
	return counts
}
