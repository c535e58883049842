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

// Package session owns the DiscoverySession lifecycle. A session is
// created in RUNNING and settles exactly once into COMPLETED, FAILED,
// or CANCELLED; engine errors and batch statistics accumulate on the
// running row and stay readable after the session settles.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/needle/internal/log"
	"github.com/teradata-labs/needle/pkg/observability"
	searchtypes "github.com/teradata-labs/needle/pkg/search/types"
	"github.com/teradata-labs/needle/pkg/storage"
)

// Service coordinates session state transitions on top of the
// session store. It never decides discovery outcomes itself; callers
// pick Complete or Fail based on what their engines actually did.
type Service struct {
	sessions storage.SessionStore
	tracer   observability.Tracer
}

// NewService creates a session service. A nil tracer disables tracing.
func NewService(sessions storage.SessionStore, tracer observability.Tracer) *Service {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &Service{sessions: sessions, tracer: tracer}
}

// BeginParams describes the session to open.
type BeginParams struct {
	Type    storage.SessionType
	Engines []searchtypes.Engine
	Queries []string

	// PromptID and ModelID record how the queries were generated, for
	// reproducibility. Empty when the static fallback produced them.
	PromptID string
	ModelID  string
}

// Begin opens a RUNNING session and persists it. ExecutedAt and
// StartedAt are both stamped now; they diverge only for sessions that
// queue before starting, which this pipeline does not do.
func (s *Service) Begin(ctx context.Context, params BeginParams) (*storage.DiscoverySession, error) {
	ctx, span := s.tracer.StartSpan(ctx, "session.begin")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("type", string(params.Type))
	span.SetAttribute("engines", len(params.Engines))
	span.SetAttribute("queries", len(params.Queries))

	now := time.Now().UTC()
	sess := &storage.DiscoverySession{
		ID:          uuid.New(),
		Type:        params.Type,
		Status:      storage.SessionStatusRunning,
		ExecutedAt:  now,
		StartedAt:   now,
		EnginesUsed: params.Engines,
		Queries:     params.Queries,
		PromptID:    params.PromptID,
		ModelID:     params.ModelID,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	log.Info("discovery session started",
		zap.String("session_id", sess.ID.String()),
		zap.String("type", string(sess.Type)),
		zap.Int("queries", len(sess.Queries)))
	return sess, nil
}

// Get returns the session or storage.ErrNotFound.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*storage.DiscoverySession, error) {
	return s.sessions.Get(ctx, id)
}

// List returns one zero-based page of sessions, newest first, along
// with the total session count.
func (s *Service) List(ctx context.Context, page, size int) ([]*storage.DiscoverySession, int, error) {
	ctx, span := s.tracer.StartSpan(ctx, "session.list")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("page", page)
	span.SetAttribute("size", size)

	sessions, total, err := s.sessions.List(ctx, page*size, size)
	if err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, total, nil
}

// RecordEngineError appends one failure description to the session's
// per-engine error map.
func (s *Service) RecordEngineError(ctx context.Context, id uuid.UUID, engine searchtypes.Engine, message string) error {
	ctx, span := s.tracer.StartSpan(ctx, "session.record_engine_error")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", id.String())
	span.SetAttribute("engine", engine.String())

	if err := s.sessions.AppendEngineError(ctx, id, engine, message); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			span.RecordError(err)
		}
		return fmt.Errorf("failed to record engine error: %w", err)
	}
	return nil
}

// RecordBatchStats merges one batch's counters into the session.
// A missing session is an invariant breach; the wrapped
// storage.ErrNotFound tells the caller to fail the whole run.
func (s *Service) RecordBatchStats(ctx context.Context, id uuid.UUID, delta storage.SessionStatsDelta) error {
	ctx, span := s.tracer.StartSpan(ctx, "session.record_batch_stats")
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", id.String())
	span.SetAttribute("candidates_found", delta.CandidatesFound)

	if err := s.sessions.MergeStats(ctx, id, delta); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			span.RecordError(err)
		}
		return fmt.Errorf("failed to record batch stats: %w", err)
	}
	return nil
}

// Complete settles the session as COMPLETED.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) error {
	return s.finish(ctx, "session.complete", id, storage.SessionStatusCompleted)
}

// Fail settles the session as FAILED, first recording any engine
// errors not already on the session.
func (s *Service) Fail(ctx context.Context, id uuid.UUID, engineErrors map[searchtypes.Engine][]string) error {
	for engine, messages := range engineErrors {
		for _, message := range messages {
			if err := s.RecordEngineError(ctx, id, engine, message); err != nil {
				return err
			}
		}
	}
	return s.finish(ctx, "session.fail", id, storage.SessionStatusFailed)
}

// Cancel settles the session as CANCELLED. Sessions that already
// settled return storage.ErrConflict; in-flight batches are not
// interrupted, the run loop stops before dispatching the next one.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	return s.finish(ctx, "session.cancel", id, storage.SessionStatusCancelled)
}

func (s *Service) finish(ctx context.Context, spanName string, id uuid.UUID, status storage.SessionStatus) error {
	ctx, span := s.tracer.StartSpan(ctx, spanName)
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", id.String())

	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			span.RecordError(err)
		}
		return fmt.Errorf("failed to load session: %w", err)
	}

	now := time.Now().UTC()
	minutes := int(now.Sub(sess.StartedAt) / time.Minute)

	if err := s.sessions.Finish(ctx, id, status, now, minutes); err != nil {
		if !errors.Is(err, storage.ErrConflict) && !errors.Is(err, storage.ErrNotFound) {
			span.RecordError(err)
		}
		return fmt.Errorf("failed to finish session: %w", err)
	}

	log.Info("discovery session settled",
		zap.String("session_id", id.String()),
		zap.String("status", string(status)),
		zap.Int("duration_minutes", minutes))
	return nil
}
