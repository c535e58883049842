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
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/teradata-labs/needle/pkg/observability"
	searchtypes "github.com/teradata-labs/needle/pkg/search/types"
	"github.com/teradata-labs/needle/pkg/storage"
)

// sessionColumns is the scan order shared by every session SELECT.
const sessionColumns = `id, session_type, status, executed_at, started_at,
	completed_at, duration_minutes, candidates_found, duplicates_detected,
	average_confidence::text, engines_used, queries, result_counts,
	engine_errors, prompt_id, model_id`

// SessionStore persists discovery session audit records in PostgreSQL.
type SessionStore struct {
	pool   *pgxpool.Pool
	tracer observability.Tracer
}

// NewSessionStore creates a session store backed by the given pool.
func NewSessionStore(pool *pgxpool.Pool, tracer observability.Tracer) *SessionStore {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &SessionStore{pool: pool, tracer: tracer}
}

// Create inserts a new session row.
func (s *SessionStore) Create(ctx context.Context, session *storage.DiscoverySession) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_session_store.create",
		observability.WithSpanKind("storage"))
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", session.ID.String())
	span.SetAttribute("session_type", string(session.Type))

	counts, err := marshalEngineCounts(session.ResultCounts)
	if err != nil {
		span.RecordError(err)
		return err
	}
	failures, err := marshalEngineErrors(session.EngineErrors)
	if err != nil {
		span.RecordError(err)
		return err
	}

	err = execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO discovery_sessions (
				id, session_type, status, executed_at, started_at,
				completed_at, duration_minutes, candidates_found,
				duplicates_detected, average_confidence, engines_used,
				queries, result_counts, engine_errors, prompt_id, model_id
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric, $11, $12, $13, $14, $15, $16)`,
			session.ID, session.Type, session.Status, session.ExecutedAt,
			session.StartedAt, session.CompletedAt, session.DurationMinutes,
			session.CandidatesFound, session.DuplicatesDetected,
			nullableFloat(session.AverageConfidence),
			enginesToText(session.EnginesUsed), textArray(session.Queries),
			counts, failures, session.PromptID, session.ModelID,
		)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Get loads a session by id.
func (s *SessionStore) Get(ctx context.Context, id uuid.UUID) (*storage.DiscoverySession, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_session_store.get",
		observability.WithSpanKind("storage"))
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", id.String())

	var session *storage.DiscoverySession
	err := execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+sessionColumns+` FROM discovery_sessions WHERE id = $1`, id)

		var err error
		session, err = scanSession(row)
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return session, nil
}

// List returns one page of sessions ordered by executed_at descending
// plus the total row count.
func (s *SessionStore) List(ctx context.Context, offset, limit int) ([]*storage.DiscoverySession, int, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_session_store.list",
		observability.WithSpanKind("storage"))
	defer s.tracer.EndSpan(span)
	span.SetAttribute("offset", offset)
	span.SetAttribute("limit", limit)

	var (
		sessions []*storage.DiscoverySession
		total    int
	)
	err := execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM discovery_sessions`).Scan(&total); err != nil {
			return fmt.Errorf("failed to count sessions: %w", err)
		}

		rows, err := tx.Query(ctx, `
			SELECT `+sessionColumns+`
			FROM discovery_sessions
			ORDER BY executed_at DESC, id
			OFFSET $1 LIMIT $2`, offset, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			session, err := scanSession(rows)
			if err != nil {
				return err
			}
			sessions = append(sessions, session)
		}
		return rows.Err()
	})
	if err != nil {
		span.RecordError(err)
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	span.SetAttribute("count", len(sessions))
	return sessions, total, nil
}

// AppendEngineError adds one error description to the session's per
// engine failure map. The row lock keeps concurrent appends from
// overwriting each other.
func (s *SessionStore) AppendEngineError(ctx context.Context, id uuid.UUID, engine searchtypes.Engine, message string) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_session_store.append_engine_error",
		observability.WithSpanKind("storage"))
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", id.String())
	span.SetAttribute("engine", engine.String())

	err := execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		var raw []byte
		err := tx.QueryRow(ctx,
			`SELECT engine_errors FROM discovery_sessions WHERE id = $1 FOR UPDATE`, id,
		).Scan(&raw)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return storage.ErrNotFound
			}
			return err
		}

		failures := map[searchtypes.Engine][]string{}
		if err := json.Unmarshal(raw, &failures); err != nil {
			return fmt.Errorf("failed to decode engine errors: %w", err)
		}
		failures[engine] = append(failures[engine], message)

		encoded, err := marshalEngineErrors(failures)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE discovery_sessions SET engine_errors = $2 WHERE id = $1`, id, encoded)
		return err
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return err
		}
		span.RecordError(err)
		return fmt.Errorf("failed to append engine error: %w", err)
	}
	return nil
}

// MergeStats folds one batch's counters into the session under a row
// lock. Counters only ever grow; the average confidence is replaced
// when the delta carries one.
func (s *SessionStore) MergeStats(ctx context.Context, id uuid.UUID, delta storage.SessionStatsDelta) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_session_store.merge_stats",
		observability.WithSpanKind("storage"))
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", id.String())
	span.SetAttribute("candidates_found", delta.CandidatesFound)

	err := execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		var raw []byte
		err := tx.QueryRow(ctx,
			`SELECT result_counts FROM discovery_sessions WHERE id = $1 FOR UPDATE`, id,
		).Scan(&raw)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return storage.ErrNotFound
			}
			return err
		}

		merged := map[searchtypes.Engine]int{}
		if err := json.Unmarshal(raw, &merged); err != nil {
			return fmt.Errorf("failed to decode result counts: %w", err)
		}
		for engine, n := range delta.ResultCounts {
			merged[engine] += n
		}
		encoded, err := marshalEngineCounts(merged)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE discovery_sessions SET
				candidates_found = candidates_found + $2,
				duplicates_detected = duplicates_detected + $3,
				average_confidence = COALESCE($4::numeric, average_confidence),
				result_counts = $5
			WHERE id = $1`,
			id, delta.CandidatesFound, delta.DuplicatesDetected,
			nullableFloat(delta.AverageConfidence), encoded,
		)
		return err
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return err
		}
		span.RecordError(err)
		return fmt.Errorf("failed to merge session stats: %w", err)
	}
	return nil
}

// Finish moves a RUNNING session to a terminal status. A session that
// already left RUNNING returns storage.ErrConflict.
func (s *SessionStore) Finish(ctx context.Context, id uuid.UUID, status storage.SessionStatus, completedAt time.Time, durationMinutes int) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_session_store.finish",
		observability.WithSpanKind("storage"))
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", id.String())
	span.SetAttribute("status", string(status))

	err := execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE discovery_sessions
			SET status = $2, completed_at = $3, duration_minutes = $4
			WHERE id = $1 AND status = 'RUNNING'`,
			id, status, completedAt, durationMinutes,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() > 0 {
			return nil
		}

		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM discovery_sessions WHERE id = $1)`, id,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return storage.ErrNotFound
		}
		return storage.ErrConflict
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrConflict) {
			return err
		}
		span.RecordError(err)
		return fmt.Errorf("failed to finish session: %w", err)
	}
	return nil
}

// scanSession maps one discovery_sessions row onto the storage model.
func scanSession(row pgx.Row) (*storage.DiscoverySession, error) {
	var (
		session    storage.DiscoverySession
		confidence *string
		engines    []string
		counts     []byte
		failures   []byte
	)
	if err := row.Scan(
		&session.ID, &session.Type, &session.Status, &session.ExecutedAt,
		&session.StartedAt, &session.CompletedAt, &session.DurationMinutes,
		&session.CandidatesFound, &session.DuplicatesDetected, &confidence,
		&engines, &session.Queries, &counts, &failures,
		&session.PromptID, &session.ModelID,
	); err != nil {
		return nil, err
	}

	avg, err := parseDecimalPtr(confidence)
	if err != nil {
		return nil, err
	}
	session.AverageConfidence = avg
	session.EnginesUsed = enginesFromText(engines)

	if err := json.Unmarshal(counts, &session.ResultCounts); err != nil {
		return nil, fmt.Errorf("failed to decode result counts: %w", err)
	}
	if err := json.Unmarshal(failures, &session.EngineErrors); err != nil {
		return nil, fmt.Errorf("failed to decode engine errors: %w", err)
	}
	return &session, nil
}

// nullableFloat converts an optional decimal to a numeric parameter.
// Two decimal places survive the float64 round trip.
func nullableFloat(d *decimal.Decimal) *float64 {
	if d == nil {
		return nil
	}
	f := d.InexactFloat64()
	return &f
}

// textArray substitutes an empty slice for nil so NOT NULL text[]
// columns never see an explicit NULL.
func textArray(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func enginesToText(engines []searchtypes.Engine) []string {
	out := make([]string, 0, len(engines))
	for _, engine := range engines {
		out = append(out, engine.String())
	}
	return out
}

func enginesFromText(values []string) []searchtypes.Engine {
	if len(values) == 0 {
		return nil
	}
	out := make([]searchtypes.Engine, 0, len(values))
	for _, v := range values {
		out = append(out, searchtypes.Engine(v))
	}
	return out
}

func marshalEngineCounts(m map[searchtypes.Engine]int) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	encoded, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result counts: %w", err)
	}
	return encoded, nil
}

func marshalEngineErrors(m map[searchtypes.Engine][]string) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	encoded, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode engine errors: %w", err)
	}
	return encoded, nil
}

var _ storage.SessionStore = (*SessionStore)(nil)
