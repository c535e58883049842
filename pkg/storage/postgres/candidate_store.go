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
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teradata-labs/needle/pkg/observability"
	"github.com/teradata-labs/needle/pkg/storage"
)

// CandidateStore persists funding candidates in PostgreSQL.
type CandidateStore struct {
	pool   *pgxpool.Pool
	tracer observability.Tracer
}

// NewCandidateStore creates a candidate store backed by the given pool.
func NewCandidateStore(pool *pgxpool.Pool, tracer observability.Tracer) *CandidateStore {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &CandidateStore{pool: pool, tracer: tracer}
}

// Insert stores a candidate. The (session_id, source_url) uniqueness
// constraint absorbs dedupe races; a lost race maps to
// storage.ErrAlreadyExists.
func (s *CandidateStore) Insert(ctx context.Context, candidate *storage.FundingCandidate) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_candidate_store.insert",
		observability.WithSpanKind("storage"))
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", candidate.SessionID.String())
	span.SetAttribute("source_url", candidate.SourceURL)

	err := execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO funding_candidates (
				id, session_id, domain_id, status, source_url, title,
				snippet, confidence, organization, program, reasoning,
				engine, query, discovered_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (session_id, source_url) DO NOTHING`,
			candidate.ID, candidate.SessionID, candidate.DomainID,
			candidate.Status, candidate.SourceURL, candidate.Title,
			candidate.Snippet, candidate.Confidence.InexactFloat64(),
			candidate.Organization, candidate.Program, candidate.Reasoning,
			candidate.Engine, candidate.Query, candidate.DiscoveredAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrAlreadyExists
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			span.SetAttribute("duplicate", true)
			return err
		}
		span.RecordError(err)
		return fmt.Errorf("failed to insert candidate: %w", err)
	}
	return nil
}

// ListBySession returns a session's candidates ordered by confidence
// descending.
func (s *CandidateStore) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*storage.FundingCandidate, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_candidate_store.list_by_session",
		observability.WithSpanKind("storage"))
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", sessionID.String())

	var candidates []*storage.FundingCandidate
	err := execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, session_id, domain_id, status, source_url, title,
			       snippet, confidence::text, organization, program,
			       reasoning, engine, query, discovered_at
			FROM funding_candidates
			WHERE session_id = $1
			ORDER BY confidence DESC, discovered_at`, sessionID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			candidate, err := scanCandidate(rows)
			if err != nil {
				return err
			}
			candidates = append(candidates, candidate)
		}
		return rows.Err()
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	span.SetAttribute("count", len(candidates))
	return candidates, nil
}

// scanCandidate maps one funding_candidates row onto the storage model.
func scanCandidate(row pgx.Row) (*storage.FundingCandidate, error) {
	var (
		candidate  storage.FundingCandidate
		confidence string
	)
	if err := row.Scan(
		&candidate.ID, &candidate.SessionID, &candidate.DomainID,
		&candidate.Status, &candidate.SourceURL, &candidate.Title,
		&candidate.Snippet, &confidence, &candidate.Organization,
		&candidate.Program, &candidate.Reasoning, &candidate.Engine,
		&candidate.Query, &candidate.DiscoveredAt,
	); err != nil {
		return nil, err
	}

	parsed, err := parseDecimalPtr(&confidence)
	if err != nil {
		return nil, err
	}
	candidate.Confidence = *parsed
	return &candidate, nil
}

var _ storage.CandidateStore = (*CandidateStore)(nil)
