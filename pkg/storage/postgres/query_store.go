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
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teradata-labs/needle/pkg/observability"
	"github.com/teradata-labs/needle/pkg/query"
	"github.com/teradata-labs/needle/pkg/storage"
)

// QueryStore archives generated query batches in PostgreSQL. The query
// generator records through it asynchronously, so writes must stay
// cheap and independent of session state.
type QueryStore struct {
	pool   *pgxpool.Pool
	tracer observability.Tracer
}

// NewQueryStore creates a query archive backed by the given pool.
func NewQueryStore(pool *pgxpool.Pool, tracer observability.Tracer) *QueryStore {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &QueryStore{pool: pool, tracer: tracer}
}

// RecordQueries stores one generated batch.
func (s *QueryStore) RecordQueries(ctx context.Context, rec query.QueryRecord) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_query_store.record",
		observability.WithSpanKind("storage"))
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", rec.SessionID.String())
	span.SetAttribute("engine", rec.Engine.String())
	span.SetAttribute("queries", len(rec.Queries))

	err := execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO query_records (id, session_id, engine, queries, tags, cache_key, generated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.New(), rec.SessionID, rec.Engine, textArray(rec.Queries),
			textArray(rec.Tags), rec.CacheKey, rec.GeneratedAt,
		)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to record queries: %w", err)
	}
	return nil
}

// ListBySession returns the query batches recorded for a session in
// generation order.
func (s *QueryStore) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*query.QueryRecord, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_query_store.list_by_session",
		observability.WithSpanKind("storage"))
	defer s.tracer.EndSpan(span)
	span.SetAttribute("session_id", sessionID.String())

	var records []*query.QueryRecord
	err := execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT session_id, engine, queries, tags, cache_key, generated_at
			FROM query_records
			WHERE session_id = $1
			ORDER BY generated_at`, sessionID)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var rec query.QueryRecord
			if err := rows.Scan(
				&rec.SessionID, &rec.Engine, &rec.Queries, &rec.Tags,
				&rec.CacheKey, &rec.GeneratedAt,
			); err != nil {
				return err
			}
			records = append(records, &rec)
		}
		return rows.Err()
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list query records: %w", err)
	}
	span.SetAttribute("count", len(records))
	return records, nil
}

var _ storage.QueryStore = (*QueryStore)(nil)
