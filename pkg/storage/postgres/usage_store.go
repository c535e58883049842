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
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teradata-labs/needle/pkg/observability"
	searchtypes "github.com/teradata-labs/needle/pkg/search/types"
	"github.com/teradata-labs/needle/pkg/storage"
)

// UsageStore archives per-request engine usage in PostgreSQL. Search
// adapters record through it on every call, successful or not.
type UsageStore struct {
	pool   *pgxpool.Pool
	tracer observability.Tracer
}

// NewUsageStore creates a usage archive backed by the given pool.
func NewUsageStore(pool *pgxpool.Pool, tracer observability.Tracer) *UsageStore {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &UsageStore{pool: pool, tracer: tracer}
}

// RecordUsage stores one engine request record.
func (s *UsageStore) RecordUsage(ctx context.Context, rec searchtypes.UsageRecord) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_usage_store.record",
		observability.WithSpanKind("storage"))
	defer s.tracer.EndSpan(span)
	span.SetAttribute("engine", rec.Engine.String())
	span.SetAttribute("success", rec.Success)

	err := execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO engine_usage (id, engine, query, result_count, success, error_kind, response_time_ms, executed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			uuid.New(), rec.Engine, rec.Query, rec.ResultCount,
			rec.Success, string(rec.ErrorKind), rec.ResponseTimeMS, rec.ExecutedAt,
		)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to record engine usage: %w", err)
	}
	return nil
}

// CountSince returns how many requests hit the engine at or after the
// given time.
func (s *UsageStore) CountSince(ctx context.Context, engine searchtypes.Engine, since time.Time) (int, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_usage_store.count_since",
		observability.WithSpanKind("storage"))
	defer s.tracer.EndSpan(span)
	span.SetAttribute("engine", engine.String())

	var count int
	err := execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM engine_usage
			WHERE engine = $1 AND executed_at >= $2`, engine, since,
		).Scan(&count)
	})
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to count engine usage: %w", err)
	}
	span.SetAttribute("count", count)
	return count, nil
}

var _ storage.UsageStore = (*UsageStore)(nil)
