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
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/teradata-labs/needle/pkg/observability"
	"github.com/teradata-labs/needle/pkg/storage"
)

// DomainStore persists the domain deduplication ledger in PostgreSQL.
type DomainStore struct {
	pool   *pgxpool.Pool
	tracer observability.Tracer
}

// NewDomainStore creates a domain store backed by the given pool.
func NewDomainStore(pool *pgxpool.Pool, tracer observability.Tracer) *DomainStore {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &DomainStore{pool: pool, tracer: tracer}
}

// Insert stores a new domain row. A uniqueness race on the name maps to
// storage.ErrAlreadyExists so callers can reload the winning row.
func (s *DomainStore) Insert(ctx context.Context, domain *storage.Domain) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_domain_store.insert",
		observability.WithSpanKind("storage"))
	defer s.tracer.EndSpan(span)
	span.SetAttribute("domain", domain.Name)

	err := execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO domains (id, name, status, discovered_at)
			VALUES ($1, $2, $3, $4)`,
			domain.ID, domain.Name, domain.Status, domain.DiscoveredAt,
		)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			span.SetAttribute("duplicate", true)
			return storage.ErrAlreadyExists
		}
		span.RecordError(err)
		return fmt.Errorf("failed to insert domain: %w", err)
	}
	return nil
}

// GetByName loads a domain by its normalized name.
func (s *DomainStore) GetByName(ctx context.Context, name string) (*storage.Domain, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_domain_store.get_by_name",
		observability.WithSpanKind("storage"))
	defer s.tracer.EndSpan(span)
	span.SetAttribute("domain", name)

	return s.getWhere(ctx, span, `WHERE name = $1`, name)
}

// Get loads a domain by id.
func (s *DomainStore) Get(ctx context.Context, id uuid.UUID) (*storage.Domain, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_domain_store.get",
		observability.WithSpanKind("storage"))
	defer s.tracer.EndSpan(span)
	span.SetAttribute("domain_id", id.String())

	return s.getWhere(ctx, span, `WHERE id = $1`, id)
}

func (s *DomainStore) getWhere(ctx context.Context, span *observability.Span, where string, arg interface{}) (*storage.Domain, error) {
	var domain *storage.Domain
	err := execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT id, name, status, discovered_at, last_processed_at,
			       high_quality_count, low_quality_count, best_confidence::text,
			       retry_after, blacklisted_by, blacklist_reason, blacklisted_at
			FROM domains `+where, arg)

		var err error
		domain, err = scanDomain(row)
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		span.RecordError(err)
		return nil, fmt.Errorf("failed to load domain: %w", err)
	}
	return domain, nil
}

// RecordQuality applies one judged result to the domain row in a single
// statement: counters bump, the best confidence ratchets up, and the
// status settles. BLACKLISTED is terminal and a recorded high-quality
// hit can never be downgraded by a later low-quality one.
func (s *DomainStore) RecordQuality(ctx context.Context, id uuid.UUID, confidence decimal.Decimal, highQuality bool, processedAt time.Time) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_domain_store.record_quality",
		observability.WithSpanKind("storage"))
	defer s.tracer.EndSpan(span)
	span.SetAttribute("domain_id", id.String())
	span.SetAttribute("high_quality", highQuality)

	err := execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE domains SET
				high_quality_count = high_quality_count + CASE WHEN $2 THEN 1 ELSE 0 END,
				low_quality_count = low_quality_count + CASE WHEN $2 THEN 0 ELSE 1 END,
				best_confidence = GREATEST(COALESCE(best_confidence, 0), $3::numeric),
				last_processed_at = $4,
				retry_after = NULL,
				status = CASE
					WHEN status = 'BLACKLISTED' THEN status
					WHEN $2 THEN 'PROCESSED_HIGH_QUALITY'
					WHEN status = 'PROCESSED_HIGH_QUALITY' THEN status
					ELSE 'PROCESSED_LOW_QUALITY'
				END
			WHERE id = $1`,
			id, highQuality, confidence.InexactFloat64(), processedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return err
		}
		span.RecordError(err)
		return fmt.Errorf("failed to record domain quality: %w", err)
	}
	return nil
}

// MarkFailed moves the domain to PROCESSING_FAILED and schedules the
// retry window. BLACKLISTED rows keep their status.
func (s *DomainStore) MarkFailed(ctx context.Context, id uuid.UUID, retryAfter time.Time) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_domain_store.mark_failed",
		observability.WithSpanKind("storage"))
	defer s.tracer.EndSpan(span)
	span.SetAttribute("domain_id", id.String())

	err := execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE domains SET
				status = CASE WHEN status = 'BLACKLISTED' THEN status ELSE 'PROCESSING_FAILED' END,
				retry_after = $2,
				last_processed_at = NOW()
			WHERE id = $1`,
			id, retryAfter,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return err
		}
		span.RecordError(err)
		return fmt.Errorf("failed to mark domain failed: %w", err)
	}
	return nil
}

// Blacklist marks the named domain BLACKLISTED with an audit trail,
// creating the ledger row when the domain was never registered.
func (s *DomainStore) Blacklist(ctx context.Context, name, actor, reason string) error {
	ctx, span := s.tracer.StartSpan(ctx, "pg_domain_store.blacklist",
		observability.WithSpanKind("storage"))
	defer s.tracer.EndSpan(span)
	span.SetAttribute("domain", name)

	err := execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO domains (id, name, status, discovered_at, blacklisted_by, blacklist_reason, blacklisted_at)
			VALUES ($1, $2, 'BLACKLISTED', $5, $3, $4, $5)
			ON CONFLICT (name) DO UPDATE SET
				status = 'BLACKLISTED',
				blacklisted_by = EXCLUDED.blacklisted_by,
				blacklist_reason = EXCLUDED.blacklist_reason,
				blacklisted_at = EXCLUDED.blacklisted_at`,
			uuid.New(), name, actor, reason, time.Now().UTC(),
		)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to blacklist domain: %w", err)
	}
	return nil
}

// ListBlacklisted returns the normalized names of all blacklisted
// domains, sorted for stable output.
func (s *DomainStore) ListBlacklisted(ctx context.Context) ([]string, error) {
	ctx, span := s.tracer.StartSpan(ctx, "pg_domain_store.list_blacklisted",
		observability.WithSpanKind("storage"))
	defer s.tracer.EndSpan(span)

	var names []string
	err := execInTx(ctx, s.pool, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT name FROM domains WHERE status = 'BLACKLISTED' ORDER BY name`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			names = append(names, name)
		}
		return rows.Err()
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to list blacklisted domains: %w", err)
	}
	span.SetAttribute("count", len(names))
	return names, nil
}

// scanDomain maps one domains row onto the storage model.
func scanDomain(row pgx.Row) (*storage.Domain, error) {
	var (
		domain     storage.Domain
		confidence *string
	)
	if err := row.Scan(
		&domain.ID, &domain.Name, &domain.Status, &domain.DiscoveredAt,
		&domain.LastProcessedAt, &domain.HighQualityCount, &domain.LowQualityCount,
		&confidence, &domain.RetryAfter, &domain.BlacklistedBy,
		&domain.BlacklistReason, &domain.BlacklistedAt,
	); err != nil {
		return nil, err
	}

	best, err := parseDecimalPtr(confidence)
	if err != nil {
		return nil, err
	}
	domain.BestConfidence = best
	return &domain, nil
}

// parseDecimalPtr converts a nullable numeric rendered as text back
// into a decimal. Confidence values travel as float64 on the way in and
// as text on the way out so the stores need no codec registration.
func parseDecimalPtr(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, fmt.Errorf("failed to parse decimal %q: %w", *s, err)
	}
	return &d, nil
}

var _ storage.DomainStore = (*DomainStore)(nil)
