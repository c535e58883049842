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
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/teradata-labs/needle/pkg/query"
	searchtypes "github.com/teradata-labs/needle/pkg/search/types"
)

var (
	// ErrNotFound is returned when a lookup by id or name matches no row.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when an insert loses a uniqueness
	// race. Callers resolve it by reloading the winning row.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConflict is returned when a guarded update finds the row in a
	// state that forbids the transition.
	ErrConflict = errors.New("conflicting state")
)

// DomainStore persists the domain deduplication ledger.
type DomainStore interface {
	// Insert stores a new domain. ErrAlreadyExists signals that another
	// writer registered the same name first.
	Insert(ctx context.Context, domain *Domain) error

	// GetByName looks a domain up by its normalized name. Missing
	// domains return ErrNotFound.
	GetByName(ctx context.Context, name string) (*Domain, error)

	// Get looks a domain up by id. Missing domains return ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Domain, error)

	// RecordQuality applies one judged result to the domain: bumps the
	// matching quality counter, keeps the best confidence seen, stamps
	// the processing time, and settles the status. A high-quality hit
	// pins the status to PROCESSED_HIGH_QUALITY; low-quality hits set
	// PROCESSED_LOW_QUALITY only while no high-quality hit is on record.
	RecordQuality(ctx context.Context, id uuid.UUID, confidence decimal.Decimal, highQuality bool, processedAt time.Time) error

	// MarkFailed transitions the domain to PROCESSING_FAILED and sets
	// the time after which it becomes eligible again.
	MarkFailed(ctx context.Context, id uuid.UUID, retryAfter time.Time) error

	// Blacklist marks the named domain BLACKLISTED with an audit trail,
	// creating the ledger row when the domain was never registered.
	Blacklist(ctx context.Context, name, actor, reason string) error

	// ListBlacklisted returns the normalized names of all blacklisted
	// domains.
	ListBlacklisted(ctx context.Context) ([]string, error)
}

// SessionStore persists discovery session audit records.
type SessionStore interface {
	Create(ctx context.Context, session *DiscoverySession) error

	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, id uuid.UUID) (*DiscoverySession, error)

	// List returns one page of sessions ordered by executed_at
	// descending, plus the total row count for pagination.
	List(ctx context.Context, offset, limit int) ([]*DiscoverySession, int, error)

	// AppendEngineError adds one error description to the session's
	// failure map under the given engine.
	AppendEngineError(ctx context.Context, id uuid.UUID, engine searchtypes.Engine, message string) error

	// MergeStats folds one batch's counters into the session. Missing
	// sessions return ErrNotFound.
	MergeStats(ctx context.Context, id uuid.UUID, delta SessionStatsDelta) error

	// Finish moves a RUNNING session to the given terminal status.
	// ErrConflict signals the session already left RUNNING.
	Finish(ctx context.Context, id uuid.UUID, status SessionStatus, completedAt time.Time, durationMinutes int) error
}

// CandidateStore persists funding candidates awaiting the crawl phase.
type CandidateStore interface {
	// Insert stores a candidate. ErrAlreadyExists signals that the
	// session already holds a candidate for the same source URL.
	Insert(ctx context.Context, candidate *FundingCandidate) error

	// ListBySession returns a session's candidates ordered by
	// confidence descending.
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*FundingCandidate, error)
}

// QueryStore archives generated query batches. It satisfies
// query.QuerySink so the generator can record batches directly.
type QueryStore interface {
	query.QuerySink

	// ListBySession returns the query batches recorded for a session.
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*query.QueryRecord, error)
}

// UsageStore archives per-request engine usage. It satisfies
// searchtypes.UsageSink so adapters can record calls directly.
type UsageStore interface {
	searchtypes.UsageSink

	// CountSince returns how many requests hit the engine at or after
	// the given time, for rate-limit accounting.
	CountSince(ctx context.Context, engine searchtypes.Engine, since time.Time) (int, error)
}
