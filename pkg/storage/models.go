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

// Package storage defines the persistent model of the discovery pipeline
// and the store interfaces its services depend on. Concrete backends live
// in subpackages; services accept the interfaces so tests can substitute
// in-memory fakes.
package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	searchtypes "github.com/teradata-labs/needle/pkg/search/types"
)

// DomainStatus tracks where a domain sits in its processing lifecycle.
// Values are persisted verbatim, so they never change meaning once released.
type DomainStatus string

const (
	DomainStatusDiscovered           DomainStatus = "DISCOVERED"
	DomainStatusProcessing           DomainStatus = "PROCESSING"
	DomainStatusProcessedHighQuality DomainStatus = "PROCESSED_HIGH_QUALITY"
	DomainStatusProcessedLowQuality  DomainStatus = "PROCESSED_LOW_QUALITY"
	DomainStatusNoFundsThisYear      DomainStatus = "NO_FUNDS_THIS_YEAR"
	DomainStatusProcessingFailed     DomainStatus = "PROCESSING_FAILED"
	DomainStatusBlacklisted          DomainStatus = "BLACKLISTED"
)

// SessionStatus is the lifecycle state of a discovery session.
type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "RUNNING"
	SessionStatusCompleted SessionStatus = "COMPLETED"
	SessionStatusFailed    SessionStatus = "FAILED"
	SessionStatusCancelled SessionStatus = "CANCELLED"
)

// Terminal reports whether the session can no longer change state.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed || s == SessionStatusCancelled
}

// SessionType records how a discovery session was initiated.
type SessionType string

const (
	SessionTypeScheduled SessionType = "SCHEDULED"
	SessionTypeManual    SessionType = "MANUAL"
	SessionTypeRetry     SessionType = "RETRY"
)

// CandidateStatus is the review state of a funding candidate. The
// discovery pipeline only ever writes PENDING_CRAWL; the remaining
// states belong to the downstream crawl and review workflow.
type CandidateStatus string

const (
	CandidateStatusPendingCrawl CandidateStatus = "PENDING_CRAWL"
	CandidateStatusCrawling     CandidateStatus = "CRAWLING"
	CandidateStatusCrawled      CandidateStatus = "CRAWLED"
	CandidateStatusReviewed     CandidateStatus = "REVIEWED"
	CandidateStatusRejected     CandidateStatus = "REJECTED"
)

// Domain is the deduplication ledger entry for a single registered
// domain. Name is stored lowercase without the www prefix and is unique
// across the table.
type Domain struct {
	ID               uuid.UUID
	Name             string
	Status           DomainStatus
	DiscoveredAt     time.Time
	LastProcessedAt  *time.Time
	HighQualityCount int
	LowQualityCount  int
	BestConfidence   *decimal.Decimal
	RetryAfter       *time.Time
	BlacklistedBy    string
	BlacklistReason  string
	BlacklistedAt    *time.Time
}

// DiscoverySession is the audit record of one discovery run. Counter
// fields only ever grow while the session is RUNNING; EngineErrors maps
// an engine to the error descriptions it produced during the run.
type DiscoverySession struct {
	ID                 uuid.UUID
	Type               SessionType
	Status             SessionStatus
	ExecutedAt         time.Time
	StartedAt          time.Time
	CompletedAt        *time.Time
	DurationMinutes    *int
	CandidatesFound    int
	DuplicatesDetected int
	AverageConfidence  *decimal.Decimal
	EnginesUsed        []searchtypes.Engine
	Queries            []string
	ResultCounts       map[searchtypes.Engine]int
	EngineErrors       map[searchtypes.Engine][]string
	PromptID           string
	ModelID            string
}

// SessionStatsDelta carries one batch's contribution to a running
// session. Counters are added to the stored values, ResultCounts is
// merged per engine by addition, and AverageConfidence replaces the
// stored value when set.
type SessionStatsDelta struct {
	CandidatesFound    int
	DuplicatesDetected int
	AverageConfidence  *decimal.Decimal
	ResultCounts       map[searchtypes.Engine]int
}

// FundingCandidate is a search result that passed metadata judging and
// awaits the content crawl. Confidence is the committee score on a 0 to
// 1 scale with two decimal places.
type FundingCandidate struct {
	ID           uuid.UUID
	SessionID    uuid.UUID
	DomainID     uuid.UUID
	Status       CandidateStatus
	SourceURL    string
	Title        string
	Snippet      string
	Confidence   decimal.Decimal
	Organization string
	Program      string
	Reasoning    string
	Engine       searchtypes.Engine
	Query        string
	DiscoveredAt time.Time
}
