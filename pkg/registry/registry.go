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

// Package registry is the sole writer of the domain ledger and the sole
// authority on whether a URL should be processed. It deduplicates
// domains across sessions, tracks per-domain quality, and enforces the
// blacklist.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/teradata-labs/needle/internal/log"
	"github.com/teradata-labs/needle/pkg/observability"
	"github.com/teradata-labs/needle/pkg/search"
	"github.com/teradata-labs/needle/pkg/storage"
)

// ErrInvalidURL marks URLs the registry refuses to extract a domain
// from: non-http schemes, IP literals, and hosts that are not
// registrable names.
var ErrInvalidURL = errors.New("invalid url")

// DefaultBlacklistCacheTTL bounds how stale a cached blacklist verdict
// may get. Blacklisting through this registry updates the cache
// immediately; the TTL only covers writes from other instances.
const DefaultBlacklistCacheTTL = 5 * time.Minute

const blacklistCacheCleanup = 10 * time.Minute

// Config tunes the registry.
type Config struct {
	// BlacklistCacheTTL is how long blacklist verdicts are memoized.
	// Zero means DefaultBlacklistCacheTTL.
	BlacklistCacheTTL time.Duration
}

// Registry fronts the domain store with URL normalization, eligibility
// policy, and a short-lived blacklist cache.
type Registry struct {
	domains   storage.DomainStore
	tracer    observability.Tracer
	blacklist *gocache.Cache
}

// New creates a registry over the given domain store.
func New(domains storage.DomainStore, tracer observability.Tracer, cfg Config) *Registry {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	ttl := cfg.BlacklistCacheTTL
	if ttl <= 0 {
		ttl = DefaultBlacklistCacheTTL
	}
	return &Registry{
		domains:   domains,
		tracer:    tracer,
		blacklist: gocache.New(ttl, blacklistCacheCleanup),
	}
}

// ExtractDomain normalizes a result URL down to its domain name:
// lowercased host, leading www stripped, port dropped. IP literals and
// non-http schemes return ErrInvalidURL.
func (r *Registry) ExtractDomain(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if net.ParseIP(host) != nil {
		return "", fmt.Errorf("%w: ip literal host %q", ErrInvalidURL, host)
	}

	host = strings.TrimPrefix(host, "www.")
	if !strings.Contains(host, ".") {
		return "", fmt.Errorf("%w: %q is not a registrable host", ErrInvalidURL, host)
	}
	return host, nil
}

// ShouldProcess reports whether the URL's domain is eligible for
// processing. Unknown domains are eligible; known ones are gated by
// status and the retry window.
func (r *Registry) ShouldProcess(ctx context.Context, rawURL string) (bool, error) {
	name, err := r.ExtractDomain(rawURL)
	if err != nil {
		return false, err
	}

	ctx, span := r.tracer.StartSpan(ctx, "registry.should_process")
	defer r.tracer.EndSpan(span)
	span.SetAttribute("domain", name)

	domain, err := r.domains.GetByName(ctx, name)
	if errors.Is(err, storage.ErrNotFound) {
		span.SetAttribute("eligible", true)
		return true, nil
	}
	if err != nil {
		span.RecordError(err)
		return false, err
	}

	eligible := eligibleForProcessing(domain, time.Now())
	span.SetAttribute("eligible", eligible)
	span.SetAttribute("status", string(domain.Status))
	return eligible, nil
}

// eligibleForProcessing applies the status gate: DISCOVERED and
// NO_FUNDS_THIS_YEAR are always eligible, PROCESSING_FAILED only once
// its retry window has passed, everything else never.
func eligibleForProcessing(domain *storage.Domain, now time.Time) bool {
	switch domain.Status {
	case storage.DomainStatusDiscovered, storage.DomainStatusNoFundsThisYear:
		return true
	case storage.DomainStatusProcessingFailed:
		return domain.RetryAfter == nil || !domain.RetryAfter.After(now)
	default:
		return false
	}
}

// Register returns the domain row for the URL, inserting a DISCOVERED
// row when the domain is new. Registration is idempotent: a lost insert
// race reloads the winning row.
func (r *Registry) Register(ctx context.Context, rawURL string, sessionID uuid.UUID) (*storage.Domain, error) {
	name, err := r.ExtractDomain(rawURL)
	if err != nil {
		return nil, err
	}

	ctx, span := r.tracer.StartSpan(ctx, "registry.register")
	defer r.tracer.EndSpan(span)
	span.SetAttribute("domain", name)

	existing, err := r.domains.GetByName(ctx, name)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		span.RecordError(err)
		return nil, err
	}

	domain := &storage.Domain{
		ID:           uuid.New(),
		Name:         name,
		Status:       storage.DomainStatusDiscovered,
		DiscoveredAt: time.Now().UTC(),
	}
	err = r.domains.Insert(ctx, domain)
	if err == nil {
		span.SetAttribute("created", true)
		log.Debug("registered new domain",
			zap.String("domain", name),
			zap.String("session_id", sessionID.String()))
		return domain, nil
	}
	if errors.Is(err, storage.ErrAlreadyExists) {
		// Another session won the insert race; its row is the answer.
		return r.domains.GetByName(ctx, name)
	}
	span.RecordError(err)
	return nil, err
}

// UpdateQuality records one judged result against the domain.
func (r *Registry) UpdateQuality(ctx context.Context, domainID uuid.UUID, confidence decimal.Decimal, highQuality bool) error {
	return r.domains.RecordQuality(ctx, domainID, confidence, highQuality, time.Now().UTC())
}

// MarkFailed moves the domain into its retry window after a processing
// failure.
func (r *Registry) MarkFailed(ctx context.Context, domainID uuid.UUID, retryAfter time.Time) error {
	return r.domains.MarkFailed(ctx, domainID, retryAfter)
}

// Blacklist marks a domain BLACKLISTED and primes the cache so the
// verdict applies immediately.
func (r *Registry) Blacklist(ctx context.Context, name, actor, reason string) error {
	name = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "www.")
	if name == "" {
		return fmt.Errorf("%w: empty domain name", ErrInvalidURL)
	}

	ctx, span := r.tracer.StartSpan(ctx, "registry.blacklist")
	defer r.tracer.EndSpan(span)
	span.SetAttribute("domain", name)

	if err := r.domains.Blacklist(ctx, name, actor, reason); err != nil {
		span.RecordError(err)
		return err
	}
	r.blacklist.Set(name, true, gocache.DefaultExpiration)

	log.Info("domain blacklisted",
		zap.String("domain", name),
		zap.String("actor", actor),
		zap.String("reason", reason))
	return nil
}

// IsBlacklisted reports whether the domain is blacklisted, memoizing
// verdicts so per-result checks stay cheap.
func (r *Registry) IsBlacklisted(ctx context.Context, domain string) (bool, error) {
	if cached, ok := r.blacklist.Get(domain); ok {
		return cached.(bool), nil
	}

	row, err := r.domains.GetByName(ctx, domain)
	if errors.Is(err, storage.ErrNotFound) {
		r.blacklist.Set(domain, false, gocache.DefaultExpiration)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	listed := row.Status == storage.DomainStatusBlacklisted
	r.blacklist.Set(domain, listed, gocache.DefaultExpiration)
	return listed, nil
}

var _ search.DomainResolver = (*Registry)(nil)
