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

// Package scheduler triggers discovery sessions on a cron cadence.
// One schedule, defined by configuration; a tick that lands while a
// previous discovery is still executing is skipped, not queued.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teradata-labs/needle/internal/log"
	"github.com/teradata-labs/needle/pkg/discovery"
	"github.com/teradata-labs/needle/pkg/observability"
	"github.com/teradata-labs/needle/pkg/storage"
)

// ticksTotal counts scheduler ticks by what became of them.
// Labels: outcome (triggered, skipped, failed)
var ticksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "needle",
	Subsystem: "scheduler",
	Name:      "ticks_total",
	Help:      "Scheduler ticks by outcome",
}, []string{"outcome"})

// DiscoveryRunner is the slice of the discovery service the scheduler
// needs.
type DiscoveryRunner interface {
	Trigger(ctx context.Context, params discovery.TriggerParams) (*storage.DiscoverySession, int, error)
	ActiveRuns() int
}

// Config holds the scheduler configuration.
type Config struct {
	// Cron is a standard 5-field cron expression. Empty disables the
	// scheduler entirely.
	Cron string

	// SkipIfRunning skips a tick while any discovery session is still
	// executing instead of stacking runs.
	SkipIfRunning bool

	// TriggerTimeout bounds the synchronous part of a trigger, which
	// includes query generation. Default: 2m.
	TriggerTimeout time.Duration
}

// Scheduler owns the cron engine and the single discovery schedule.
type Scheduler struct {
	runner DiscoveryRunner
	tracer observability.Tracer
	engine *cron.Cron
	cfg    Config

	mu          sync.Mutex
	entryID     cron.EntryID
	skipped     int
	lastSession string
}

// New validates the cron expression and builds the scheduler. The
// engine does not run until Start.
func New(runner DiscoveryRunner, tracer observability.Tracer, cfg Config) (*Scheduler, error) {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	if cfg.TriggerTimeout <= 0 {
		cfg.TriggerTimeout = 2 * time.Minute
	}
	if cfg.Cron != "" {
		if _, err := cron.ParseStandard(cfg.Cron); err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", cfg.Cron, err)
		}
	}
	return &Scheduler{
		runner: runner,
		tracer: tracer,
		engine: cron.New(),
		cfg:    cfg,
	}, nil
}

// Start registers the schedule and starts the cron engine. With no
// cron expression configured this is a no-op.
func (s *Scheduler) Start() error {
	if s.cfg.Cron == "" {
		log.Info("scheduler disabled, no cron expression configured")
		return nil
	}

	entryID, err := s.engine.AddFunc(s.cfg.Cron, s.tick)
	if err != nil {
		return fmt.Errorf("failed to register schedule: %w", err)
	}
	s.mu.Lock()
	s.entryID = entryID
	s.mu.Unlock()

	s.engine.Start()
	log.Info("scheduler started", zap.String("cron", s.cfg.Cron))
	return nil
}

// Stop halts the engine and waits for a running tick until the context
// expires. Discovery sessions started by earlier ticks keep running;
// they belong to the discovery service.
func (s *Scheduler) Stop(ctx context.Context) error {
	cronCtx := s.engine.Stop()
	select {
	case <-cronCtx.Done():
		log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		log.Warn("scheduler stop timed out with a tick still running")
		return ctx.Err()
	}
}

// NextRun returns the next scheduled execution time, or the zero time
// when the scheduler is disabled or not started.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	entryID := s.entryID
	s.mu.Unlock()
	if entryID == 0 {
		return time.Time{}
	}
	return s.engine.Entry(entryID).Next
}

// Skipped reports how many ticks were skipped because a discovery was
// still running.
func (s *Scheduler) Skipped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}

// tick fires one scheduled discovery. The trigger uses the service's
// configured defaults for engines, categories, and counts.
func (s *Scheduler) tick() {
	if s.cfg.SkipIfRunning && s.runner.ActiveRuns() > 0 {
		s.mu.Lock()
		s.skipped++
		s.mu.Unlock()
		ticksTotal.WithLabelValues("skipped").Inc()
		log.Info("scheduled discovery skipped, previous run still active")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.TriggerTimeout)
	defer cancel()
	ctx, span := s.tracer.StartSpan(ctx, "scheduler.tick")
	defer s.tracer.EndSpan(span)

	sess, queriesCount, err := s.runner.Trigger(ctx, discovery.TriggerParams{
		Type: storage.SessionTypeScheduled,
	})
	if err != nil {
		span.RecordError(err)
		ticksTotal.WithLabelValues("failed").Inc()
		log.Error("scheduled discovery failed to start", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.lastSession = sess.ID.String()
	s.mu.Unlock()
	ticksTotal.WithLabelValues("triggered").Inc()

	span.SetAttribute("session_id", sess.ID.String())
	log.Info("scheduled discovery started",
		zap.String("session_id", sess.ID.String()),
		zap.Int("queries", queriesCount))
}
