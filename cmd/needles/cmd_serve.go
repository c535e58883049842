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
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/teradata-labs/needle/internal/log"
	"github.com/teradata-labs/needle/internal/pgxdriver"
	"github.com/teradata-labs/needle/pkg/discovery"
	"github.com/teradata-labs/needle/pkg/judge"
	"github.com/teradata-labs/needle/pkg/llm"
	"github.com/teradata-labs/needle/pkg/observability"
	"github.com/teradata-labs/needle/pkg/query"
	"github.com/teradata-labs/needle/pkg/registry"
	"github.com/teradata-labs/needle/pkg/scheduler"
	"github.com/teradata-labs/needle/pkg/search"
	"github.com/teradata-labs/needle/pkg/search/brave"
	"github.com/teradata-labs/needle/pkg/search/perplexica"
	"github.com/teradata-labs/needle/pkg/search/resilience"
	"github.com/teradata-labs/needle/pkg/search/searxng"
	"github.com/teradata-labs/needle/pkg/search/serper"
	searchtypes "github.com/teradata-labs/needle/pkg/search/types"
	"github.com/teradata-labs/needle/pkg/server"
	"github.com/teradata-labs/needle/pkg/session"
	"github.com/teradata-labs/needle/pkg/storage/postgres"
)

var serveMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Needle discovery server",
	Long: `Start the Needle Server with the REST API.

The server will:
- Connect to PostgreSQL and optionally apply pending migrations
- Wire the discovery pipeline (query generation, search, judging)
- Start the cron scheduler (if enabled)
- Listen for HTTP requests on the specified port

Press Ctrl+C to gracefully shutdown.`,
	Run: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "apply pending schema migrations before serving")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	if err := log.Configure(config.Logging.Level, config.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := config.Validate(); err != nil {
		log.Fatal("Configuration validation failed", zap.Error(err))
	}

	log.Info("Starting Needle Server", zap.String("version", rootCmd.Version))

	// Show actual config file used (not just the --config flag)
	if configFileUsed := viper.ConfigFileUsed(); configFileUsed != "" {
		log.Info("Config file loaded", zap.String("path", configFileUsed))
	} else {
		log.Info("No config file found, using defaults + environment variables",
			zap.String("searched", "./needles.yaml, /etc/needle/needles.yaml"))
	}

	tracer := observability.NewNoOpTracer()

	poolCtx, cancelPool := context.WithTimeout(context.Background(), 30*time.Second)
	pool, err := pgxdriver.NewPool(poolCtx, pgxConfig(config), tracer)
	cancelPool()
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer pool.Close()

	if serveMigrate {
		migrator, err := postgres.NewMigrator(pool, tracer)
		if err != nil {
			log.Fatal("Failed to create migrator", zap.Error(err))
		}
		migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 2*time.Minute)
		err = migrator.MigrateUp(migrateCtx)
		cancelMigrate()
		if err != nil {
			log.Fatal("Failed to apply migrations", zap.Error(err))
		}
		log.Info("Schema migrations applied", zap.Int("version", migrator.LatestVersion()))
	}

	pipe := buildPipeline(pool, config, tracer)

	cronExpr := ""
	if config.Scheduler.Enabled {
		cronExpr = config.Scheduler.Cron
	}
	sched, err := scheduler.New(pipe.discovery, tracer, scheduler.Config{
		Cron:          cronExpr,
		SkipIfRunning: true,
	})
	if err != nil {
		log.Fatal("Failed to create scheduler", zap.Error(err))
	}
	sched.Start()
	if config.Scheduler.Enabled {
		log.Info("Scheduler enabled",
			zap.String("cron", config.Scheduler.Cron),
			zap.Time("next_run", sched.NextRun()))
	}

	srv := server.New(pipe.discovery, pipe.sessions, pipe.lm, tracer, serverConfig(config))

	for _, origin := range config.Server.CORS.AllowedOrigins {
		if origin == "*" && config.Server.CORS.Enabled {
			log.Warn("CORS configured with wildcard origins - this is INSECURE for production!",
				zap.String("recommendation", "Set server.cors.allowed_origins to specific domains in production"))
			break
		}
	}

	log.Info("Ready to discover!")

	// Handle graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)

		sigch := make(chan os.Signal, 1)
		signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
		<-sigch
		log.Info("Shutting down gracefully... (press Ctrl+C again to force)")

		// Second Ctrl+C forces shutdown
		go func() {
			<-sigch
			log.Warn("Force shutdown requested")
			os.Exit(1)
		}()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		// Stop the scheduler first so no new sessions start
		if err := sched.Stop(shutdownCtx); err != nil {
			log.Warn("Error stopping scheduler", zap.Error(err))
		} else {
			log.Info("Scheduler stopped")
		}

		if err := srv.Stop(shutdownCtx); err != nil {
			log.Warn("Error stopping HTTP server", zap.Error(err))
		} else {
			log.Info("HTTP server stopped")
		}

		// Wait for in-flight discovery sessions to finish
		if err := pipe.discovery.Shutdown(shutdownCtx); err != nil {
			log.Warn("Error draining discovery sessions", zap.Error(err))
		} else {
			log.Info("Discovery pipeline drained")
		}

		log.Info("Shutdown complete")
	}()

	if err := srv.Start(); err != nil {
		log.Fatal("Failed to serve", zap.Error(err))
	}

	<-done
}

// pipeline bundles the wired services a command needs after construction.
type pipeline struct {
	sessions  *session.Service
	discovery *discovery.Service
	lm        *llm.Client
}

// buildPipeline wires stores, judge committee, query facade, search
// orchestrator, and the discovery service on top of an open pool.
func buildPipeline(pool *pgxpool.Pool, cfg *Config, tracer observability.Tracer) *pipeline {
	sessionStore := postgres.NewSessionStore(pool, tracer)
	domainStore := postgres.NewDomainStore(pool, tracer)
	candidateStore := postgres.NewCandidateStore(pool, tracer)
	queryStore := postgres.NewQueryStore(pool, tracer)
	usageStore := postgres.NewUsageStore(pool, tracer)

	reg := registry.New(domainStore, tracer, registry.Config{})
	committee := judge.NewCommittee(judgeConfig(cfg))

	lmClient := llm.NewClient(llm.Config{
		BaseURL:     cfg.LM.BaseURL,
		Model:       cfg.LM.Model,
		APIKey:      cfg.LM.APIKey,
		Temperature: cfg.LM.Temperature,
		MaxTokens:   cfg.LM.MaxTokens,
		Timeout:     time.Duration(cfg.LM.TimeoutSeconds) * time.Second,
	})

	queries := query.NewFacade(lmClient, queryStore, tracer, query.Config{
		CacheTTL:  time.Duration(cfg.Cache.TTLHours) * time.Hour,
		CacheSize: cfg.Cache.MaxSize,
	})

	orchestrator := search.NewOrchestrator(buildAdapters(cfg, usageStore), spamFilter(cfg), reg, tracer, search.OrchestratorConfig{
		BatchDeadline: time.Duration(cfg.Orchestrator.BatchDeadlineSeconds) * time.Second,
	})

	processor := discovery.NewProcessor(reg, committee, candidateStore, tracer, discovery.ProcessorConfig{
		Concurrency: cfg.Orchestrator.MaxConcurrentResults,
	})

	sessions := session.NewService(sessionStore, tracer)

	disc := discovery.NewService(sessions, queries, orchestrator, processor, tracer, discovery.Config{
		BatchSize:  cfg.Discovery.BatchSize,
		MaxResults: cfg.Discovery.MaxResults,
		QueryCount: cfg.Discovery.QueryCount,
		Categories: cfg.Discovery.Categories,
		Geography:  cfg.Discovery.Geography,
		PromptID:   cfg.Discovery.PromptID,
		ModelID:    cfg.LM.Model,
	})

	return &pipeline{
		sessions:  sessions,
		discovery: disc,
		lm:        lmClient,
	}
}

// buildAdapters constructs the enabled search adapters, each wrapped
// with retry, circuit breaker, and usage recording.
func buildAdapters(cfg *Config, sink searchtypes.UsageSink) []searchtypes.Adapter {
	wrap := func(inner searchtypes.Adapter, timeoutSeconds int) searchtypes.Adapter {
		rc := resilience.Config{
			FailureRatio: cfg.Breaker.FailureRatio,
			WindowSize:   uint32(cfg.Breaker.WindowSize),
			Cooldown:     time.Duration(cfg.Breaker.CooldownSeconds) * time.Second,
		}
		if timeoutSeconds > 0 {
			// Wall clock across retries; the per-call bound is the
			// adapter's own HTTP timeout.
			rc.Timeout = 3 * time.Duration(timeoutSeconds) * time.Second
		}
		return resilience.Wrap(inner, sink, rc)
	}

	var adapters []searchtypes.Adapter
	if cfg.Engines.SearXNG.Enabled {
		adapters = append(adapters, wrap(searxng.NewClient(searxng.Config{
			BaseURL: cfg.Engines.SearXNG.BaseURL,
			Timeout: time.Duration(cfg.Engines.SearXNG.TimeoutSeconds) * time.Second,
			Enabled: true,
		}), cfg.Engines.SearXNG.TimeoutSeconds))
	}
	if cfg.Engines.Perplexica.Enabled {
		adapters = append(adapters, wrap(perplexica.NewClient(perplexica.Config{
			BaseURL: cfg.Engines.Perplexica.BaseURL,
			Timeout: time.Duration(cfg.Engines.Perplexica.TimeoutSeconds) * time.Second,
			Enabled: true,
		}), cfg.Engines.Perplexica.TimeoutSeconds))
	}
	if cfg.Engines.Brave.Enabled {
		adapters = append(adapters, wrap(brave.NewClient(brave.Config{
			BaseURL: cfg.Engines.Brave.BaseURL,
			APIKey:  cfg.Engines.Brave.APIKey,
			Timeout: time.Duration(cfg.Engines.Brave.TimeoutSeconds) * time.Second,
			Enabled: true,
		}), cfg.Engines.Brave.TimeoutSeconds))
	}
	if cfg.Engines.Serper.Enabled {
		adapters = append(adapters, wrap(serper.NewClient(serper.Config{
			BaseURL: cfg.Engines.Serper.BaseURL,
			APIKey:  cfg.Engines.Serper.APIKey,
			Timeout: time.Duration(cfg.Engines.Serper.TimeoutSeconds) * time.Second,
			Enabled: true,
		}), cfg.Engines.Serper.TimeoutSeconds))
	}
	return adapters
}

// judgeConfig overlays configured keyword lists and weights onto the
// committee's built-in defaults. Empty lists and zero weights keep the
// defaults.
func judgeConfig(cfg *Config) judge.Config {
	jc := judge.DefaultConfig()
	jc.Threshold = cfg.Judge.Threshold
	jc.MatchWholeWords = cfg.Judge.MatchWholeWords
	if len(cfg.Judge.FundingKeywords) > 0 {
		jc.FundingKeywords = cfg.Judge.FundingKeywords
	}
	if len(cfg.Judge.ScamPatterns) > 0 {
		jc.ScamPatterns = cfg.Judge.ScamPatterns
	}
	if len(cfg.Judge.CredibleTLDs) > 0 {
		jc.CredibleTLDs = cfg.Judge.CredibleTLDs
	}
	if len(cfg.Judge.GeographicKeywords) > 0 {
		jc.GeographicKeywords = cfg.Judge.GeographicKeywords
	}
	if len(cfg.Judge.OrgTypeKeywords) > 0 {
		jc.OrgTypeKeywords = cfg.Judge.OrgTypeKeywords
	}
	if cfg.Judge.FundingWeight > 0 {
		jc.FundingWeight = cfg.Judge.FundingWeight
	}
	if cfg.Judge.CredibilityWeight > 0 {
		jc.CredibilityWeight = cfg.Judge.CredibilityWeight
	}
	if cfg.Judge.GeographicWeight > 0 {
		jc.GeographicWeight = cfg.Judge.GeographicWeight
	}
	if cfg.Judge.OrgTypeWeight > 0 {
		jc.OrgTypeWeight = cfg.Judge.OrgTypeWeight
	}
	return jc
}

// spamFilter builds a filter extending the built-in lists with
// configured entries. Returns nil when nothing is configured; the
// orchestrator then uses its built-in filter.
func spamFilter(cfg *Config) *search.Filter {
	if len(cfg.Filter.HostBlacklist) == 0 && len(cfg.Filter.SpamMarkers) == 0 && len(cfg.Filter.Exemplars) == 0 {
		return nil
	}
	fc := search.DefaultFilterConfig()
	fc.HostBlacklist = append(fc.HostBlacklist, cfg.Filter.HostBlacklist...)
	fc.SpamMarkers = append(fc.SpamMarkers, cfg.Filter.SpamMarkers...)
	fc.Exemplars = append(fc.Exemplars, cfg.Filter.Exemplars...)
	return search.NewFilter(fc)
}

func pgxConfig(cfg *Config) pgxdriver.Config {
	return pgxdriver.Config{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		Schema:   cfg.Database.Schema,
		MaxConns: int32(cfg.Database.MaxConns),
		MinConns: int32(cfg.Database.MinConns),
	}
}

func serverConfig(cfg *Config) server.Config {
	cors := server.DefaultCORSConfig()
	cors.Enabled = cfg.Server.CORS.Enabled
	if len(cfg.Server.CORS.AllowedOrigins) > 0 {
		cors.AllowedOrigins = cfg.Server.CORS.AllowedOrigins
	}
	if cfg.Server.CORS.MaxAge > 0 {
		cors.MaxAge = cfg.Server.CORS.MaxAge
	}
	return server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
		CORS: cors,
	}
}
