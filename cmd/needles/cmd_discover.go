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
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/needle/internal/log"
	"github.com/teradata-labs/needle/internal/pgxdriver"
	"github.com/teradata-labs/needle/pkg/discovery"
	"github.com/teradata-labs/needle/pkg/observability"
	"github.com/teradata-labs/needle/pkg/query"
	searchtypes "github.com/teradata-labs/needle/pkg/search/types"
	"github.com/teradata-labs/needle/pkg/session"
	"github.com/teradata-labs/needle/pkg/storage"
)

var (
	discoverEngines    []string
	discoverCategories []string
	discoverGeography  string
	discoverTags       []string
	discoverQueryCount int
	discoverMaxResults int
	discoverTimeout    time.Duration
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run one discovery session and wait for it",
	Long: `Run a single manual discovery session and wait for completion.

Generates search queries with the configured language model, fans them
out across the enabled engines, judges the results, and persists
high-confidence candidates. Prints a session summary when the run
finishes.

Examples:
  # Discover with the configured defaults
  needles discover

  # Restrict to specific engines and categories
  needles discover --engines=searxng,brave --categories=EDUCATION,RESEARCH

  # Aim the run with audience tags
  needles discover --tags=RECIPIENT:students --tags=MECHANISM:scholarship

  # Larger run with a longer deadline
  needles discover --query-count=10 --max-results=20 --timeout=15m`,
	Run: runDiscover,
}

func init() {
	discoverCmd.Flags().StringSliceVar(&discoverEngines, "engines", nil, "Engines to use (comma-separated; default: all enabled)")
	discoverCmd.Flags().StringSliceVar(&discoverCategories, "categories", nil, "Funding categories (default: configured)")
	discoverCmd.Flags().StringVar(&discoverGeography, "geography", "", "Geographic focus (default: configured)")
	discoverCmd.Flags().StringArrayVar(&discoverTags, "tags", nil, "Audience tag as TYPE:value (RECIPIENT, MECHANISM, BENEFICIARY); repeatable")
	discoverCmd.Flags().IntVar(&discoverQueryCount, "query-count", 0, "Queries to generate per engine (default: configured)")
	discoverCmd.Flags().IntVar(&discoverMaxResults, "max-results", 0, "Results per query, 1-50 (default: configured)")
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 5*time.Minute, "How long to wait for the session to finish")
	rootCmd.AddCommand(discoverCmd)
}

func runDiscover(cmd *cobra.Command, args []string) {
	if err := log.Configure(config.Logging.Level, config.Logging.Format); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := config.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration validation failed: %v\n", err)
		os.Exit(1)
	}

	engines, err := parseEngineFlags(discoverEngines)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	tags, err := parseTagFlags(discoverTags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	tracer := observability.NewNoOpTracer()

	poolCtx, cancelPool := context.WithTimeout(context.Background(), 30*time.Second)
	pool, err := pgxdriver.NewPool(poolCtx, pgxConfig(config), tracer)
	cancelPool()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to PostgreSQL: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	pipe := buildPipeline(pool, config, tracer)

	ctx, cancel := context.WithTimeout(context.Background(), discoverTimeout)
	defer cancel()

	sess, queued, err := pipe.discovery.Trigger(ctx, discovery.TriggerParams{
		Type:       storage.SessionTypeManual,
		Engines:    engines,
		Categories: discoverCategories,
		Geography:  discoverGeography,
		Tags:       tags,
		QueryCount: discoverQueryCount,
		MaxResults: discoverMaxResults,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting discovery: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("🔍 Session %s started with %d queries\n", sess.ID, queued)

	final, err := waitForSession(ctx, pipe.sessions, sess.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error waiting for session: %v\n", err)
		os.Exit(1)
	}

	printSession(final)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := pipe.discovery.Shutdown(shutdownCtx); err != nil {
		log.Warn("Error draining discovery sessions", zap.Error(err))
	}

	if final.Status == storage.SessionStatusFailed {
		os.Exit(1)
	}
}

// waitForSession polls until the session reaches a terminal state.
func waitForSession(ctx context.Context, sessions *session.Service, id uuid.UUID) (*storage.DiscoverySession, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for session %s: %w", id, ctx.Err())
		case <-ticker.C:
			sess, err := sessions.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			if sess.Status.Terminal() {
				return sess, nil
			}
		}
	}
}

func printSession(sess *storage.DiscoverySession) {
	icon := "✅"
	switch sess.Status {
	case storage.SessionStatusFailed:
		icon = "❌"
	case storage.SessionStatusCancelled:
		icon = "⚠️"
	}

	fmt.Println(strings.Repeat("─", 80))
	fmt.Printf("%s Session %s %s\n", icon, sess.ID, sess.Status)
	fmt.Printf("   Candidates: %d new, %d duplicates\n", sess.CandidatesFound, sess.DuplicatesDetected)
	if sess.AverageConfidence != nil {
		fmt.Printf("   Average confidence: %s\n", sess.AverageConfidence.StringFixed(2))
	}
	if sess.DurationMinutes != nil {
		fmt.Printf("   Duration: %d min\n", *sess.DurationMinutes)
	}
	if len(sess.ResultCounts) > 0 {
		fmt.Printf("   Results per engine:\n")
		for _, engine := range searchtypes.AllEngines() {
			if count, ok := sess.ResultCounts[engine]; ok {
				fmt.Printf("     - %s: %d\n", engine, count)
			}
		}
	}
	if len(sess.EngineErrors) > 0 {
		fmt.Printf("   Engine errors:\n")
		for _, engine := range searchtypes.AllEngines() {
			for _, msg := range sess.EngineErrors[engine] {
				fmt.Printf("     - %s: %s\n", engine, msg)
			}
		}
	}
}

// parseEngineFlags converts engine names into typed engines.
func parseEngineFlags(names []string) ([]searchtypes.Engine, error) {
	var engines []searchtypes.Engine
	for _, name := range names {
		engine, err := searchtypes.ParseEngine(name)
		if err != nil {
			return nil, err
		}
		engines = append(engines, engine)
	}
	return engines, nil
}

// parseTagFlags converts TYPE:value pairs into typed query tags.
func parseTagFlags(pairs []string) ([]query.Tag, error) {
	var tags []query.Tag
	for _, pair := range pairs {
		kind, value, ok := strings.Cut(pair, ":")
		if !ok || strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("tag %q must use the form TYPE:value", pair)
		}
		var tagKind query.TagKind
		switch strings.ToUpper(strings.TrimSpace(kind)) {
		case string(query.TagRecipient):
			tagKind = query.TagRecipient
		case string(query.TagMechanism):
			tagKind = query.TagMechanism
		case string(query.TagBeneficiary):
			tagKind = query.TagBeneficiary
		default:
			return nil, fmt.Errorf("unknown tag type %q (must be RECIPIENT, MECHANISM, or BENEFICIARY)", kind)
		}
		tags = append(tags, query.Tag{Kind: tagKind, Value: strings.TrimSpace(value)})
	}
	return tags, nil
}
