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

// Package query turns structured discovery requests into search queries
// tuned per engine. Queries come from a local language model through
// one of two strategies (keyword phrases for classical engines,
// full-sentence prompts for AI-augmented ones), are cached by request
// fingerprint, and degrade to configured static lists when the model is
// unreachable. Generation never fails a discovery run.
package query

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/teradata-labs/needle/internal/log"
	"github.com/teradata-labs/needle/pkg/llm"
	"github.com/teradata-labs/needle/pkg/observability"
	searchtypes "github.com/teradata-labs/needle/pkg/search/types"
)

// DefaultGenerationTimeout bounds a single strategy call, model
// round-trip included.
const DefaultGenerationTimeout = 30 * time.Second

// Config carries the tunables for generation, caching, and vocabulary.
// Zero values select the documented defaults.
type Config struct {
	// CacheTTL is the write TTL for cached query lists.
	CacheTTL time.Duration // default 24h

	// CacheSize bounds the number of cached query lists.
	CacheSize int // default 512

	// Timeout bounds one generation call.
	Timeout time.Duration // default 30s

	// Styles maps engines to query styles. Engines absent from the
	// map use keyword style.
	Styles map[searchtypes.Engine]Style

	// Categories and Geographies feed the prompt mappers.
	Categories  map[string]string
	Geographies map[string]string

	// KeywordFallback and PromptFallback are the static lists used
	// when the model call fails.
	KeywordFallback []string
	PromptFallback  []string
}

// DefaultConfig returns the full default configuration.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultGenerationTimeout
	}
	if c.Styles == nil {
		c.Styles = DefaultStyles()
	}
	if c.Categories == nil {
		c.Categories = defaultCategories
	}
	if c.Geographies == nil {
		c.Geographies = defaultGeographies
	}
	if len(c.KeywordFallback) == 0 {
		c.KeywordFallback = defaultKeywordFallback
	}
	if len(c.PromptFallback) == 0 {
		c.PromptFallback = defaultPromptFallback
	}
	return c
}

// Facade is the single entry point for query generation. Stateless
// apart from its cache; safe for concurrent use.
type Facade struct {
	keyword Strategy
	prompt  Strategy
	styles  map[searchtypes.Engine]Style
	cache   *Cache
	sink    QuerySink
	tracer  observability.Tracer
}

// NewFacade wires the two strategies over the given completion
// provider. sink may be nil to disable persistence of generation
// records; tracer may be nil for no-op tracing.
func NewFacade(provider llm.CompletionProvider, sink QuerySink, tracer observability.Tracer, cfg Config) *Facade {
	cfg = cfg.withDefaults()
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	mappers := NewMappers(cfg.Categories, cfg.Geographies)
	return &Facade{
		keyword: newStrategy(StyleKeyword, provider, mappers, cfg.KeywordFallback, cfg.Timeout),
		prompt:  newStrategy(StylePrompt, provider, mappers, cfg.PromptFallback, cfg.Timeout),
		styles:  cfg.Styles,
		cache:   NewCache(cfg.CacheTTL, cfg.CacheSize),
		sink:    sink,
		tracer:  tracer,
	}
}

// Generate produces queries for one engine. A cache hit returns the
// cached list marked FromCache without contacting the model. Fresh
// lists are cached and recorded asynchronously; fallback lists are
// returned but neither cached nor recorded, so the next request retries
// the model.
func (f *Facade) Generate(ctx context.Context, req Request) (GeneratedQueries, error) {
	if err := req.Validate(); err != nil {
		return GeneratedQueries{}, fmt.Errorf("invalid query request: %w", err)
	}

	ctx, span := f.tracer.StartSpan(ctx, "query.generate",
		observability.WithSpanKind("llm"),
		observability.WithAttribute("engine", string(req.Engine)),
		observability.WithAttribute("count", req.Count),
	)
	defer f.tracer.EndSpan(span)

	key := req.CacheKey()
	if cached, ok := f.cache.Get(key); ok {
		span.SetAttribute("cache_hit", true)
		cached.FromCache = true
		return cached, nil
	}
	span.SetAttribute("cache_hit", false)

	queries, fellBack := f.strategyFor(req.Engine).Generate(ctx, req)
	gq := GeneratedQueries{
		Queries:     queries,
		Engine:      req.Engine,
		GeneratedAt: time.Now().UTC(),
	}
	span.SetAttribute("generated", len(queries))
	span.SetAttribute("fallback", fellBack)

	if !fellBack {
		f.cache.Put(key, gq)
		f.recordAsync(ctx, req, gq, key)
	}
	return gq, nil
}

// GenerateForMany runs Generate concurrently for each engine, cloning
// the request per engine. A failing engine is logged and omitted from
// the result; it never fails the batch.
func (f *Facade) GenerateForMany(ctx context.Context, engines []searchtypes.Engine, req Request) map[searchtypes.Engine]GeneratedQueries {
	var (
		mu  sync.Mutex
		out = make(map[searchtypes.Engine]GeneratedQueries, len(engines))
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, engine := range engines {
		g.Go(func() error {
			perEngine := req
			perEngine.Engine = engine
			gq, err := f.Generate(ctx, perEngine)
			if err != nil {
				log.Warn("query generation skipped for engine",
					zap.String("engine", string(engine)),
					zap.Error(err))
				return nil
			}
			mu.Lock()
			out[engine] = gq
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // goroutines swallow their own failures

	return out
}

// CacheStats exposes the cache counters for the health surface.
func (f *Facade) CacheStats() CacheStats {
	return f.cache.Stats()
}

// ClearCache drops all cached query lists.
func (f *Facade) ClearCache() {
	f.cache.Clear()
}

func (f *Facade) strategyFor(engine searchtypes.Engine) Strategy {
	if f.styles[engine] == StylePrompt {
		return f.prompt
	}
	return f.keyword
}

func (f *Facade) recordAsync(ctx context.Context, req Request, gq GeneratedQueries, key string) {
	if f.sink == nil {
		return
	}
	tags := make([]string, 0, len(req.Tags))
	for _, t := range req.Tags {
		tags = append(tags, t.String())
	}
	rec := QueryRecord{
		SessionID:   req.SessionID,
		Engine:      req.Engine,
		Queries:     gq.Queries,
		Tags:        tags,
		CacheKey:    key,
		GeneratedAt: gq.GeneratedAt,
	}

	// Generation already succeeded; the record write must not be cut
	// short by the caller's deadline.
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := f.sink.RecordQueries(ctx, rec); err != nil {
			log.Warn("failed to record generated queries",
				zap.String("engine", string(req.Engine)),
				zap.Error(err))
		}
	}()
}
