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

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/needle/pkg/discovery"
	"github.com/teradata-labs/needle/pkg/judge"
	"github.com/teradata-labs/needle/pkg/llm"
	"github.com/teradata-labs/needle/pkg/query"
	"github.com/teradata-labs/needle/pkg/registry"
	"github.com/teradata-labs/needle/pkg/search"
	searchtypes "github.com/teradata-labs/needle/pkg/search/types"
	"github.com/teradata-labs/needle/pkg/session"
	"github.com/teradata-labs/needle/pkg/storage"
)

type fakeSessionStore struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*storage.DiscoverySession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{byID: map[uuid.UUID]*storage.DiscoverySession{}}
}

func (f *fakeSessionStore) Create(ctx context.Context, sess *storage.DiscoverySession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *sess
	f.byID[sess.ID] = &copied
	return nil
}

func (f *fakeSessionStore) Get(ctx context.Context, id uuid.UUID) (*storage.DiscoverySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *sess
	return &copied, nil
}

func (f *fakeSessionStore) List(ctx context.Context, offset, limit int) ([]*storage.DiscoverySession, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	all := make([]*storage.DiscoverySession, 0, len(f.byID))
	for _, sess := range f.byID {
		copied := *sess
		all = append(all, &copied)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ExecutedAt.After(all[j].ExecutedAt) })

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

func (f *fakeSessionStore) AppendEngineError(ctx context.Context, id uuid.UUID, engine searchtypes.Engine, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.byID[id]
	if !ok {
		return storage.ErrNotFound
	}
	if sess.EngineErrors == nil {
		sess.EngineErrors = map[searchtypes.Engine][]string{}
	}
	sess.EngineErrors[engine] = append(sess.EngineErrors[engine], message)
	return nil
}

func (f *fakeSessionStore) MergeStats(ctx context.Context, id uuid.UUID, delta storage.SessionStatsDelta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.byID[id]
	if !ok {
		return storage.ErrNotFound
	}
	sess.CandidatesFound += delta.CandidatesFound
	sess.DuplicatesDetected += delta.DuplicatesDetected
	if delta.AverageConfidence != nil {
		avg := *delta.AverageConfidence
		sess.AverageConfidence = &avg
	}
	return nil
}

func (f *fakeSessionStore) Finish(ctx context.Context, id uuid.UUID, status storage.SessionStatus, completedAt time.Time, durationMinutes int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.byID[id]
	if !ok {
		return storage.ErrNotFound
	}
	if sess.Status != storage.SessionStatusRunning {
		return storage.ErrConflict
	}
	sess.Status = status
	sess.CompletedAt = &completedAt
	sess.DurationMinutes = &durationMinutes
	return nil
}

type fakeDomainStore struct {
	mu     sync.Mutex
	byName map[string]*storage.Domain
}

func newFakeDomainStore() *fakeDomainStore {
	return &fakeDomainStore{byName: map[string]*storage.Domain{}}
}

func (f *fakeDomainStore) Insert(ctx context.Context, domain *storage.Domain) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byName[domain.Name]; ok {
		return storage.ErrAlreadyExists
	}
	f.byName[domain.Name] = domain
	return nil
}

func (f *fakeDomainStore) GetByName(ctx context.Context, name string) (*storage.Domain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	domain, ok := f.byName[name]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *domain
	return &copied, nil
}

func (f *fakeDomainStore) Get(ctx context.Context, id uuid.UUID) (*storage.Domain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, domain := range f.byName {
		if domain.ID == id {
			copied := *domain
			return &copied, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeDomainStore) RecordQuality(ctx context.Context, id uuid.UUID, confidence decimal.Decimal, highQuality bool, processedAt time.Time) error {
	return nil
}

func (f *fakeDomainStore) MarkFailed(ctx context.Context, id uuid.UUID, retryAfter time.Time) error {
	return nil
}

func (f *fakeDomainStore) Blacklist(ctx context.Context, name, actor, reason string) error {
	return nil
}

func (f *fakeDomainStore) ListBlacklisted(ctx context.Context) ([]string, error) {
	return nil, nil
}

type fakeCandidateStore struct {
	mu       sync.Mutex
	inserted []*storage.FundingCandidate
}

func (f *fakeCandidateStore) Insert(ctx context.Context, candidate *storage.FundingCandidate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.inserted {
		if existing.SessionID == candidate.SessionID && existing.SourceURL == candidate.SourceURL {
			return storage.ErrAlreadyExists
		}
	}
	copied := *candidate
	f.inserted = append(f.inserted, &copied)
	return nil
}

func (f *fakeCandidateStore) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]*storage.FundingCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*storage.FundingCandidate
	for _, c := range f.inserted {
		if c.SessionID == sessionID {
			copied := *c
			out = append(out, &copied)
		}
	}
	return out, nil
}

type staticAdapter struct {
	engine  searchtypes.Engine
	results []searchtypes.Result
}

func (a *staticAdapter) Search(ctx context.Context, q string, maxResults int) ([]searchtypes.Result, error) {
	out := make([]searchtypes.Result, len(a.results))
	copy(out, a.results)
	for i := range out {
		out[i].Engine = a.engine
		out[i].Query = q
	}
	return out, nil
}

func (a *staticAdapter) Engine() searchtypes.Engine { return a.engine }

func (a *staticAdapter) Enabled() bool { return true }

func (a *staticAdapter) Health(ctx context.Context) error { return nil }

// stubLM serves both as the query-generation provider and as the
// language model the health endpoint probes.
type stubLM struct {
	mu        sync.Mutex
	healthErr error
}

func (s *stubLM) ChatCompletion(ctx context.Context, messages []llm.Message) (string, error) {
	return "bulgaria education grants\nbulgaria ngo funding", nil
}

func (s *stubLM) Health(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthErr
}

func (s *stubLM) setHealthErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthErr = err
}

var _ llm.CompletionProvider = (*stubLM)(nil)

type serverFixture struct {
	ts       *httptest.Server
	sessions *fakeSessionStore
	lm       *stubLM
	disc     *discovery.Service
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	sessions := newFakeSessionStore()
	domains := newFakeDomainStore()
	candidates := &fakeCandidateStore{}
	lm := &stubLM{}

	adapters := []searchtypes.Adapter{
		&staticAdapter{engine: searchtypes.EngineSearXNG, results: []searchtypes.Result{{
			URL:     "https://us-bulgaria.org/ed-grant",
			Title:   "Education Grants for Bulgarian Schools - America for Bulgaria Foundation",
			Snippet: "Apply for education grants and scholarships funding schools across Bulgaria.",
			Rank:    1,
		}}},
		&staticAdapter{engine: searchtypes.EngineSerper},
		&staticAdapter{engine: searchtypes.EnginePerplexica},
	}

	reg := registry.New(domains, nil, registry.Config{})
	committee := judge.NewCommittee(judge.DefaultConfig())
	processor := discovery.NewProcessor(reg, committee, candidates, nil, discovery.ProcessorConfig{Concurrency: 2})
	orchestrator := search.NewOrchestrator(adapters, nil, reg, nil, search.OrchestratorConfig{})
	sessionSvc := session.NewService(sessions, nil)
	facade := query.NewFacade(lm, nil, nil, query.Config{})

	disc := discovery.NewService(sessionSvc, facade, orchestrator, processor, nil, discovery.Config{
		Categories: []string{"education"},
		Geography:  "Bulgaria",
		QueryCount: 2,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = disc.Shutdown(ctx)
	})

	srv := New(disc, sessionSvc, lm, nil, Config{})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &serverFixture{ts: ts, sessions: sessions, lm: lm, disc: disc}
}

func (fx *serverFixture) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, fx.ts.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := fx.ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	}
	return resp.StatusCode, decoded
}

func (fx *serverFixture) seedSession(t *testing.T, status storage.SessionStatus, executedAt time.Time) *storage.DiscoverySession {
	t.Helper()
	sess := &storage.DiscoverySession{
		ID:          uuid.New(),
		Type:        storage.SessionTypeManual,
		Status:      status,
		ExecutedAt:  executedAt,
		StartedAt:   executedAt,
		EnginesUsed: []searchtypes.Engine{searchtypes.EngineSearXNG},
		Queries:     []string{"bulgaria education grants"},
	}
	require.NoError(t, fx.sessions.Create(context.Background(), sess))
	return sess
}

func (fx *serverFixture) waitSettled(t *testing.T, id uuid.UUID) *storage.DiscoverySession {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := fx.sessions.Get(context.Background(), id)
		require.NoError(t, err)
		if sess.Status != storage.SessionStatusRunning {
			return sess
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session never settled")
	return nil
}

func TestExecute_AcceptsAndRunsSession(t *testing.T) {
	fx := newServerFixture(t)

	status, body := fx.do(t, http.MethodPost, "/api/search/execute", map[string]any{
		"engines":         []string{"searxng"},
		"categories":      []string{"education"},
		"geographicScope": "Bulgaria",
	})
	require.Equal(t, http.StatusAccepted, status)

	id, err := uuid.Parse(body["sessionId"].(string))
	require.NoError(t, err)
	assert.Equal(t, float64(2), body["queriesCount"], "one engine times two generated queries")

	settled := fx.waitSettled(t, id)
	assert.Equal(t, storage.SessionStatusCompleted, settled.Status)
	assert.Equal(t, 1, settled.CandidatesFound)
}

func TestExecute_RejectsUnknownEngine(t *testing.T) {
	fx := newServerFixture(t)

	status, body := fx.do(t, http.MethodPost, "/api/search/execute", map[string]any{
		"engines": []string{"altavista"},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], "unknown search engine")
}

func TestExecute_RejectsOutOfRangeMaxResults(t *testing.T) {
	fx := newServerFixture(t)

	for _, maxResults := range []int{0, 51, -3} {
		status, body := fx.do(t, http.MethodPost, "/api/search/execute", map[string]any{
			"engines":    []string{"searxng"},
			"maxResults": maxResults,
		})
		assert.Equal(t, http.StatusBadRequest, status, "maxResults=%d", maxResults)
		assert.Contains(t, body["error"], "maxResults must be between 1 and 50")
	}
}

func TestExecute_RejectsMalformedBody(t *testing.T) {
	fx := newServerFixture(t)

	resp, err := fx.ts.Client().Post(fx.ts.URL+"/api/search/execute", "application/json",
		strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestExecute_RejectsUnknownTagType(t *testing.T) {
	fx := newServerFixture(t)

	status, body := fx.do(t, http.MethodPost, "/api/search/execute", map[string]any{
		"engines": []string{"searxng"},
		"tags":    []map[string]string{{"type": "SPONSOR", "value": "EU"}},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, body["error"], "unknown tag type")
}

func TestLegacyTrigger_MapsRetiredEngineNames(t *testing.T) {
	fx := newServerFixture(t)

	status, body := fx.do(t, http.MethodPost, "/api/discovery/trigger", map[string]any{
		"engines": []string{"tavily", "perplexity"},
	})
	require.Equal(t, http.StatusAccepted, status)

	id, err := uuid.Parse(body["sessionId"].(string))
	require.NoError(t, err)
	sess, err := fx.sessions.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []searchtypes.Engine{searchtypes.EngineSerper, searchtypes.EnginePerplexica}, sess.EnginesUsed)
}

func TestLegacyTrigger_EmptySelectionUsesWholeWhitelist(t *testing.T) {
	fx := newServerFixture(t)

	status, body := fx.do(t, http.MethodPost, "/api/discovery/trigger", map[string]any{})
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, float64(6), body["queriesCount"], "three engines times two queries")
}

func TestLegacyTrigger_RejectsNamesOutsideWhitelist(t *testing.T) {
	fx := newServerFixture(t)

	// brave is a live engine on /search/execute but was never part of
	// the legacy surface.
	for _, name := range []string{"brave", "bing", "serper"} {
		status, body := fx.do(t, http.MethodPost, "/api/discovery/trigger", map[string]any{
			"engines": []string{name},
		})
		assert.Equal(t, http.StatusBadRequest, status, "engine %q", name)
		assert.Contains(t, body["error"], "not available on this endpoint")
	}
}

func TestListSessions_ValidatesPagination(t *testing.T) {
	fx := newServerFixture(t)

	for _, qs := range []string{"?page=-1", "?size=0", "?size=101", "?page=abc", "?size=abc"} {
		status, _ := fx.do(t, http.MethodGet, "/api/discovery/sessions"+qs, nil)
		assert.Equal(t, http.StatusBadRequest, status, "query %q", qs)
	}
}

func TestListSessions_PaginatesNewestFirst(t *testing.T) {
	fx := newServerFixture(t)

	base := time.Now().UTC().Add(-time.Hour)
	oldest := fx.seedSession(t, storage.SessionStatusCompleted, base)
	running := fx.seedSession(t, storage.SessionStatusRunning, base.Add(time.Minute))
	newest := fx.seedSession(t, storage.SessionStatusFailed, base.Add(2*time.Minute))

	status, body := fx.do(t, http.MethodGet, "/api/discovery/sessions?page=0&size=2", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(3), body["total"])

	sessions := body["sessions"].([]any)
	require.Len(t, sessions, 2)
	first := sessions[0].(map[string]any)
	second := sessions[1].(map[string]any)
	assert.Equal(t, newest.ID.String(), first["id"])
	assert.Equal(t, running.ID.String(), second["id"])
	assert.Equal(t, "RUNNING", second["status"], "running sessions are listed too")

	status, body = fx.do(t, http.MethodGet, "/api/discovery/sessions?page=1&size=2", nil)
	require.Equal(t, http.StatusOK, status)
	sessions = body["sessions"].([]any)
	require.Len(t, sessions, 1)
	assert.Equal(t, oldest.ID.String(), sessions[0].(map[string]any)["id"])
}

func TestGetSession_ReturnsFullRecord(t *testing.T) {
	fx := newServerFixture(t)

	now := time.Now().UTC()
	avg := decimal.RequireFromString("0.87")
	sess := &storage.DiscoverySession{
		ID:                uuid.New(),
		Type:              storage.SessionTypeManual,
		Status:            storage.SessionStatusCompleted,
		ExecutedAt:        now,
		StartedAt:         now,
		CandidatesFound:   3,
		AverageConfidence: &avg,
		EnginesUsed:       []searchtypes.Engine{searchtypes.EngineSerper},
		Queries:           []string{"bulgaria education grants"},
		EngineErrors: map[searchtypes.Engine][]string{
			searchtypes.EngineSerper: {"TIMEOUT: context deadline exceeded"},
		},
	}
	require.NoError(t, fx.sessions.Create(context.Background(), sess))

	status, body := fx.do(t, http.MethodGet, "/api/discovery/sessions/"+sess.ID.String(), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "COMPLETED", body["status"])
	assert.Equal(t, float64(3), body["candidatesFound"])
	assert.Equal(t, "0.87", body["averageConfidence"])
	engineErrors := body["engineErrors"].(map[string]any)
	assert.Len(t, engineErrors["SERPER"], 1)
}

func TestGetSession_UnknownAndMalformedIDs(t *testing.T) {
	fx := newServerFixture(t)

	status, _ := fx.do(t, http.MethodGet, "/api/discovery/sessions/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = fx.do(t, http.MethodGet, "/api/discovery/sessions/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCancelSession_Lifecycle(t *testing.T) {
	fx := newServerFixture(t)

	sess := fx.seedSession(t, storage.SessionStatusRunning, time.Now().UTC())

	status, _ := fx.do(t, http.MethodDelete, "/api/discovery/sessions/"+sess.ID.String(), nil)
	require.Equal(t, http.StatusNoContent, status)

	stored, err := fx.sessions.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.SessionStatusCancelled, stored.Status)

	status, body := fx.do(t, http.MethodDelete, "/api/discovery/sessions/"+sess.ID.String(), nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, body["error"], "already settled")

	status, _ = fx.do(t, http.MethodDelete, "/api/discovery/sessions/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHealthz_ReportsLanguageModel(t *testing.T) {
	fx := newServerFixture(t)

	status, body := fx.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["languageModel"])

	fx.lm.setHealthErr(errors.New("connection refused"))
	status, body = fx.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, status, "an unreachable model degrades generation, it does not fail health")
	assert.Equal(t, "unreachable", body["languageModel"])
}

func TestMetricsEndpoint(t *testing.T) {
	fx := newServerFixture(t)

	// Prime the request counter before scraping.
	status, _ := fx.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, status)

	resp, err := fx.ts.Client().Get(fx.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "needle_http_requests_total")
}
