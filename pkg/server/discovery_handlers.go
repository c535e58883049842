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
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/teradata-labs/needle/internal/log"
	"github.com/teradata-labs/needle/pkg/discovery"
	"github.com/teradata-labs/needle/pkg/query"
	searchtypes "github.com/teradata-labs/needle/pkg/search/types"
	"github.com/teradata-labs/needle/pkg/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// legacyEngines maps the engine names the old trigger endpoint
// accepted to the adapters that replaced them.
var legacyEngines = map[string]searchtypes.Engine{
	"searxng":    searchtypes.EngineSearXNG,
	"tavily":     searchtypes.EngineSerper,
	"perplexity": searchtypes.EnginePerplexica,
}

type tagPayload struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type triggerRequest struct {
	Engines         []string     `json:"engines"`
	Categories      []string     `json:"categories"`
	GeographicScope string       `json:"geographicScope"`
	Tags            []tagPayload `json:"tags"`
	QueryCount      int          `json:"queryCount"`

	// MaxResults distinguishes absent (service default) from an
	// explicit out-of-range zero.
	MaxResults *int `json:"maxResults"`
}

type triggerResponse struct {
	SessionID    string `json:"sessionId"`
	QueriesCount int    `json:"queriesCount"`
}

type sessionPayload struct {
	ID                 string              `json:"id"`
	Type               string              `json:"type"`
	Status             string              `json:"status"`
	ExecutedAt         time.Time           `json:"executedAt"`
	StartedAt          time.Time           `json:"startedAt"`
	CompletedAt        *time.Time          `json:"completedAt,omitempty"`
	DurationMinutes    *int                `json:"durationMinutes,omitempty"`
	CandidatesFound    int                 `json:"candidatesFound"`
	DuplicatesDetected int                 `json:"duplicatesDetected"`
	AverageConfidence  *decimal.Decimal    `json:"averageConfidence,omitempty"`
	EnginesUsed        []string            `json:"enginesUsed"`
	Queries            []string            `json:"queries"`
	ResultCounts       map[string]int      `json:"resultCounts,omitempty"`
	EngineErrors       map[string][]string `json:"engineErrors,omitempty"`
	PromptID           string              `json:"promptId,omitempty"`
	ModelID            string              `json:"modelId,omitempty"`
}

type sessionListResponse struct {
	Sessions []sessionPayload `json:"sessions"`
	Page     int              `json:"page"`
	Size     int              `json:"size"`
	Total    int              `json:"total"`
}

// handleExecute starts a discovery session and answers 202 before the
// run produces anything. Failures after this point surface on the
// session row, not on this response.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	engines, err := parseEngines(req.Engines)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.trigger(w, r, req, engines)
}

// handleLegacyTrigger is the pre-rework trigger endpoint. Engine names
// are restricted to the legacy whitelist and mapped onto the current
// adapters; an empty selection means all of them.
func (s *Server) handleLegacyTrigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var engines []searchtypes.Engine
	if len(req.Engines) == 0 {
		for _, name := range []string{"searxng", "tavily", "perplexity"} {
			engines = append(engines, legacyEngines[name])
		}
	} else {
		for _, name := range req.Engines {
			engine, ok := legacyEngines[strings.ToLower(strings.TrimSpace(name))]
			if !ok {
				respondError(w, http.StatusBadRequest,
					fmt.Sprintf("engine %q is not available on this endpoint", name))
				return
			}
			engines = append(engines, engine)
		}
	}
	s.trigger(w, r, req, engines)
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request, req triggerRequest, engines []searchtypes.Engine) {
	tags, err := parseTags(req.Tags)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.QueryCount < 0 {
		respondError(w, http.StatusBadRequest, "queryCount must not be negative")
		return
	}
	maxResults := 0
	if req.MaxResults != nil {
		if *req.MaxResults < 1 || *req.MaxResults > 50 {
			respondError(w, http.StatusBadRequest, "maxResults must be between 1 and 50")
			return
		}
		maxResults = *req.MaxResults
	}

	sess, queriesCount, err := s.discovery.Trigger(r.Context(), discovery.TriggerParams{
		Type:       storage.SessionTypeManual,
		Engines:    engines,
		Categories: req.Categories,
		Geography:  req.GeographicScope,
		Tags:       tags,
		QueryCount: req.QueryCount,
		MaxResults: maxResults,
	})
	if err != nil {
		if errors.Is(err, discovery.ErrInvalidInput) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error("failed to start discovery", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to start discovery")
		return
	}

	respondJSON(w, http.StatusAccepted, triggerResponse{
		SessionID:    sess.ID.String(),
		QueriesCount: queriesCount,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	page, err := intQueryParam(r, "page", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "page must be an integer")
		return
	}
	size, err := intQueryParam(r, "size", defaultPageSize)
	if err != nil {
		respondError(w, http.StatusBadRequest, "size must be an integer")
		return
	}
	if page < 0 {
		respondError(w, http.StatusBadRequest, "page must not be negative")
		return
	}
	if size < 1 || size > maxPageSize {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("size must be between 1 and %d", maxPageSize))
		return
	}

	sessions, total, err := s.sessions.List(r.Context(), page, size)
	if err != nil {
		log.Error("failed to list sessions", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	payload := sessionListResponse{
		Sessions: make([]sessionPayload, 0, len(sessions)),
		Page:     page,
		Size:     size,
		Total:    total,
	}
	for _, sess := range sessions {
		payload.Sessions = append(payload.Sessions, newSessionPayload(sess))
	}
	respondJSON(w, http.StatusOK, payload)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "session not found")
			return
		}
		log.Error("failed to load session", zap.Error(err), zap.String("session_id", id.String()))
		respondError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	respondJSON(w, http.StatusOK, newSessionPayload(sess))
}

func (s *Server) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	if err := s.discovery.Cancel(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			respondError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, storage.ErrConflict):
			respondError(w, http.StatusConflict, "session already settled")
		default:
			log.Error("failed to cancel session", zap.Error(err), zap.String("session_id", id.String()))
			respondError(w, http.StatusInternalServerError, "failed to cancel session")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseEngines(names []string) ([]searchtypes.Engine, error) {
	engines := make([]searchtypes.Engine, 0, len(names))
	for _, name := range names {
		engine, err := searchtypes.ParseEngine(name)
		if err != nil {
			return nil, err
		}
		engines = append(engines, engine)
	}
	return engines, nil
}

func parseTags(payloads []tagPayload) ([]query.Tag, error) {
	tags := make([]query.Tag, 0, len(payloads))
	for _, p := range payloads {
		var kind query.TagKind
		switch strings.ToUpper(strings.TrimSpace(p.Type)) {
		case string(query.TagRecipient):
			kind = query.TagRecipient
		case string(query.TagMechanism):
			kind = query.TagMechanism
		case string(query.TagBeneficiary):
			kind = query.TagBeneficiary
		default:
			return nil, fmt.Errorf("unknown tag type: %q", p.Type)
		}
		if strings.TrimSpace(p.Value) == "" {
			return nil, fmt.Errorf("tag %s has an empty value", kind)
		}
		tags = append(tags, query.Tag{Kind: kind, Value: p.Value})
	}
	return tags, nil
}

func intQueryParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func newSessionPayload(sess *storage.DiscoverySession) sessionPayload {
	engines := make([]string, 0, len(sess.EnginesUsed))
	for _, engine := range sess.EnginesUsed {
		engines = append(engines, engine.String())
	}

	var counts map[string]int
	if len(sess.ResultCounts) > 0 {
		counts = make(map[string]int, len(sess.ResultCounts))
		for engine, n := range sess.ResultCounts {
			counts[engine.String()] = n
		}
	}
	var engineErrors map[string][]string
	if len(sess.EngineErrors) > 0 {
		engineErrors = make(map[string][]string, len(sess.EngineErrors))
		for engine, messages := range sess.EngineErrors {
			engineErrors[engine.String()] = messages
		}
	}

	return sessionPayload{
		ID:                 sess.ID.String(),
		Type:               string(sess.Type),
		Status:             string(sess.Status),
		ExecutedAt:         sess.ExecutedAt,
		StartedAt:          sess.StartedAt,
		CompletedAt:        sess.CompletedAt,
		DurationMinutes:    sess.DurationMinutes,
		CandidatesFound:    sess.CandidatesFound,
		DuplicatesDetected: sess.DuplicatesDetected,
		AverageConfidence:  sess.AverageConfidence,
		EnginesUsed:        engines,
		Queries:            sess.Queries,
		ResultCounts:       counts,
		EngineErrors:       engineErrors,
		PromptID:           sess.PromptID,
		ModelID:            sess.ModelID,
	}
}
