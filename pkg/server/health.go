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
	"context"
	"net/http"
	"time"
)

// handleHealth reports process health. The language-model field is
// informative only: an unreachable model degrades query generation to
// the static fallback, it does not make the service unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	lm := "disabled"
	if s.lm != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.lm.Health(ctx); err != nil {
			lm = "unreachable"
		} else {
			lm = "ok"
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"languageModel":  lm,
		"activeSessions": s.discovery.ActiveRuns(),
		"time":           time.Now().UTC().Format(time.RFC3339),
	})
}
