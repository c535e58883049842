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
package discovery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// sessionsSettled counts settled discovery sessions.
	// Labels: type (SCHEDULED, MANUAL, RETRY), status (COMPLETED, FAILED, CANCELLED)
	sessionsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "needle",
		Subsystem: "discovery",
		Name:      "sessions_total",
		Help:      "Settled discovery sessions by type and final status",
	}, []string{"type", "status"})

	// resultOutcomes counts per-result pipeline outcomes.
	// Labels: outcome (candidate, low_confidence, skipped_domain, duplicate, failed)
	resultOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "needle",
		Subsystem: "discovery",
		Name:      "results_processed_total",
		Help:      "Search results run through the metadata judge, by outcome",
	}, []string{"outcome"})

	// candidateConfidence tracks the confidence of persisted candidates.
	// Candidates only exist at or above the crawl threshold, hence the
	// bucket floor.
	candidateConfidence = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "needle",
		Subsystem: "discovery",
		Name:      "candidate_confidence",
		Help:      "Confidence scores of persisted crawl candidates",
		Buckets:   prometheus.LinearBuckets(0.60, 0.05, 9),
	})

	// batchSeconds measures wall-clock time per processed batch.
	batchSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "needle",
		Subsystem: "discovery",
		Name:      "batch_seconds",
		Help:      "Wall-clock duration of one processed result batch",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
)
