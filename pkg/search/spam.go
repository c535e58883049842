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
package search

import (
	"net/url"
	"strings"

	"github.com/agnivade/levenshtein"

	searchtypes "github.com/teradata-labs/needle/pkg/search/types"
)

// RejectReason says why the spam filter dropped a result.
type RejectReason string

const (
	RejectHostBlacklisted RejectReason = "HOST_BLACKLISTED"
	RejectSpamMarker      RejectReason = "SPAM_MARKER"
	RejectEmptyMetadata   RejectReason = "EMPTY_METADATA"
	RejectSpamExemplar    RejectReason = "SPAM_EXEMPLAR"
)

// Verdict is the spam filter's decision for one result.
type Verdict struct {
	Accepted bool
	Reason   RejectReason // empty when accepted
}

// FilterConfig configures the anti-spam filter. All matching is
// case-insensitive.
type FilterConfig struct {
	// HostBlacklist rejects results whose URL host contains any of
	// these patterns (ad networks, click trackers, redirectors).
	HostBlacklist []string

	// SpamMarkers rejects results whose URL path or title contains any
	// of these substrings.
	SpamMarkers []string

	// Exemplars are known-spam titles; a result whose title or snippet
	// is nearly identical to an exemplar is rejected.
	Exemplars []string

	// SimilarityThreshold is the Levenshtein similarity at or above
	// which an exemplar match rejects. Default: 0.92.
	SimilarityThreshold float64
}

// DefaultFilterConfig returns the built-in pattern lists. Deployments
// extend these from configuration.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		HostBlacklist: []string{
			"doubleclick.net",
			"googleadservices.com",
			"googlesyndication.com",
			"adclick",
			"click.promo",
			"redirect.",
		},
		SpamMarkers: []string{
			"casino",
			"viagra",
			"xxx",
			"click now",
			"make money fast",
			"/ad?",
			"/ads/",
		},
		Exemplars:           nil,
		SimilarityThreshold: 0.92,
	}
}

// Filter drops obvious spam before results reach the judge. Check is
// deterministic and side-effect free, so one filter instance is shared
// by all orchestrator batches.
type Filter struct {
	hostBlacklist []string
	spamMarkers   []string
	exemplars     []string
	threshold     float64
}

// NewFilter builds a filter, lowercasing all configured patterns once.
func NewFilter(cfg FilterConfig) *Filter {
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = 0.92
	}
	return &Filter{
		hostBlacklist: lowerAll(cfg.HostBlacklist),
		spamMarkers:   lowerAll(cfg.SpamMarkers),
		exemplars:     lowerAll(cfg.Exemplars),
		threshold:     cfg.SimilarityThreshold,
	}
}

// Check classifies one result. Checks run cheapest first; the first
// matching rule wins.
func (f *Filter) Check(result searchtypes.Result) Verdict {
	title := strings.ToLower(strings.TrimSpace(result.Title))
	snippet := strings.ToLower(strings.TrimSpace(result.Snippet))

	if title == "" && snippet == "" {
		return Verdict{Reason: RejectEmptyMetadata}
	}

	host, path := splitURL(result.URL)
	for _, pattern := range f.hostBlacklist {
		if strings.Contains(host, pattern) {
			return Verdict{Reason: RejectHostBlacklisted}
		}
	}

	for _, marker := range f.spamMarkers {
		if strings.Contains(path, marker) || strings.Contains(title, marker) {
			return Verdict{Reason: RejectSpamMarker}
		}
	}

	for _, exemplar := range f.exemplars {
		if similarity(title, exemplar) >= f.threshold || similarity(snippet, exemplar) >= f.threshold {
			return Verdict{Reason: RejectSpamExemplar}
		}
	}

	return Verdict{Accepted: true}
}

// splitURL returns the lowercased host and path-with-query of a raw
// URL. An unparseable URL yields empty strings; such results fall
// through to the later checks and are rejected downstream when the
// domain cannot be extracted.
func splitURL(rawURL string) (host, path string) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", ""
	}
	host = strings.ToLower(u.Hostname())
	path = strings.ToLower(u.Path)
	if u.RawQuery != "" {
		path += "?" + strings.ToLower(u.RawQuery)
	}
	return host, path
}

// similarity is the normalized Levenshtein similarity of two strings:
// 1 - distance/maxLen, in [0,1]. Empty inputs never match.
func similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
