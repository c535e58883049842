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
// Package judge scores search results on metadata alone: URL, title,
// and snippet. No page is ever fetched here.
//
// A committee of weighted judges votes; the weighted average, rounded
// half-up at scale 2, is the confidence. Results at or above the
// configured threshold become crawl candidates. Judging is
// deterministic on (result, configuration).
package judge

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	searchtypes "github.com/teradata-labs/needle/pkg/search/types"
)

// UnknownOrganization is the fallback when a title has no separator to
// split an organization name out of.
const UnknownOrganization = "Unknown Organization"

// Score is one judge's verdict on a result.
type Score struct {
	Judge   string
	Score   decimal.Decimal // 0.00..1.00, scale 2
	Weight  decimal.Decimal
	Comment string
}

// Judgment is the committee's aggregate verdict.
type Judgment struct {
	// Confidence is the weighted average of judge scores, scale 2.
	Confidence decimal.Decimal

	// ShouldCrawl is true when Confidence meets the threshold.
	ShouldCrawl bool

	// Scores are the individual judge verdicts, in committee order.
	Scores []Score

	// Organization and Program are heuristic extractions from the
	// result title.
	Organization string
	Program      string

	// Reasoning concatenates the judges' explanations.
	Reasoning string
}

// Config holds the committee configuration. Judges, weights, keyword
// lists, and the threshold are configuration, not code.
type Config struct {
	// Threshold is the minimum confidence for ShouldCrawl. Default: 0.60.
	Threshold float64

	// MatchWholeWords switches keyword matching from substring to
	// whole-word. Default: substring.
	MatchWholeWords bool

	FundingKeywords   []string
	FundingSaturation int     // default 3
	FundingWeight     float64 // default 2.0

	ScamPatterns      []string
	CredibleTLDs      []string // default .gov, .edu, .org, .eu
	CredibilityWeight float64  // default 1.5

	GeographicKeywords   []string
	GeographicSaturation int     // default 2
	GeographicWeight     float64 // default 1.0

	OrgTypeKeywords   []string
	OrgTypeSaturation int     // default 2
	OrgTypeWeight     float64 // default 0.8
}

// DefaultConfig returns the built-in weights and keyword lists for a
// Bulgaria-focused funding deployment.
func DefaultConfig() Config {
	return Config{
		Threshold: 0.60,
		FundingKeywords: []string{
			"grant", "grants", "scholarship", "scholarships",
			"fellowship", "fellowships", "funding", "financial aid",
			"bursary", "stipend", "award", "subsidy",
		},
		FundingSaturation: 3,
		FundingWeight:     2.0,
		ScamPatterns: []string{
			"free-money", "get-rich", "lottery", "casino", "claim-your",
		},
		CredibleTLDs:      []string{".gov", ".edu", ".org", ".eu"},
		CredibilityWeight: 1.5,
		GeographicKeywords: []string{
			"bulgaria", "bulgarian", "sofia", "plovdiv", "varna",
			"balkan", "eastern europe", "europe", "european", "eu",
		},
		GeographicSaturation: 2,
		GeographicWeight:     1.0,
		OrgTypeKeywords: []string{
			"foundation", "ministry", "university", "institute",
			"agency", "ngo", "nonprofit", "charity", "trust",
			"fund", "fellowship", "program",
		},
		OrgTypeSaturation: 2,
		OrgTypeWeight:     0.8,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Threshold == 0 {
		c.Threshold = d.Threshold
	}
	if len(c.FundingKeywords) == 0 {
		c.FundingKeywords = d.FundingKeywords
	}
	if c.FundingSaturation == 0 {
		c.FundingSaturation = d.FundingSaturation
	}
	if c.FundingWeight == 0 {
		c.FundingWeight = d.FundingWeight
	}
	if len(c.ScamPatterns) == 0 {
		c.ScamPatterns = d.ScamPatterns
	}
	if len(c.CredibleTLDs) == 0 {
		c.CredibleTLDs = d.CredibleTLDs
	}
	if c.CredibilityWeight == 0 {
		c.CredibilityWeight = d.CredibilityWeight
	}
	if len(c.GeographicKeywords) == 0 {
		c.GeographicKeywords = d.GeographicKeywords
	}
	if c.GeographicSaturation == 0 {
		c.GeographicSaturation = d.GeographicSaturation
	}
	if c.GeographicWeight == 0 {
		c.GeographicWeight = d.GeographicWeight
	}
	if len(c.OrgTypeKeywords) == 0 {
		c.OrgTypeKeywords = d.OrgTypeKeywords
	}
	if c.OrgTypeSaturation == 0 {
		c.OrgTypeSaturation = d.OrgTypeSaturation
	}
	if c.OrgTypeWeight == 0 {
		c.OrgTypeWeight = d.OrgTypeWeight
	}
	return c
}

// Committee runs the four judges and aggregates their weighted votes.
type Committee struct {
	judges    []Judge
	threshold decimal.Decimal
}

// NewCommittee builds the standard four-judge committee from config.
func NewCommittee(cfg Config) *Committee {
	cfg = cfg.withDefaults()
	lower := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, s := range in {
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				out = append(out, s)
			}
		}
		return out
	}

	return &Committee{
		threshold: decimal.NewFromFloat(cfg.Threshold),
		judges: []Judge{
			&keywordJudge{
				name:       "FundingKeyword",
				weight:     decimal.NewFromFloat(cfg.FundingWeight),
				keywords:   lower(cfg.FundingKeywords),
				saturation: cfg.FundingSaturation,
				wholeWord:  cfg.MatchWholeWords,
			},
			&credibilityJudge{
				weight:       decimal.NewFromFloat(cfg.CredibilityWeight),
				scamPatterns: lower(cfg.ScamPatterns),
				credibleTLDs: lower(cfg.CredibleTLDs),
			},
			&keywordJudge{
				name:       "GeographicRelevance",
				weight:     decimal.NewFromFloat(cfg.GeographicWeight),
				keywords:   lower(cfg.GeographicKeywords),
				saturation: cfg.GeographicSaturation,
				wholeWord:  cfg.MatchWholeWords,
			},
			&keywordJudge{
				name:       "OrganizationType",
				weight:     decimal.NewFromFloat(cfg.OrgTypeWeight),
				keywords:   lower(cfg.OrgTypeKeywords),
				saturation: cfg.OrgTypeSaturation,
				wholeWord:  cfg.MatchWholeWords,
			},
		},
	}
}

// Judge runs every judge over the result and aggregates:
// confidence = round_half_up(sum(score*weight)/sum(weight), 2).
func (c *Committee) Judge(result searchtypes.Result) Judgment {
	scores := make([]Score, 0, len(c.judges))
	reasons := make([]string, 0, len(c.judges))
	weightedSum := decimal.Zero
	weightTotal := decimal.Zero

	for _, j := range c.judges {
		s := j.Score(result)
		scores = append(scores, s)
		reasons = append(reasons, fmt.Sprintf("%s: %s (%s x %s)",
			s.Judge, s.Comment, s.Score.StringFixed(2), s.Weight.String()))
		weightedSum = weightedSum.Add(s.Score.Mul(s.Weight))
		weightTotal = weightTotal.Add(s.Weight)
	}

	confidence := decimal.Zero
	if weightTotal.IsPositive() {
		confidence = weightedSum.Div(weightTotal).Round(2)
	}
	if confidence.GreaterThan(one) {
		confidence = one
	}

	org, program := ExtractOrgProgram(result.Title)

	return Judgment{
		Confidence:   confidence,
		ShouldCrawl:  confidence.GreaterThanOrEqual(c.threshold),
		Scores:       scores,
		Organization: org,
		Program:      program,
		Reasoning:    strings.Join(reasons, "; "),
	}
}

// Threshold returns the configured crawl threshold.
func (c *Committee) Threshold() decimal.Decimal {
	return c.threshold
}

// ExtractOrgProgram splits a result title into (organization, program)
// on '-', '–', or '|' separators: the last segment names the
// organization, the first names the program. Without a separator the
// organization is unknown and the full title stands in as the program.
func ExtractOrgProgram(title string) (organization, program string) {
	segments := strings.FieldsFunc(title, func(r rune) bool {
		return r == '-' || r == '–' || r == '|'
	})

	trimmed := segments[:0]
	for _, s := range segments {
		if s = strings.TrimSpace(s); s != "" {
			trimmed = append(trimmed, s)
		}
	}

	if len(trimmed) < 2 {
		return UnknownOrganization, strings.TrimSpace(title)
	}
	return trimmed[len(trimmed)-1], trimmed[0]
}
