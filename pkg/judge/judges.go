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
package judge

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	searchtypes "github.com/teradata-labs/needle/pkg/search/types"
)

// Judge scores one result on a single dimension. Implementations are
// pure functions of (result, configuration).
type Judge interface {
	Name() string
	Score(result searchtypes.Result) Score
}

// keywordJudge counts keyword matches in title+snippet and saturates:
// score = min(1.00, matches/saturation).
type keywordJudge struct {
	name       string
	weight     decimal.Decimal
	keywords   []string
	saturation int
	wholeWord  bool
}

func (j *keywordJudge) Name() string {
	return j.name
}

func (j *keywordJudge) Score(result searchtypes.Result) Score {
	text := strings.ToLower(result.Title + " " + result.Snippet)
	matches := countMatches(text, j.keywords, j.wholeWord)

	score := one
	if matches < j.saturation {
		score = decimal.NewFromInt(int64(matches)).
			Div(decimal.NewFromInt(int64(j.saturation))).Round(2)
	}
	return Score{
		Judge:   j.name,
		Score:   score,
		Weight:  j.weight,
		Comment: fmt.Sprintf("%d keyword matches", matches),
	}
}

// credibilityJudge scores the URL itself: scam patterns floor the score
// at 0.00, a credible registered TLD lifts it to 0.80, anything else
// lands on the neutral 0.50.
type credibilityJudge struct {
	weight       decimal.Decimal
	scamPatterns []string
	credibleTLDs []string
}

func (j *credibilityJudge) Name() string {
	return "DomainCredibility"
}

func (j *credibilityJudge) Score(result searchtypes.Result) Score {
	rawURL := strings.ToLower(result.URL)
	for _, pattern := range j.scamPatterns {
		if strings.Contains(rawURL, pattern) {
			return Score{
				Judge:   j.Name(),
				Score:   decimal.Zero,
				Weight:  j.weight,
				Comment: fmt.Sprintf("scam pattern %q", pattern),
			}
		}
	}

	tld := registeredTLD(rawURL)
	for _, credible := range j.credibleTLDs {
		if tld == credible {
			return Score{
				Judge:   j.Name(),
				Score:   credibleScore,
				Weight:  j.weight,
				Comment: fmt.Sprintf("credible TLD %s", tld),
			}
		}
	}
	return Score{
		Judge:   j.Name(),
		Score:   neutralScore,
		Weight:  j.weight,
		Comment: "neutral domain",
	}
}

var (
	one           = decimal.NewFromInt(1)
	credibleScore = decimal.NewFromFloat(0.8)
	neutralScore  = decimal.NewFromFloat(0.5)
)

// registeredTLD returns the final dot-separated label of the URL host,
// dot included ("https://osf.org/x" -> ".org"). Empty when the host has
// no dot or the URL does not parse.
func registeredTLD(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	idx := strings.LastIndex(host, ".")
	if idx < 0 {
		return ""
	}
	return host[idx:]
}

func countMatches(text string, keywords []string, wholeWord bool) int {
	matches := 0
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if wholeWord {
			if containsWholeWord(text, kw) {
				matches++
			}
		} else if strings.Contains(text, kw) {
			matches++
		}
	}
	return matches
}

// containsWholeWord reports whether word occurs in text with
// non-letter, non-digit runes (or string edges) on both sides.
func containsWholeWord(text, word string) bool {
	for start := 0; start <= len(text)-len(word); {
		idx := strings.Index(text[start:], word)
		if idx < 0 {
			return false
		}
		idx += start
		before, _ := utf8.DecodeLastRuneInString(text[:idx])
		after, _ := utf8.DecodeRuneInString(text[idx+len(word):])
		if !isWordRune(before) && !isWordRune(after) {
			return true
		}
		start = idx + 1
	}
	return false
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
