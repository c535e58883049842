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
package query

import (
	"bytes"
	"context"
	"regexp"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/needle/internal/log"
	"github.com/teradata-labs/needle/pkg/llm"
	searchtypes "github.com/teradata-labs/needle/pkg/search/types"
)

// Style distinguishes the two recognized query shapes.
type Style string

const (
	// StyleKeyword produces short keyword phrases for classical
	// search engines.
	StyleKeyword Style = "keyword"

	// StylePrompt produces full-sentence questions for AI-augmented
	// search engines.
	StylePrompt Style = "prompt"
)

// DefaultStyles maps each known engine to its query style. The mapping
// is configuration, not a switch; new engines default to keyword style.
func DefaultStyles() map[searchtypes.Engine]Style {
	return map[searchtypes.Engine]Style{
		searchtypes.EngineBrave:      StyleKeyword,
		searchtypes.EngineSerper:     StyleKeyword,
		searchtypes.EngineSearXNG:    StyleKeyword,
		searchtypes.EnginePerplexica: StylePrompt,
	}
}

// Strategy turns a validated Request into query strings. Generate never
// returns an error; when the model call fails the configured static
// list is substituted and fallback is true.
type Strategy interface {
	Style() Style
	Generate(ctx context.Context, req Request) (queries []string, fallback bool)
}

const generatorSystemPrompt = "You are a search query generator for a funding-source " +
	"discovery system. You respond with queries only, one per line, and nothing else."

const keywordTemplate = `Generate exactly {{.Count}} short keyword search queries for finding {{.Categories}} in {{.Geography}}.
{{- if .Focus}}
Prioritize programs for: {{.Focus}}.
{{- end}}

Rules:
- Keyword phrases only, under 10 words each
- No numbering, no quotes, no commentary
- One query per line`

const promptTemplate = `Generate exactly {{.Count}} full-sentence search questions for finding {{.Categories}} in {{.Geography}}.
{{- if .Focus}}
Prioritize programs for: {{.Focus}}.
{{- end}}

Rules:
- Each question is 15 to 40 words, names what qualifies, and excludes expired or irrelevant programs
- No numbering, no quotes, no commentary
- One question per line`

var defaultKeywordFallback = []string{
	"Bulgaria education grants",
	"Bulgarian scholarship programs",
	"EU funding Bulgarian nonprofit organizations",
	"research fellowship Bulgaria",
	"culture grants Bulgaria foundation",
}

var defaultPromptFallback = []string{
	"Which organizations currently offer grants or scholarships for students and researchers in Bulgaria, and when are their application deadlines?",
	"What European Union or international funding programs are currently open to Bulgarian nonprofit organizations and civil society groups?",
	"Which foundations fund cultural, scientific, or educational projects in Bulgaria, excluding programs whose calls have already closed?",
}

type promptData struct {
	Count      int
	Categories string
	Geography  string
	Focus      string
}

type llmStrategy struct {
	style    Style
	provider llm.CompletionProvider
	mappers  *Mappers
	tmpl     *template.Template
	fallback []string
	timeout  time.Duration
}

func newStrategy(style Style, provider llm.CompletionProvider, mappers *Mappers, fallback []string, timeout time.Duration) *llmStrategy {
	text := keywordTemplate
	if style == StylePrompt {
		text = promptTemplate
	}
	return &llmStrategy{
		style:    style,
		provider: provider,
		mappers:  mappers,
		tmpl:     template.Must(template.New(string(style)).Parse(text)),
		fallback: fallback,
		timeout:  timeout,
	}
}

func (s *llmStrategy) Style() Style {
	return s.style
}

func (s *llmStrategy) Generate(ctx context.Context, req Request) ([]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prompt, err := s.renderPrompt(req)
	if err != nil {
		log.Warn("prompt rendering failed, using fallback queries",
			zap.String("engine", string(req.Engine)),
			zap.String("style", string(s.style)),
			zap.Error(err))
		return s.fallbackFor(req), true
	}

	response, err := s.provider.ChatCompletion(ctx, []llm.Message{
		{Role: "system", Content: generatorSystemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		log.Warn("query generation failed, using fallback queries",
			zap.String("engine", string(req.Engine)),
			zap.String("style", string(s.style)),
			zap.Error(err))
		return s.fallbackFor(req), true
	}

	queries := parseQueryLines(response)
	if len(queries) == 0 {
		log.Warn("model returned no usable queries, using fallback",
			zap.String("engine", string(req.Engine)),
			zap.String("style", string(s.style)))
		return s.fallbackFor(req), true
	}
	if len(queries) > req.Count {
		queries = queries[:req.Count]
	}
	return queries, false
}

func (s *llmStrategy) renderPrompt(req Request) (string, error) {
	focus := make([]string, 0, len(req.Tags))
	for _, t := range req.Tags {
		if v := strings.TrimSpace(t.Value); v != "" {
			focus = append(focus, v)
		}
	}

	var buf bytes.Buffer
	err := s.tmpl.Execute(&buf, promptData{
		Count:      req.Count,
		Categories: s.mappers.DescribeCategories(req.Categories),
		Geography:  s.mappers.Geography(req.Geography),
		Focus:      strings.Join(focus, ", "),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s *llmStrategy) fallbackFor(req Request) []string {
	n := len(s.fallback)
	if n > req.Count {
		n = req.Count
	}
	return append([]string(nil), s.fallback[:n]...)
}

var (
	queryLinePrefix = regexp.MustCompile(`^(?:[-*•]|\d+[.):])\s*`)
	queryPreamble   = regexp.MustCompile(`(?i)^(here (are|is)\b|sure\b|of course\b|certainly\b)`)
)

// parseQueryLines extracts query strings from a model response: one
// query per line, with bullets, numeric prefixes, surrounding quotes,
// code fences, and conversational preambles stripped.
func parseQueryLines(response string) []string {
	var out []string
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		line = queryLinePrefix.ReplaceAllString(line, "")
		line = strings.Trim(line, "\"'“”‘’")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if queryPreamble.MatchString(line) || strings.HasSuffix(line, ":") {
			continue
		}
		out = append(out, line)
	}
	return out
}
