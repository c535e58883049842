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
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/needle/pkg/llm"
	searchtypes "github.com/teradata-labs/needle/pkg/search/types"
)

// fakeProvider is an in-process CompletionProvider for strategy and
// facade tests.
type fakeProvider struct {
	mu           sync.Mutex
	response     string
	err          error
	delay        time.Duration
	calls        int
	lastMessages []llm.Message
}

func (p *fakeProvider) ChatCompletion(ctx context.Context, messages []llm.Message) (string, error) {
	p.mu.Lock()
	p.calls++
	p.lastMessages = messages
	delay, response, err := p.delay, p.response, p.err
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return response, nil
}

func (p *fakeProvider) Health(ctx context.Context) error { return nil }

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProvider) userPrompt() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.lastMessages {
		if m.Role == "user" {
			return m.Content
		}
	}
	return ""
}

func TestParseQueryLines(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "numbered list with preamble",
			in:   "Here are 3 search queries:\n1. \"Bulgaria education grants\"\n2) EU scholarship programs\n3: research funding Sofia",
			want: []string{"Bulgaria education grants", "EU scholarship programs", "research funding Sofia"},
		},
		{
			name: "bulleted list",
			in:   "- Bulgaria culture grants\n* NGO funding Bulgaria\n• research stipends Plovdiv",
			want: []string{"Bulgaria culture grants", "NGO funding Bulgaria", "research stipends Plovdiv"},
		},
		{
			name: "smart quotes and code fences",
			in:   "```\n“Bulgaria culture fund”\n```",
			want: []string{"Bulgaria culture fund"},
		},
		{
			name: "conversational filler skipped",
			in:   "Sure thing\nOf course\nBulgaria grants",
			want: []string{"Bulgaria grants"},
		},
		{
			name: "lines empty after stripping",
			in:   "\n   \n1.\n\"\"\n",
			want: nil,
		},
		{
			name: "plain lines pass through",
			in:   "education grants Bulgaria\nscholarships Sofia university",
			want: []string{"education grants Bulgaria", "scholarships Sofia university"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseQueryLines(tt.in)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStrategy_GenerateParsesAndCaps(t *testing.T) {
	provider := &fakeProvider{response: "q1\nq2\nq3\nq4\nq5"}
	s := newStrategy(StyleKeyword, provider, DefaultMappers(), defaultKeywordFallback, time.Second)

	req := validRequest()
	req.Count = 3

	queries, fellBack := s.Generate(context.Background(), req)
	assert.False(t, fellBack)
	assert.Equal(t, []string{"q1", "q2", "q3"}, queries)

	require.Len(t, provider.lastMessages, 2)
	assert.Equal(t, "system", provider.lastMessages[0].Role)
	assert.Equal(t, "user", provider.lastMessages[1].Role)

	prompt := provider.userPrompt()
	assert.Contains(t, prompt, "exactly 3")
	assert.Contains(t, prompt, "education grants and scholarships")
	assert.Contains(t, prompt, "research fellowships and science funding")
	assert.Contains(t, prompt, "in Bulgaria")
}

func TestStrategy_FocusFromTags(t *testing.T) {
	provider := &fakeProvider{response: "q1"}
	s := newStrategy(StyleKeyword, provider, DefaultMappers(), defaultKeywordFallback, time.Second)

	req := validRequest()
	req.Tags = []Tag{
		{Kind: TagRecipient, Value: "students"},
		{Kind: TagMechanism, Value: "  "},
	}

	_, _ = s.Generate(context.Background(), req)
	assert.Contains(t, provider.userPrompt(), "Prioritize programs for: students.")
	assert.NotContains(t, provider.userPrompt(), "MECHANISM")
}

func TestStrategy_StyleTemplates(t *testing.T) {
	provider := &fakeProvider{response: "q1"}

	keyword := newStrategy(StyleKeyword, provider, DefaultMappers(), defaultKeywordFallback, time.Second)
	_, _ = keyword.Generate(context.Background(), validRequest())
	assert.Contains(t, provider.userPrompt(), "under 10 words")

	prompt := newStrategy(StylePrompt, provider, DefaultMappers(), defaultPromptFallback, time.Second)
	_, _ = prompt.Generate(context.Background(), validRequest())
	assert.Contains(t, provider.userPrompt(), "15 to 40 words")
}

func TestStrategy_FallbackOnProviderError(t *testing.T) {
	provider := &fakeProvider{err: errors.New("connection refused")}
	s := newStrategy(StyleKeyword, provider, DefaultMappers(), []string{"f1", "f2", "f3"}, time.Second)

	req := validRequest()
	req.Count = 2

	queries, fellBack := s.Generate(context.Background(), req)
	assert.True(t, fellBack)
	assert.Equal(t, []string{"f1", "f2"}, queries)
	assert.Equal(t, 1, provider.callCount())
}

func TestStrategy_FallbackOnUnusableResponse(t *testing.T) {
	provider := &fakeProvider{response: "Here are the queries:"}
	s := newStrategy(StyleKeyword, provider, DefaultMappers(), []string{"f1"}, time.Second)

	queries, fellBack := s.Generate(context.Background(), validRequest())
	assert.True(t, fellBack)
	assert.Equal(t, []string{"f1"}, queries)
}

func TestStrategy_TimeoutFallsBack(t *testing.T) {
	provider := &fakeProvider{response: "q1", delay: 500 * time.Millisecond}
	s := newStrategy(StyleKeyword, provider, DefaultMappers(), []string{"f1"}, 30*time.Millisecond)

	start := time.Now()
	queries, fellBack := s.Generate(context.Background(), validRequest())

	assert.True(t, fellBack)
	assert.Equal(t, []string{"f1"}, queries)
	assert.Less(t, time.Since(start), 300*time.Millisecond)
}

func TestDefaultStyles(t *testing.T) {
	styles := DefaultStyles()
	assert.Equal(t, StyleKeyword, styles[searchtypes.EngineBrave])
	assert.Equal(t, StyleKeyword, styles[searchtypes.EngineSerper])
	assert.Equal(t, StyleKeyword, styles[searchtypes.EngineSearXNG])
	assert.Equal(t, StylePrompt, styles[searchtypes.EnginePerplexica])
}
