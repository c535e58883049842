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
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	searchtypes "github.com/teradata-labs/needle/pkg/search/types"
)

func validRequest() Request {
	return Request{
		Engine:     searchtypes.EngineSearXNG,
		Categories: []string{"EDUCATION", "RESEARCH"},
		Geography:  "BULGARIA",
		Count:      5,
		SessionID:  uuid.New(),
	}
}

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Request)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(r *Request) {},
		},
		{
			name:    "missing engine",
			mutate:  func(r *Request) { r.Engine = "" },
			wantErr: "engine",
		},
		{
			name:    "no categories",
			mutate:  func(r *Request) { r.Categories = nil },
			wantErr: "category",
		},
		{
			name:    "blank category",
			mutate:  func(r *Request) { r.Categories = []string{"  "} },
			wantErr: "non-empty",
		},
		{
			name:    "count too small",
			mutate:  func(r *Request) { r.Count = 0 },
			wantErr: "count",
		},
		{
			name:    "count too large",
			mutate:  func(r *Request) { r.Count = MaxCount + 1 },
			wantErr: "count",
		},
		{
			name:   "count at upper bound",
			mutate: func(r *Request) { r.Count = MaxCount },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			err := req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestRequest_CacheKey_IgnoresSessionAndTags(t *testing.T) {
	a := validRequest()
	b := validRequest()
	b.SessionID = uuid.New()
	b.Tags = []Tag{{Kind: TagRecipient, Value: "students"}}

	assert.Equal(t, a.CacheKey(), b.CacheKey())
}

func TestRequest_CacheKey_CategorySetSemantics(t *testing.T) {
	a := validRequest()
	a.Categories = []string{"EDUCATION", "RESEARCH"}

	b := validRequest()
	b.Categories = []string{"research", " education ", "EDUCATION"}

	assert.Equal(t, a.CacheKey(), b.CacheKey())
}

func TestRequest_CacheKey_DistinguishesIdentityFields(t *testing.T) {
	base := validRequest()

	engine := base
	engine.Engine = searchtypes.EngineBrave
	assert.NotEqual(t, base.CacheKey(), engine.CacheKey())

	categories := base
	categories.Categories = []string{"EDUCATION"}
	assert.NotEqual(t, base.CacheKey(), categories.CacheKey())

	geography := base
	geography.Geography = "EU"
	assert.NotEqual(t, base.CacheKey(), geography.CacheKey())

	count := base
	count.Count = 10
	assert.NotEqual(t, base.CacheKey(), count.CacheKey())
}

func TestTag_String(t *testing.T) {
	tag := Tag{Kind: TagRecipient, Value: "students"}
	assert.Equal(t, "RECIPIENT:students", tag.String())
}
