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
	"crypto/sha256"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	searchtypes "github.com/teradata-labs/needle/pkg/search/types"
)

// MaxCount bounds how many queries a single request may ask for.
const MaxCount = 50

// TagKind labels an optional personalization tag on a Request.
type TagKind string

const (
	TagRecipient   TagKind = "RECIPIENT"
	TagMechanism   TagKind = "MECHANISM"
	TagBeneficiary TagKind = "BENEFICIARY"
)

// Tag narrows generation toward a recipient, funding mechanism, or
// beneficiary group. Tags personalize the prompt but never change the
// cache identity of a request.
type Tag struct {
	Kind  TagKind
	Value string
}

func (t Tag) String() string {
	return string(t.Kind) + ":" + t.Value
}

// Request is the structured input to query generation. It is consumed
// once; callers build a fresh Request per generation call.
type Request struct {
	Engine     searchtypes.Engine
	Categories []string
	Geography  string
	Tags       []Tag
	Count      int
	SessionID  uuid.UUID
}

// Validate reports whether the request is well formed: a target engine,
// at least one category, and a count within [1, MaxCount].
func (r Request) Validate() error {
	if r.Engine == "" {
		return fmt.Errorf("target engine is required")
	}
	if len(r.Categories) == 0 {
		return fmt.Errorf("at least one category is required")
	}
	for _, c := range r.Categories {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("categories must be non-empty")
		}
	}
	if r.Count < 1 || r.Count > MaxCount {
		return fmt.Errorf("count must be in [1, %d], got %d", MaxCount, r.Count)
	}
	return nil
}

// CacheKey fingerprints the identity-bearing fields of the request:
// engine, the category set, geographic scope, and count. Session id and
// personalization tags do not participate, so equivalent requests from
// different sessions share a cache entry.
func (r Request) CacheKey() string {
	cats := make([]string, 0, len(r.Categories))
	seen := make(map[string]struct{}, len(r.Categories))
	for _, c := range r.Categories {
		c = strings.ToLower(strings.TrimSpace(c))
		if _, dup := seen[c]; dup || c == "" {
			continue
		}
		seen[c] = struct{}{}
		cats = append(cats, c)
	}
	sort.Strings(cats)

	var sb strings.Builder
	sb.WriteString(strings.ToLower(string(r.Engine)))
	sb.WriteByte('|')
	sb.WriteString(strings.Join(cats, ","))
	sb.WriteByte('|')
	sb.WriteString(strings.ToLower(strings.TrimSpace(r.Geography)))
	sb.WriteByte('|')
	sb.WriteString(strconv.Itoa(r.Count))

	sum := sha256.Sum256([]byte(sb.String()))
	return fmt.Sprintf("queries:%x", sum[:8])
}

// GeneratedQueries is the outcome of one generation call.
type GeneratedQueries struct {
	Queries     []string
	Engine      searchtypes.Engine
	GeneratedAt time.Time
	FromCache   bool
}

// QueryRecord captures one fresh generation for persistence. Cache hits
// are not recorded.
type QueryRecord struct {
	SessionID   uuid.UUID
	Engine      searchtypes.Engine
	Queries     []string
	Tags        []string
	CacheKey    string
	GeneratedAt time.Time
}

// QuerySink persists generation records. Implementations must tolerate
// concurrent calls; the facade records asynchronously.
type QuerySink interface {
	RecordQueries(ctx context.Context, rec QueryRecord) error
}
