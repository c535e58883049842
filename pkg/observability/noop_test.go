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
package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoOpTracer_SpanParenting(t *testing.T) {
	tracer := NewNoOpTracer()

	ctx, parent := tracer.StartSpan(context.Background(), "discovery.run")
	require.NotNil(t, parent)
	assert.NotEmpty(t, parent.TraceID)
	assert.Empty(t, parent.ParentID)

	_, child := tracer.StartSpan(ctx, "registry.register")
	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.SpanID, child.ParentID)

	tracer.EndSpan(child)
	assert.False(t, child.EndTime.IsZero())
	assert.GreaterOrEqual(t, child.Duration, time.Duration(0))
}

func TestNoOpTracer_SpanOptions(t *testing.T) {
	tracer := NewNoOpTracer()

	_, span := tracer.StartSpan(context.Background(), "search.execute",
		WithAttribute("search.engine", "BRAVE"),
		WithSpanKind("search"),
	)

	assert.Equal(t, "BRAVE", span.Attributes["search.engine"])
	assert.Equal(t, "search", span.Attributes["span.kind"])
}

func TestSpan_RecordError(t *testing.T) {
	span := &Span{Name: "adapter.search"}

	span.RecordError(nil)
	assert.Equal(t, StatusUnset, span.Status.Code)

	span.RecordError(errors.New("connection refused"))
	assert.Equal(t, StatusError, span.Status.Code)
	assert.Equal(t, "connection refused", span.Status.Message)
	assert.Equal(t, "connection refused", span.Attributes[AttrErrorMessage])
}

func TestSpanFromContext(t *testing.T) {
	assert.Nil(t, SpanFromContext(context.Background()))

	span := &Span{SpanID: "abc"}
	ctx := ContextWithSpan(context.Background(), span)
	assert.Same(t, span, SpanFromContext(ctx))
}
