package tracing

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChildSpansInheritTrace(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "index.update", "doc-7")
	_, child := StartChildSpan(ctx, "index.fetch")
	child.SetAttr("source", "http://a")
	child.End()
	root.End()

	assert.Equal(t, "doc-7", child.TraceID)
	assert.Equal(t, []*Span{child}, root.Children())
	assert.Same(t, root, SpanFromContext(ctx))
	assert.True(t, root.Duration > 0)
}

func TestChildWithoutParentIsRoot(t *testing.T) {
	_, s := StartChildSpan(context.Background(), "orphan")
	assert.Empty(t, s.TraceID)
	assert.Nil(t, SpanFromContext(context.Background()))
}

func TestEndIsIdempotent(t *testing.T) {
	_, s := StartSpan(context.Background(), "x", "t")
	s.End()
	d := s.Duration
	s.End()
	assert.Equal(t, d, s.Duration)
}

func TestLogOnlyAtDebug(t *testing.T) {
	var buf bytes.Buffer
	ctx, root := StartSpan(context.Background(), "index.update", "t1")
	_, child := StartChildSpan(ctx, "index.write")
	child.Fail(errors.New("redis down"))
	child.End()
	root.End()

	root.Log(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	assert.Empty(t, buf.String())

	root.Log(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	out := buf.String()
	assert.Contains(t, out, "span=index.update")
	assert.Contains(t, out, "span=index.write")
	assert.Contains(t, out, "parent=index.update")
	assert.Contains(t, out, `error="redis down"`)
}
