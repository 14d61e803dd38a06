package tracing

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanTree(t *testing.T) {
	ctx, root := StartSpan(context.Background(), "rebuild", "")
	require.NotEmpty(t, root.TraceID)

	_, a := StartChildSpan(ctx, "create-tmp")
	a.End()
	_, b := StartChildSpan(ctx, "add-all-pages")
	b.SetAttr("indexed", 3)
	assert.Equal(t, "boom", b.EndErr(errors.New("boom")).Error())
	root.End()

	assert.Equal(t, []string{"create-tmp", "add-all-pages"}, root.Children())
	assert.Equal(t, root.TraceID, b.TraceID)
	assert.Same(t, root, SpanFromContext(ctx))

	var buf bytes.Buffer
	root.Log(slog.New(slog.NewTextHandler(&buf, nil)))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "span=rebuild")
	assert.Contains(t, lines[2], "indexed=3")
	assert.Contains(t, lines[2], "level=ERROR")
}

func TestChildWithoutParentStartsTrace(t *testing.T) {
	_, s := StartChildSpan(context.Background(), "orphan")
	assert.NotEmpty(t, s.TraceID)
}
