package ctxlog

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromContext_DefaultsWhenMissing(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestWith_AppendsAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := WithLogger(context.Background(), logger)
	ctx = With(ctx, slog.String("tenant_id", "t1"))
	FromContext(ctx).Info("hello")

	assert.Contains(t, buf.String(), `"tenant_id":"t1"`)
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}
