package context

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTraceContext_FillsEveryID(t *testing.T) {
	tc := NewTraceContext()

	assert.NotEmpty(t, tc.TraceID)
	assert.NotEmpty(t, tc.SpanID)
	assert.NotEmpty(t, tc.RequestID)

	ctx := WithTrace(context.Background(), tc)
	require.Same(t, tc, GetTrace(ctx))
	assert.Equal(t, tc.RequestID, GetRequestID(ctx))
}
