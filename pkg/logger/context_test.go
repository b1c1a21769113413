package logger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stywzn/vuln-sentinel/pkg/logger"
)

func TestWithContext_FromContext_RoundTrip(t *testing.T) {
	t.Parallel()

	l, err := logger.New(logger.Config{Level: "warn", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)

	ctx := logger.WithContext(context.Background(), l)
	assert.Same(t, l, logger.FromContext(ctx, logger.NewNop()))

	got, ok := logger.Lookup(ctx)
	require.True(t, ok)
	assert.Same(t, l, got)
}

func TestFromContext_UsesDefaultWhenAbsent(t *testing.T) {
	t.Parallel()

	def := logger.NewNop()
	assert.Same(t, def, logger.FromContext(context.Background(), def))

	_, ok := logger.Lookup(context.Background())
	assert.False(t, ok)
}

func TestNew_UnknownLevelDefaultsToInfo(t *testing.T) {
	t.Parallel()

	l, err := logger.New(logger.Config{Level: "chatty", OutputPaths: []string{"stderr"}})
	require.NoError(t, err)
	l.Debug("filtered")
	assert.NotNil(t, l.With(logger.Int("n", 1)))
}
