package logger

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(" INFO "))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(""))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("loud"))
}

func TestConsoleLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger("cli", &buf, "warn")

	l.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	l.With("store").Warn().Str("safe_id", "abc").Msg("visible")
	assert.Contains(t, buf.String(), "visible")
	assert.Contains(t, buf.String(), "component=store")
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger("relay", &buf, "debug")

	ctx := l.WithContext(context.Background())
	FromContext(ctx).Debug().Msg("from context")
	assert.Contains(t, buf.String(), "from context")

	// No logger in context yields a disabled logger, not a panic.
	FromContext(context.Background()).Error().Msg("dropped")
}
