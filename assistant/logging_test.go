package assistant

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
)

func TestLoggerCtx(t *testing.T) {
	logger := slog.Default()
	ctx := context.Background()

	foundLogger, ok := ContextLogger(ctx)
	assert.Nil(t, foundLogger)
	assert.False(t, ok)

	logCtx := WithLogger(ctx, logger)
	foundLogger, ok = ContextLogger(logCtx)
	assert.True(t, ok)
	assert.NotNil(t, foundLogger)
	assert.Equal(t, logger, foundLogger)

	// nil falls back to the default logger
	foundLogger, ok = ContextLogger(WithLogger(ctx, nil))
	assert.True(t, ok)
	assert.Equal(t, slog.Default(), foundLogger)
}

func TestDiscordgoLoggerFunc(t *testing.T) {
	buf := &bytes.Buffer{}
	level := &slog.LevelVar{}
	level.Set(slog.LevelWarn)
	logFunc := discordgoLoggerFunc(context.Background(), newLogHandler(buf, level))

	logFunc(discordgo.LogInformational, 0, "heartbeat %d", 1)
	assert.Empty(t, buf.String())

	logFunc(discordgo.LogError, 0, "websocket\nclosed: %s", "1006")
	assert.Contains(t, buf.String(), "websocketclosed: 1006")
}

func TestComponentLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := newComponentLogger(buf, slog.LevelInfo, "router")
	logger.Info("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.Contains(t, buf.String(), "router")
}

func TestHandleRecover(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithLogger(context.Background(), slog.New(newLogHandler(buf, slog.LevelDebug)))

	for _, rc := range []any{errors.New("an error"), "a string", 42} {
		buf.Reset()
		func() {
			defer func() {
				if r := recover(); r != nil {
					handleRecover(ctx, r)
				}
			}()
			panic(rc)
		}()
		assert.Contains(t, buf.String(), "recovered from panic")
	}
}
