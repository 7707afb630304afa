package app

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lookingforticket/ticketwatch/internal/config"
)

func TestNewLoggerLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&config.Config{LogLevel: "WARN", LogFormat: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "subscription_id", 7)
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"subscription_id":7`)

	buf.Reset()
	logger = NewLogger(&config.Config{LogLevel: "INFO", Debug: true}, &buf)
	logger.Debug("debug line")
	assert.Contains(t, buf.String(), "msg=\"debug line\"")
}

func TestOpenStoreBolt(t *testing.T) {
	cfg := &config.Config{StoreDriver: config.StoreDriverBolt, BoltPath: filepath.Join(t.TempDir(), "app.db")}

	st, closeFn, err := OpenStore(context.Background(), cfg, slog.Default())
	require.NoError(t, err)
	defer closeFn()
	assert.NoError(t, st.Ping(context.Background()))
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	_, _, err := OpenStore(context.Background(), &config.Config{StoreDriver: "sqlite"}, slog.Default())
	assert.Error(t, err)
}

func TestSchedulerConfig(t *testing.T) {
	cfg := &config.Config{
		CheckInterval:        time.Minute,
		DelayBetweenRequests: 2 * time.Second,
		SubscriptionTimeout:  30 * time.Second,
		PromptEvery:          2,
		Timezone:             "Asia/Tashkent",
	}
	got := SchedulerConfig(cfg)
	assert.Equal(t, time.Minute, got.Interval)
	assert.Equal(t, 2*time.Second, got.Delay)
	assert.Equal(t, 30*time.Second, got.Timeout)
	assert.Equal(t, 2, got.PromptEvery)
	assert.Equal(t, "Asia/Tashkent", got.Location.String())
}
