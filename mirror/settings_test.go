package mirror

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestProducerSettingsDefaults(t *testing.T) {
	settings := ProducerSettingsFromEnv()
	assert.Equal(t, settings.Coalescer.QuietPeriod, 1000*time.Millisecond)
	assert.Equal(t, settings.Builder.CompressThreshold, kib(50))
	assert.Equal(t, settings.Channel.QueueCapacity, 100)
	assert.Equal(t, settings.Channel.ReconnectBaseDelay, 1000*time.Millisecond)
	assert.Equal(t, settings.Channel.ReconnectMaxDelay, 5000*time.Millisecond)
	assert.Equal(t, settings.Channel.MaxReconnectAttempts, 10)
}

func TestProducerSettingsEnvOverride(t *testing.T) {
	t.Setenv("MIRROR_QUIET_PERIOD_MS", "250")
	t.Setenv("MIRROR_COMPRESS_THRESHOLD", "1024")
	t.Setenv("MIRROR_QUEUE_CAPACITY", "7")
	t.Setenv("MIRROR_RECONNECT_MAX_ATTEMPTS", "2")

	settings := ProducerSettingsFromEnv()
	assert.Equal(t, settings.Coalescer.QuietPeriod, 250*time.Millisecond)
	assert.Equal(t, settings.Builder.CompressThreshold, ByteCount(1024))
	assert.Equal(t, settings.Channel.QueueCapacity, 7)
	assert.Equal(t, settings.Channel.MaxReconnectAttempts, 2)
}

func TestProducerSettingsBadEnvIgnored(t *testing.T) {
	t.Setenv("MIRROR_QUIET_PERIOD_MS", "soon")
	settings := ProducerSettingsFromEnv()
	assert.Equal(t, settings.Coalescer.QuietPeriod, 1000*time.Millisecond)
}
