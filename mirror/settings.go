package mirror

import (
	"os"
	"strconv"
	"time"
)

// ProducerSettingsFromEnv applies MIRROR_* environment overrides to the
// default producer settings. Every knob is a fixed constant unless
// explicitly overridden.
func ProducerSettingsFromEnv() *ProducerSettings {
	settings := DefaultProducerSettings()
	settings.Coalescer.QuietPeriod = envMillis("MIRROR_QUIET_PERIOD_MS", settings.Coalescer.QuietPeriod)
	settings.Builder.CompressThreshold = envByteCount("MIRROR_COMPRESS_THRESHOLD", settings.Builder.CompressThreshold)
	settings.Channel.QueueCapacity = envInt("MIRROR_QUEUE_CAPACITY", settings.Channel.QueueCapacity)
	settings.Channel.ReconnectBaseDelay = envMillis("MIRROR_RECONNECT_BASE_MS", settings.Channel.ReconnectBaseDelay)
	settings.Channel.ReconnectMaxDelay = envMillis("MIRROR_RECONNECT_MAX_MS", settings.Channel.ReconnectMaxDelay)
	settings.Channel.MaxReconnectAttempts = envInt("MIRROR_RECONNECT_MAX_ATTEMPTS", settings.Channel.MaxReconnectAttempts)
	return settings
}

func envInt(name string, value int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
	}
	return value
}

func envMillis(name string, value time.Duration) time.Duration {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			return time.Duration(v) * time.Millisecond
		}
	}
	return value
}

func envByteCount(name string, value ByteCount) ByteCount {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.ParseInt(s, 10, 64); err == nil {
			return v
		}
	}
	return value
}
