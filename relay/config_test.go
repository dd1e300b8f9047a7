package relay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestDefaultConfig(t *testing.T) {
	config, err := LoadConfig("")
	assert.Equal(t, err, nil)
	assert.Equal(t, config.Port, 8080)
	assert.Equal(t, config.QueueCapacity, 100)
}

func TestLoadConfigYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	err := os.WriteFile(path, []byte("port: 9090\nqueueCapacity: 25\n"), 0644)
	assert.Equal(t, err, nil)

	config, err := LoadConfig(path)
	assert.Equal(t, err, nil)
	assert.Equal(t, config.Port, 9090)
	assert.Equal(t, config.QueueCapacity, 25)
	// unset keys keep their defaults
	assert.Equal(t, config.FlushBatchSize, 10)
}

func TestConfigEnvOverride(t *testing.T) {
	t.Setenv("MIRROR_PORT", "7070")
	t.Setenv("MIRROR_QUEUE_CAPACITY", "3")

	config, err := LoadConfig("")
	assert.Equal(t, err, nil)
	assert.Equal(t, config.Port, 7070)
	assert.Equal(t, config.QueueCapacity, 3)
}

func TestConfigMissingFile(t *testing.T) {
	_, err := LoadConfig("/does/not/exist.yaml")
	assert.NotEqual(t, err, nil)
}

func TestChannelSettingsSingleUse(t *testing.T) {
	config := DefaultConfig()
	settings := config.channelSettings()
	// an accepted connection never re-dials
	assert.Equal(t, settings.MaxReconnectAttempts, 1)
	assert.Equal(t, settings.QueueCapacity, config.QueueCapacity)
}
