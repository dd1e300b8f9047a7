package relay

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/editmirror/mirror/mirror"
)

// Config is the relay's configuration surface: defaults, then an
// optional yaml file, then MIRROR_* environment overrides.
type Config struct {
	Port                int `yaml:"port"`
	QueueCapacity       int `yaml:"queueCapacity"`
	FlushBatchSize      int `yaml:"flushBatchSize"`
	FlushIntervalMillis int `yaml:"flushIntervalMillis"`
	PingIntervalMillis  int `yaml:"pingIntervalMillis"`
	WriteTimeoutMillis  int `yaml:"writeTimeoutMillis"`
	ReadTimeoutMillis   int `yaml:"readTimeoutMillis"`
}

func DefaultConfig() *Config {
	return &Config{
		Port:                8080,
		QueueCapacity:       100,
		FlushBatchSize:      10,
		FlushIntervalMillis: 1000,
		PingIntervalMillis:  5000,
		WriteTimeoutMillis:  5000,
		ReadTimeoutMillis:   30000,
	}
}

// LoadConfig reads a yaml config file over the defaults. An empty path
// returns the defaults. Environment overrides apply in both cases.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, config); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	config.ApplyEnv()
	return config, nil
}

func (self *Config) ApplyEnv() {
	self.Port = envInt("MIRROR_PORT", self.Port)
	self.QueueCapacity = envInt("MIRROR_QUEUE_CAPACITY", self.QueueCapacity)
}

func envInt(name string, value int) int {
	if s := os.Getenv(name); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
	}
	return value
}

// channelSettings builds the per-endpoint delivery channel settings. The
// transport of an accepted connection is single use, so the reconnect
// budget is one attempt: when the connection dies, the channel fails
// terminally and the endpoint is removed.
func (self *Config) channelSettings() *mirror.DeliveryChannelSettings {
	settings := mirror.DefaultDeliveryChannelSettings()
	settings.QueueCapacity = self.QueueCapacity
	settings.FlushBatchSize = self.FlushBatchSize
	settings.FlushInterval = time.Duration(self.FlushIntervalMillis) * time.Millisecond
	settings.PingInterval = time.Duration(self.PingIntervalMillis) * time.Millisecond
	settings.MaxReconnectAttempts = 1
	return settings
}

func (self *Config) wsSettings() *mirror.WebSocketTransportSettings {
	settings := mirror.DefaultWebSocketTransportSettings()
	settings.WriteTimeout = time.Duration(self.WriteTimeoutMillis) * time.Millisecond
	settings.ReadTimeout = time.Duration(self.ReadTimeoutMillis) * time.Millisecond
	return settings
}
