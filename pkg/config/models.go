package config

import "time"

type Config struct {
	Server    ServerConfig
	Transport TransportConfig
	Hub       HubConfig
	Storage   StorageConfig
}

type ServerConfig struct {
	Address           string
	SubscriptionLimit SubscriptionLimitConfig `mapstructure:"subscriptionLimit"`
}

// SubscriptionLimitConfig bounds concurrent streams per timite. Zero disables
// the limit.
type SubscriptionLimitConfig struct {
	MaxPerTimite int    `mapstructure:"maxPerTimite"`
	Mode         string `mapstructure:"mode"` // "reject" or "cycle"
}

// TransportConfig bounds the streaming connection. ReadTimeout is the ping
// interval used for dead-peer detection on the otherwise inbound-silent
// subscribe stream; WriteTimeout caps each outbound frame write.
type TransportConfig struct {
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

type HubConfig struct {
	BufferSize    int           `mapstructure:"bufferSize"`
	SweepInterval time.Duration `mapstructure:"sweepInterval"`
}

// StorageConfig points at the badger directory. An empty path keeps all state
// in memory for the lifetime of the process.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}
