package monitor

import "time"

// Config defines the runtime configuration for the status monitor.
type Config struct {
	Addr           string
	StatusInterval time.Duration // heartbeat period of the status stream
	KeepAlive      time.Duration // SSE comment period when nothing changes
}

// DefaultConfig returns the monitor defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:8090",
		StatusInterval: 2 * time.Second,
		KeepAlive:      30 * time.Second,
	}
}
