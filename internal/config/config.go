package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Connection: ConnectionConfig{
			URL:                  "ws://127.0.0.1:4041/ws",
			MaxReconnectAttempts: 5,
			ReconnectDelayMs:     1000,
			ConnectTimeoutMs:     20000,
		},
		Chat: ChatConfig{
			TypingTimeoutMs:   10000,
			ReconcileWindowMs: 30000,
		},
		History: HistoryConfig{
			Limit: 50,
		},
		Relay: RelayConfig{
			Port: 4041,
			Bind: "loopback",
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
	}
}
