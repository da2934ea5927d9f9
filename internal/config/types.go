package config

import "time"

// Config is the root configuration for parley.
type Config struct {
	Connection ConnectionConfig `yaml:"connection,omitempty"`
	Chat       ChatConfig       `yaml:"chat,omitempty"`
	History    HistoryConfig    `yaml:"history,omitempty"`
	Relay      RelayConfig      `yaml:"relay,omitempty"`
	Logging    LoggingConfig    `yaml:"logging,omitempty"`
}

// ConnectionConfig controls the real-time connection to the chat backend.
type ConnectionConfig struct {
	URL                  string `yaml:"url,omitempty"`
	Token                string `yaml:"token,omitempty"`
	MaxReconnectAttempts int    `yaml:"maxReconnectAttempts,omitempty"` // 0 never retries
	ReconnectDelayMs     int    `yaml:"reconnectDelayMs,omitempty"`
	ConnectTimeoutMs     int    `yaml:"connectTimeoutMs,omitempty"`
}

// ReconnectDelay returns the fixed wait between reconnect attempts.
func (c ConnectionConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMs) * time.Millisecond
}

// ConnectTimeout returns the dial/handshake timeout.
func (c ConnectionConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

// ChatConfig controls the chat state manager.
type ChatConfig struct {
	TypingTimeoutMs   int                 `yaml:"typingTimeoutMs,omitempty"` // 0 disables expiry
	ReconcileWindowMs int                 `yaml:"reconcileWindowMs,omitempty"`
	Conversations     []ConversationEntry `yaml:"conversations,omitempty"`
}

// TypingTimeout returns how long a typing indicator lives without refresh.
func (c ChatConfig) TypingTimeout() time.Duration {
	return time.Duration(c.TypingTimeoutMs) * time.Millisecond
}

// ReconcileWindow returns how long an optimistic echo may be matched by content.
func (c ChatConfig) ReconcileWindow() time.Duration {
	return time.Duration(c.ReconcileWindowMs) * time.Millisecond
}

// ConversationEntry seeds the conversation list when no REST backend is wired.
type ConversationEntry struct {
	ID    string `yaml:"id"`
	Type  string `yaml:"type,omitempty"` // "private" | "group"
	Title string `yaml:"title,omitempty"`
}

// HistoryConfig controls the local transcript cache.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty"`
	Limit   int    `yaml:"limit,omitempty"` // messages replayed per conversation
}

// RelayConfig controls the development relay server.
type RelayConfig struct {
	Port           int         `yaml:"port,omitempty"`
	Bind           string      `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string      `yaml:"customBindHost,omitempty"`
	AllowedOrigins []string    `yaml:"allowedOrigins,omitempty"`
	Users          []RelayUser `yaml:"users,omitempty"`
}

// RelayUser maps an access token to a user identity on the relay.
type RelayUser struct {
	Token string `yaml:"token"`
	ID    string `yaml:"id"`
	Email string `yaml:"email,omitempty"`
	Name  string `yaml:"name,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}
