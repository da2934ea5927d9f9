package config

import (
	"fmt"
	"net/url"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	// Connection validation
	if cfg.Connection.URL != "" {
		u, err := url.Parse(cfg.Connection.URL)
		if err != nil {
			issues = append(issues, ValidationIssue{
				Path:    "connection.url",
				Message: fmt.Sprintf("invalid URL: %v", err),
			})
		} else if u.Scheme != "ws" && u.Scheme != "wss" {
			issues = append(issues, ValidationIssue{
				Path:    "connection.url",
				Message: fmt.Sprintf("scheme must be ws or wss, got %q", u.Scheme),
			})
		}
	}
	if cfg.Connection.MaxReconnectAttempts < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "connection.maxReconnectAttempts",
			Message: fmt.Sprintf("must be >= 0, got %d", cfg.Connection.MaxReconnectAttempts),
		})
	}
	if cfg.Connection.ReconnectDelayMs < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "connection.reconnectDelayMs",
			Message: fmt.Sprintf("must be >= 0, got %d", cfg.Connection.ReconnectDelayMs),
		})
	}
	if cfg.Connection.ConnectTimeoutMs < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "connection.connectTimeoutMs",
			Message: fmt.Sprintf("must be >= 0, got %d", cfg.Connection.ConnectTimeoutMs),
		})
	}

	// Chat validation
	if cfg.Chat.TypingTimeoutMs < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "chat.typingTimeoutMs",
			Message: fmt.Sprintf("must be >= 0, got %d", cfg.Chat.TypingTimeoutMs),
		})
	}
	validConvTypes := []string{"private", "group"}
	seen := make(map[string]bool)
	for i, c := range cfg.Chat.Conversations {
		path := fmt.Sprintf("chat.conversations[%d]", i)
		if c.ID == "" {
			issues = append(issues, ValidationIssue{Path: path + ".id", Message: "id is required"})
		} else if seen[c.ID] {
			issues = append(issues, ValidationIssue{Path: path + ".id", Message: fmt.Sprintf("duplicate id %q", c.ID)})
		}
		seen[c.ID] = true
		if c.Type != "" && !slices.Contains(validConvTypes, c.Type) {
			issues = append(issues, ValidationIssue{
				Path:    path + ".type",
				Message: fmt.Sprintf("must be one of %v, got %q", validConvTypes, c.Type),
			})
		}
	}

	// Relay validation
	if cfg.Relay.Port < 0 || cfg.Relay.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "relay.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Relay.Port),
		})
	}
	validBinds := []string{"loopback", "lan", "custom"}
	if cfg.Relay.Bind != "" && !slices.Contains(validBinds, cfg.Relay.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "relay.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Relay.Bind),
		})
	}
	tokens := make(map[string]bool)
	for i, u := range cfg.Relay.Users {
		path := fmt.Sprintf("relay.users[%d]", i)
		if u.Token == "" {
			issues = append(issues, ValidationIssue{Path: path + ".token", Message: "token is required"})
		} else if tokens[u.Token] {
			issues = append(issues, ValidationIssue{Path: path + ".token", Message: "token is shared with another user"})
		}
		tokens[u.Token] = true
		if u.ID == "" {
			issues = append(issues, ValidationIssue{Path: path + ".id", Message: "id is required"})
		}
	}

	// Logging validation
	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	validConsoleStyles := []string{"pretty", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.consoleStyle",
			Message: fmt.Sprintf("must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle),
		})
	}

	return issues
}
