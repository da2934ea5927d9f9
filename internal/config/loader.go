package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Connection.Token = expandEnvVars(cfg.Connection.Token)
	for i := range cfg.Relay.Users {
		cfg.Relay.Users[i].Token = expandEnvVars(cfg.Relay.Users[i].Token)
	}
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	expandSensitiveFields(&cfg)
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields that must never be zero.
// Fields where zero is meaningful (connection.maxReconnectAttempts,
// chat.typingTimeoutMs) keep the file's value; an omitted key already holds
// the default.
func applyDefaults(cfg *Config) {
	def := Defaults()
	if cfg.Connection.URL == "" {
		cfg.Connection.URL = def.Connection.URL
	}
	if cfg.Connection.ReconnectDelayMs == 0 {
		cfg.Connection.ReconnectDelayMs = def.Connection.ReconnectDelayMs
	}
	if cfg.Connection.ConnectTimeoutMs == 0 {
		cfg.Connection.ConnectTimeoutMs = def.Connection.ConnectTimeoutMs
	}
	if cfg.Chat.ReconcileWindowMs == 0 {
		cfg.Chat.ReconcileWindowMs = def.Chat.ReconcileWindowMs
	}
	if cfg.History.Limit == 0 {
		cfg.History.Limit = def.History.Limit
	}
	if cfg.Relay.Port == 0 {
		cfg.Relay.Port = def.Relay.Port
	}
	if cfg.Relay.Bind == "" {
		cfg.Relay.Bind = def.Relay.Bind
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = def.Logging.ConsoleStyle
	}
}

// applyEnvOverrides reads PARLEY_* environment variables and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PARLEY_URL"); v != "" {
		cfg.Connection.URL = v
	}
	if v := os.Getenv("PARLEY_TOKEN"); v != "" {
		cfg.Connection.Token = v
	}
	if v := os.Getenv("PARLEY_MAX_RECONNECT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Connection.MaxReconnectAttempts = n
		}
	}
	if v := os.Getenv("PARLEY_RELAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Relay.Port = port
		}
	}
	if v := os.Getenv("PARLEY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}
