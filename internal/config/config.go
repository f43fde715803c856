// Package config provides environment configuration for the chat client and
// the reference server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/capitalize-ai/chatsync/internal/connection"
)

// FileEnv names the optional TOML file read before the environment.
const FileEnv = "CHAT_CONFIG_FILE"

// Config holds all configuration for the application.
type Config struct {
	// Client settings
	APIURL                  string
	AccessToken             string
	DevJWTSecret            string
	UserID                  string
	PageSize                int
	WSConnectTimeout        time.Duration
	WSMaxReconnectAttempts  int
	WSReconnectInitialDelay time.Duration
	WSReconnectMaxDelay     time.Duration
	HTTPTimeout             time.Duration

	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	StoreBackend       string
	AgentEnabled       bool

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret     string
	JWTExpiration time.Duration

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	DefaultLLM      string
	LLMModel        string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from the TOML file named by CHAT_CONFIG_FILE, if
// any, and the environment. Environment variables win over the file.
func Load() (*Config, error) {
	src := source{}
	if path := os.Getenv(FileEnv); path != "" {
		values, err := readTOML(path)
		if err != nil {
			return nil, err
		}
		src.file = values
	}
	return src.load(), nil
}

func (s source) load() *Config {
	return &Config{
		// Client
		APIURL:                  s.getEnv("CHAT_API_URL", "http://localhost:8080/api"),
		AccessToken:             s.getEnv("CHAT_ACCESS_TOKEN", ""),
		DevJWTSecret:            s.getEnv("CHAT_DEV_JWT_SECRET", ""),
		UserID:                  s.getEnv("CHAT_USER_ID", ""),
		PageSize:                s.getIntEnv("CHAT_PAGE_SIZE", 20),
		WSConnectTimeout:        s.getDurationEnv("WS_CONNECT_TIMEOUT", 10*time.Second),
		WSMaxReconnectAttempts:  s.getIntEnv("WS_MAX_RECONNECT_ATTEMPTS", 5),
		WSReconnectInitialDelay: s.getDurationEnv("WS_RECONNECT_INITIAL_DELAY", 2*time.Second),
		WSReconnectMaxDelay:     s.getDurationEnv("WS_RECONNECT_MAX_DELAY", 60*time.Second),
		HTTPTimeout:             s.getDurationEnv("HTTP_TIMEOUT", 30*time.Second),

		// Server
		ServerPort:         s.getEnv("PORT", "8080"),
		ServerReadTimeout:  s.getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: s.getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		StoreBackend:       s.getEnv("STORE_BACKEND", "memory"),
		AgentEnabled:       s.getBoolEnv("AGENT_ENABLED", true),

		// NATS
		NATSURL:      s.getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   s.getEnv("NATS_CA_FILE", ""),
		NATSCertFile: s.getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  s.getEnv("NATS_KEY_FILE", ""),
		NATSToken:    s.getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret:     s.getEnv("JWT_SECRET", "development-secret-change-in-production"),
		JWTExpiration: s.getDurationEnv("JWT_EXPIRATION", 15*time.Minute),

		// LLM
		AnthropicAPIKey: s.getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    s.getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:      s.getEnv("DEFAULT_LLM", "anthropic"),
		LLMModel:        s.getEnv("LLM_MODEL", ""),

		// Rate limiting
		RateLimitRequests: s.getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   s.getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: s.getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: s.getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  s.getBoolEnv("TRACING_ENABLED", false),
	}
}

// Connection returns the connection manager settings.
func (c *Config) Connection() connection.Config {
	cfg := connection.DefaultConfig(c.APIURL)
	cfg.ConnectTimeout = c.WSConnectTimeout
	cfg.Retry = connection.RetryPolicy{
		MaxAttempts:  c.WSMaxReconnectAttempts,
		InitialDelay: c.WSReconnectInitialDelay,
		Multiplier:   2,
		MaxDelay:     c.WSReconnectMaxDelay,
	}
	return cfg
}

// source resolves keys from the environment first, then from the file.
type source struct {
	file map[string]string
}

func (s source) lookup(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return s.file[strings.ToLower(key)]
}

func (s source) getEnv(key, defaultValue string) string {
	if value := s.lookup(key); value != "" {
		return value
	}
	return defaultValue
}

func (s source) getIntEnv(key string, defaultValue int) int {
	if value := s.lookup(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func (s source) getBoolEnv(key string, defaultValue bool) bool {
	if value := s.lookup(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func (s source) getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := s.lookup(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// readTOML flattens a TOML document into lower-case keys. Nested tables join
// with "_", so [ws] connect_timeout is read as WS_CONNECT_TIMEOUT.
func readTOML(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	out := make(map[string]string)
	flatten("", doc, out)
	return out, nil
}

func flatten(prefix string, doc map[string]any, out map[string]string) {
	for k, v := range doc {
		key := strings.ToLower(k)
		if prefix != "" {
			key = prefix + "_" + key
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, out)
		case string:
			out[key] = val
		case time.Time:
			out[key] = val.Format(time.RFC3339Nano)
		default:
			out[key] = fmt.Sprint(val)
		}
	}
}
