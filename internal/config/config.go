package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// APIClient is a machine client allowed to call the /api/v1 endpoints
type APIClient struct {
	Name   string   `yaml:"name"`
	Secret string   `yaml:"secret"`
	Scopes []string `yaml:"scopes"`
}

// HasScope reports whether the client was granted scope
func (c APIClient) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// LimiterConfig overrides the interval/limit tuple of a named rate limiter
type LimiterConfig struct {
	Interval time.Duration `yaml:"interval"`
	Limit    int           `yaml:"limit"`
}

// Config holds application configuration
type Config struct {
	ServerPort   string
	DatabaseType string
	DatabaseURL  string
	DatabasePath string

	SessionSecret   string
	SessionDuration time.Duration

	AdminGroup       string
	SignupGroup      string
	SelfserviceGroup string

	InviteMaxValidDays int
	SelfSignup         bool
	RoleSelfservice    bool
	DefaultRoles       []string
	OrganisationName   string

	UIDMin int64
	GIDMin int64

	RatelimitBackend  string
	HTTPRatePerSecond float64
	HTTPBurst         int
	TrustProxy        bool
	CleanupInterval   time.Duration

	AWSRegion    string
	SESFromEmail string
	SESFromName  string
	AppBaseURL   string

	LogFile string
	Debug   bool

	APIClients []APIClient
	Limiters   map[string]LimiterConfig
}

// fileConfig is the optional YAML document named by CONFIG_FILE
type fileConfig struct {
	APIClients   []APIClient              `yaml:"api_clients"`
	Limiters     map[string]LimiterConfig `yaml:"limiters"`
	DefaultRoles []string                 `yaml:"default_roles"`
}

// Load reads configuration from environment variables with sensible defaults,
// then merges the structured settings from CONFIG_FILE if one is set
func Load() (*Config, error) {
	cfg := &Config{
		ServerPort:   getEnv("PORT", "8080"),
		DatabaseType: getEnv("DATABASE_TYPE", "sqlite"),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		DatabasePath: getEnv("DB_PATH", "./usergate.db"),

		SessionSecret:   getEnv("SESSION_SECRET", ""),
		SessionDuration: getEnvDuration("SESSION_DURATION", time.Hour),

		AdminGroup:       getEnv("ACL_ADMIN_GROUP", "uffd_admin"),
		SignupGroup:      getEnv("ACL_SIGNUP_GROUP", "uffd_signup"),
		SelfserviceGroup: getEnv("ACL_SELFSERVICE_GROUP", ""),

		InviteMaxValidDays: getEnvInt("INVITE_MAX_VALID_DAYS", 21),
		SelfSignup:         getEnvBool("SELF_SIGNUP", false),
		RoleSelfservice:    getEnvBool("ENABLE_ROLESELFSERVICE", true),
		DefaultRoles:       splitList(getEnv("DEFAULT_ROLES", "")),
		OrganisationName:   getEnv("ORGANISATION_NAME", ""),

		UIDMin: int64(getEnvInt("UID_MIN", 10000)),
		GIDMin: int64(getEnvInt("GID_MIN", 20000)),

		RatelimitBackend:  getEnv("RATELIMIT_BACKEND", "sql"),
		HTTPRatePerSecond: getEnvFloat("HTTP_RATE_PER_SECOND", 10),
		HTTPBurst:         getEnvInt("HTTP_BURST", 20),
		TrustProxy:        getEnvBool("TRUST_PROXY", false),
		CleanupInterval:   getEnvDuration("CLEANUP_INTERVAL", 10*time.Minute),

		AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
		SESFromEmail: getEnv("SES_FROM_EMAIL", ""),
		SESFromName:  getEnv("SES_FROM_NAME", "usergate"),
		AppBaseURL:   strings.TrimSuffix(getEnv("APP_BASE_URL", "http://localhost:8080"), "/"),

		LogFile: getEnv("LOG_FILE", ""),
		Debug:   getEnvBool("DEBUG", false),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// mergeFile applies the YAML settings on top of the environment derived values
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return c.mergeYAML(data)
}

func (c *Config) mergeYAML(data []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	c.APIClients = append(c.APIClients, fc.APIClients...)
	if len(fc.DefaultRoles) > 0 {
		c.DefaultRoles = fc.DefaultRoles
	}
	if len(fc.Limiters) > 0 {
		if c.Limiters == nil {
			c.Limiters = make(map[string]LimiterConfig, len(fc.Limiters))
		}
		for name, lc := range fc.Limiters {
			if lc.Interval <= 0 || lc.Limit <= 0 {
				return fmt.Errorf("limiter %q: interval and limit must be positive", name)
			}
			c.Limiters[name] = lc
		}
	}
	return nil
}

// APIClient looks up a configured API client by name
func (c *Config) APIClient(name string) (APIClient, bool) {
	for _, client := range c.APIClients {
		if client.Name == name {
			return client, true
		}
	}
	return APIClient{}, false
}

// getEnv reads an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
