package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	SchemaHTTP    HTTPConfig
	ConvertHTTP   HTTPConfig
	Databases     DatabaseConfig
	AI            AIConfig
	Convert       ConvertConfig
	Supervisor    SupervisorConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig names the SQLite files the schema service is allowed to
// touch. Registry is a comma-separated list of name=path pairs.
type DatabaseConfig struct {
	Registry string
	Default  string
}

type AIConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	Temperature    float64
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
}

type ConvertConfig struct {
	SchemaServiceURL string
	RPCTimeout       time.Duration
	ExecTimeout      time.Duration
}

type SupervisorConfig struct {
	SchemaCommand  string
	ConvertCommand string
	HealthInterval time.Duration
	HealthAttempts int
	HealthTimeout  time.Duration
	StopGrace      time.Duration
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("SQLSCOUT_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid SQLSCOUT_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyString(lookup, "SQLSCOUT_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSCOUT_SCHEMA_ADDR", &cfg.SchemaHTTP.Address); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SQLSCOUT_SCHEMA_READ_TIMEOUT", &cfg.SchemaHTTP.ReadTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SQLSCOUT_SCHEMA_WRITE_TIMEOUT", &cfg.SchemaHTTP.WriteTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SQLSCOUT_SCHEMA_IDLE_TIMEOUT", &cfg.SchemaHTTP.IdleTimeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSCOUT_CONVERT_ADDR", &cfg.ConvertHTTP.Address); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SQLSCOUT_CONVERT_READ_TIMEOUT", &cfg.ConvertHTTP.ReadTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SQLSCOUT_CONVERT_IDLE_TIMEOUT", &cfg.ConvertHTTP.IdleTimeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSCOUT_DATABASES", &cfg.Databases.Registry); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSCOUT_DEFAULT_DATABASE", &cfg.Databases.Default); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSCOUT_AI_BASE_URL", &cfg.AI.BaseURL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSCOUT_AI_API_KEY", &cfg.AI.APIKey); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSCOUT_AI_MODEL", &cfg.AI.Model); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "SQLSCOUT_AI_TEMPERATURE", &cfg.AI.Temperature); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SQLSCOUT_AI_TIMEOUT", &cfg.AI.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SQLSCOUT_AI_MAX_RETRIES", &cfg.AI.MaxRetries); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SQLSCOUT_AI_RETRY_BASE_DELAY", &cfg.AI.RetryBaseDelay); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSCOUT_SCHEMA_SERVICE_URL", &cfg.Convert.SchemaServiceURL); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SQLSCOUT_RPC_TIMEOUT", &cfg.Convert.RPCTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SQLSCOUT_EXEC_TIMEOUT", &cfg.Convert.ExecTimeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSCOUT_SUPERVISOR_SCHEMA_COMMAND", &cfg.Supervisor.SchemaCommand); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "SQLSCOUT_SUPERVISOR_CONVERT_COMMAND", &cfg.Supervisor.ConvertCommand); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SQLSCOUT_SUPERVISOR_HEALTH_INTERVAL", &cfg.Supervisor.HealthInterval); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "SQLSCOUT_SUPERVISOR_HEALTH_ATTEMPTS", &cfg.Supervisor.HealthAttempts); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SQLSCOUT_SUPERVISOR_HEALTH_TIMEOUT", &cfg.Supervisor.HealthTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "SQLSCOUT_SUPERVISOR_STOP_GRACE", &cfg.Supervisor.StopGrace); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "SQLSCOUT_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "SQLSCOUT_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.Databases.Registry == "" {
		return Config{}, fmt.Errorf("database registry is required")
	}
	registry, err := ParseDatabaseRegistry(cfg.Databases.Registry)
	if err != nil {
		return Config{}, err
	}
	if _, ok := registry[cfg.Databases.Default]; !ok {
		return Config{}, fmt.Errorf("default database %q is not in the registry", cfg.Databases.Default)
	}
	return cfg, nil
}

// ParseDatabaseRegistry parses "name=path,name=path" into a lookup map.
func ParseDatabaseRegistry(raw string) (map[string]string, error) {
	registry := map[string]string{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, path, ok := strings.Cut(entry, "=")
		name = strings.TrimSpace(name)
		path = strings.TrimSpace(path)
		if !ok || name == "" || path == "" {
			return nil, fmt.Errorf("invalid database registry entry: %q", entry)
		}
		if _, exists := registry[name]; exists {
			return nil, fmt.Errorf("duplicate database name: %q", name)
		}
		registry[name] = path
	}
	if len(registry) == 0 {
		return nil, fmt.Errorf("database registry is empty")
	}
	return registry, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "sqlscout"},
		SchemaHTTP: HTTPConfig{
			Address:      ":8001",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		ConvertHTTP: HTTPConfig{
			Address:     ":8000",
			ReadTimeout: 5 * time.Second,
			// WriteTimeout stays zero: /convert holds the response open
			// for the duration of the provider stream.
			IdleTimeout: 60 * time.Second,
		},
		Databases: DatabaseConfig{
			Registry: "league=data/database/League.db",
			Default:  "league",
		},
		AI: AIConfig{
			BaseURL:        "https://api.openai.com",
			Model:          "gpt-4o-mini",
			Temperature:    0,
			Timeout:        60 * time.Second,
			MaxRetries:     3,
			RetryBaseDelay: 500 * time.Millisecond,
		},
		Convert: ConvertConfig{
			SchemaServiceURL: "http://127.0.0.1:8001",
			RPCTimeout:       5 * time.Second,
			ExecTimeout:      30 * time.Second,
		},
		Supervisor: SupervisorConfig{
			SchemaCommand:  "sqlscout-schema",
			ConvertCommand: "sqlscout-convert",
			HealthInterval: 500 * time.Millisecond,
			HealthAttempts: 20,
			HealthTimeout:  2 * time.Second,
			StopGrace:      3 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.SchemaHTTP.Address = ":18001"
		cfg.ConvertHTTP.Address = ":18000"
		cfg.Convert.SchemaServiceURL = "http://127.0.0.1:18001"
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
