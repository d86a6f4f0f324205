package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("sqlscout-schema", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.SchemaHTTP.Address != ":8001" {
		t.Fatalf("SchemaHTTP.Address = %q", cfg.SchemaHTTP.Address)
	}
	if cfg.ConvertHTTP.Address != ":8000" {
		t.Fatalf("ConvertHTTP.Address = %q", cfg.ConvertHTTP.Address)
	}
	if cfg.ConvertHTTP.WriteTimeout != 0 {
		t.Fatalf("ConvertHTTP.WriteTimeout = %s, want 0 for streaming", cfg.ConvertHTTP.WriteTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.AI.Model != "gpt-4o-mini" {
		t.Fatalf("AI.Model = %q", cfg.AI.Model)
	}
	if cfg.AI.Temperature != 0 {
		t.Fatalf("AI.Temperature = %f", cfg.AI.Temperature)
	}
	if cfg.AI.MaxRetries != 3 {
		t.Fatalf("AI.MaxRetries = %d", cfg.AI.MaxRetries)
	}
	if cfg.Databases.Default != "league" {
		t.Fatalf("Databases.Default = %q", cfg.Databases.Default)
	}
	if cfg.Convert.SchemaServiceURL != "http://127.0.0.1:8001" {
		t.Fatalf("Convert.SchemaServiceURL = %q", cfg.Convert.SchemaServiceURL)
	}
	if cfg.Supervisor.HealthAttempts != 20 {
		t.Fatalf("Supervisor.HealthAttempts = %d", cfg.Supervisor.HealthAttempts)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"SQLSCOUT_PROFILE": "prod"})
	cfg, err := Load("sqlscout-convert", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"SQLSCOUT_PROFILE":                     "test",
		"SQLSCOUT_SERVICE_NAME":                "sqlscout-custom",
		"SQLSCOUT_SCHEMA_ADDR":                 ":9001",
		"SQLSCOUT_SCHEMA_READ_TIMEOUT":         "2s",
		"SQLSCOUT_CONVERT_ADDR":                ":9000",
		"SQLSCOUT_DATABASES":                   "league=/tmp/League.db,stats=/tmp/Stats.db",
		"SQLSCOUT_DEFAULT_DATABASE":            "stats",
		"SQLSCOUT_AI_BASE_URL":                 "https://llm.example.com",
		"SQLSCOUT_AI_API_KEY":                  "secret-key",
		"SQLSCOUT_AI_MODEL":                    "gpt-4o",
		"SQLSCOUT_AI_TEMPERATURE":              "0.2",
		"SQLSCOUT_AI_TIMEOUT":                  "21s",
		"SQLSCOUT_AI_MAX_RETRIES":              "5",
		"SQLSCOUT_AI_RETRY_BASE_DELAY":         "250ms",
		"SQLSCOUT_SCHEMA_SERVICE_URL":          "http://10.0.0.5:8001",
		"SQLSCOUT_RPC_TIMEOUT":                 "1500ms",
		"SQLSCOUT_EXEC_TIMEOUT":                "12s",
		"SQLSCOUT_SUPERVISOR_SCHEMA_COMMAND":   "/usr/local/bin/sqlscout-schema",
		"SQLSCOUT_SUPERVISOR_HEALTH_INTERVAL":  "200ms",
		"SQLSCOUT_SUPERVISOR_HEALTH_ATTEMPTS":  "7",
		"SQLSCOUT_SUPERVISOR_HEALTH_TIMEOUT":   "900ms",
		"SQLSCOUT_SUPERVISOR_STOP_GRACE":       "4s",
		"SQLSCOUT_LOG_LEVEL":                   "error",
		"SQLSCOUT_LOG_JSON":                    "false",
	})
	cfg, err := Load("sqlscout-schema", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "sqlscout-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.SchemaHTTP.Address != ":9001" {
		t.Fatalf("SchemaHTTP.Address = %q", cfg.SchemaHTTP.Address)
	}
	if cfg.SchemaHTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("SchemaHTTP.ReadTimeout = %s", cfg.SchemaHTTP.ReadTimeout)
	}
	if cfg.ConvertHTTP.Address != ":9000" {
		t.Fatalf("ConvertHTTP.Address = %q", cfg.ConvertHTTP.Address)
	}
	if cfg.Databases.Default != "stats" {
		t.Fatalf("Databases.Default = %q", cfg.Databases.Default)
	}
	if cfg.AI.BaseURL != "https://llm.example.com" {
		t.Fatalf("AI.BaseURL = %q", cfg.AI.BaseURL)
	}
	if cfg.AI.APIKey != "secret-key" {
		t.Fatalf("AI.APIKey = %q", cfg.AI.APIKey)
	}
	if cfg.AI.Temperature != 0.2 {
		t.Fatalf("AI.Temperature = %f", cfg.AI.Temperature)
	}
	if cfg.AI.MaxRetries != 5 {
		t.Fatalf("AI.MaxRetries = %d", cfg.AI.MaxRetries)
	}
	if cfg.AI.RetryBaseDelay != 250*time.Millisecond {
		t.Fatalf("AI.RetryBaseDelay = %s", cfg.AI.RetryBaseDelay)
	}
	if cfg.Convert.SchemaServiceURL != "http://10.0.0.5:8001" {
		t.Fatalf("Convert.SchemaServiceURL = %q", cfg.Convert.SchemaServiceURL)
	}
	if cfg.Convert.RPCTimeout != 1500*time.Millisecond {
		t.Fatalf("Convert.RPCTimeout = %s", cfg.Convert.RPCTimeout)
	}
	if cfg.Convert.ExecTimeout != 12*time.Second {
		t.Fatalf("Convert.ExecTimeout = %s", cfg.Convert.ExecTimeout)
	}
	if cfg.Supervisor.SchemaCommand != "/usr/local/bin/sqlscout-schema" {
		t.Fatalf("Supervisor.SchemaCommand = %q", cfg.Supervisor.SchemaCommand)
	}
	if cfg.Supervisor.HealthInterval != 200*time.Millisecond {
		t.Fatalf("Supervisor.HealthInterval = %s", cfg.Supervisor.HealthInterval)
	}
	if cfg.Supervisor.HealthAttempts != 7 {
		t.Fatalf("Supervisor.HealthAttempts = %d", cfg.Supervisor.HealthAttempts)
	}
	if cfg.Supervisor.StopGrace != 4*time.Second {
		t.Fatalf("Supervisor.StopGrace = %s", cfg.Supervisor.StopGrace)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Observability.LogJSON {
		t.Fatal("LogJSON = true, want false")
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"SQLSCOUT_PROFILE": "oops"},
		{"SQLSCOUT_SCHEMA_READ_TIMEOUT": "NaN"},
		{"SQLSCOUT_AI_TEMPERATURE": "bad"},
		{"SQLSCOUT_AI_MAX_RETRIES": "three"},
		{"SQLSCOUT_LOG_JSON": "not-bool"},
		{"SQLSCOUT_LOG_LEVEL": "verbose"},
		{"SQLSCOUT_DATABASES": "league"},
		{"SQLSCOUT_DATABASES": "league=/a.db,league=/b.db"},
		{"SQLSCOUT_DEFAULT_DATABASE": "missing"},
	}
	for _, env := range tests {
		_, err := Load("sqlscout-schema", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func TestParseDatabaseRegistry(t *testing.T) {
	registry, err := ParseDatabaseRegistry("league=/data/League.db, stats=/data/Stats.db")
	if err != nil {
		t.Fatalf("ParseDatabaseRegistry() error = %v", err)
	}
	if registry["league"] != "/data/League.db" {
		t.Fatalf("league path = %q", registry["league"])
	}
	if registry["stats"] != "/data/Stats.db" {
		t.Fatalf("stats path = %q", registry["stats"])
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
