package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	PolicyReadOnly     = "read_only"
	PolicyUnrestricted = "unrestricted"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Database      DatabaseConfig
	Session       SessionConfig
	AI            AIConfig
	Audit         AuditConfig
	Export        ExportConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
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

type DatabaseConfig struct {
	DefaultSQLitePath string
	QueryTimeout      time.Duration
	MaxRows           int
	StatementPolicy   string
	MySQLHost         string
	MySQLPort         int
	MySQLUser         string
}

type SessionConfig struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
	MaxSessions   int
}

type AIConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type AuditConfig struct {
	Enabled         bool
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

type ExportConfig struct {
	Enabled          bool
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

// LoadFromEnv loads the given .env files (missing files are skipped) into the
// process environment and then reads the configuration from it. Variables
// already present in the environment win over .env values.
func LoadFromEnv(serviceName string, envFiles ...string) (Config, error) {
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("load env file %s: %w", file, err)
		}
	}
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("CHATDB_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid CHATDB_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "CHATDB_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "CHATDB_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "CHATDB_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "CHATDB_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "CHATDB_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyString(lookup, "CHATDB_DB_SQLITE_PATH", &cfg.Database.DefaultSQLitePath) },
		func() error { return applyDuration(lookup, "CHATDB_DB_QUERY_TIMEOUT", &cfg.Database.QueryTimeout) },
		func() error { return applyInt(lookup, "CHATDB_DB_MAX_ROWS", &cfg.Database.MaxRows) },
		func() error { return applyString(lookup, "CHATDB_SQL_POLICY", &cfg.Database.StatementPolicy) },
		func() error { return applyString(lookup, "CHATDB_MYSQL_HOST", &cfg.Database.MySQLHost) },
		func() error { return applyInt(lookup, "CHATDB_MYSQL_PORT", &cfg.Database.MySQLPort) },
		func() error { return applyString(lookup, "CHATDB_MYSQL_USER", &cfg.Database.MySQLUser) },
		func() error { return applyDuration(lookup, "CHATDB_SESSION_IDLE_TTL", &cfg.Session.IdleTTL) },
		func() error { return applyDuration(lookup, "CHATDB_SESSION_SWEEP_INTERVAL", &cfg.Session.SweepInterval) },
		func() error { return applyInt(lookup, "CHATDB_SESSION_MAX", &cfg.Session.MaxSessions) },
		func() error { return applyString(lookup, "CHATDB_AI_PROVIDER", &cfg.AI.Provider) },
		func() error { return applyString(lookup, "CHATDB_AI_BASE_URL", &cfg.AI.BaseURL) },
		func() error { return applyString(lookup, "CHATDB_AI_API_KEY", &cfg.AI.APIKey) },
		func() error { return applyString(lookup, "CHATDB_AI_MODEL", &cfg.AI.Model) },
		func() error { return applyFloat(lookup, "CHATDB_AI_TEMPERATURE", &cfg.AI.Temperature) },
		func() error { return applyDuration(lookup, "CHATDB_AI_TIMEOUT", &cfg.AI.Timeout) },
		func() error { return applyBool(lookup, "CHATDB_AUDIT_ENABLED", &cfg.Audit.Enabled) },
		func() error { return applyString(lookup, "CHATDB_AUDIT_DSN", &cfg.Audit.DSN) },
		func() error { return applyInt(lookup, "CHATDB_AUDIT_MAX_OPEN_CONNS", &cfg.Audit.MaxOpenConns) },
		func() error { return applyInt(lookup, "CHATDB_AUDIT_MAX_IDLE_CONNS", &cfg.Audit.MaxIdleConns) },
		func() error { return applyDuration(lookup, "CHATDB_AUDIT_CONN_MAX_IDLE_TIME", &cfg.Audit.ConnMaxIdleTime) },
		func() error { return applyDuration(lookup, "CHATDB_AUDIT_CONN_MAX_LIFETIME", &cfg.Audit.ConnMaxLifetime) },
		func() error { return applyBool(lookup, "CHATDB_EXPORT_ENABLED", &cfg.Export.Enabled) },
		func() error { return applyString(lookup, "CHATDB_EXPORT_ENDPOINT", &cfg.Export.Endpoint) },
		func() error { return applyString(lookup, "CHATDB_EXPORT_REGION", &cfg.Export.Region) },
		func() error { return applyString(lookup, "CHATDB_EXPORT_BUCKET", &cfg.Export.Bucket) },
		func() error { return applyString(lookup, "CHATDB_EXPORT_ACCESS_KEY", &cfg.Export.AccessKeyID) },
		func() error { return applyString(lookup, "CHATDB_EXPORT_SECRET_KEY", &cfg.Export.SecretAccessKey) },
		func() error { return applyBool(lookup, "CHATDB_EXPORT_USE_SSL", &cfg.Export.UseSSL) },
		func() error { return applyString(lookup, "CHATDB_EXPORT_PREFIX", &cfg.Export.Prefix) },
		func() error { return applyBool(lookup, "CHATDB_EXPORT_AUTO_CREATE_BUCKET", &cfg.Export.AutoCreateBucket) },
		func() error { return applyBool(lookup, "CHATDB_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "CHATDB_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyBool(lookup, "CHATDB_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "CHATDB_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	// The provider's conventional variable is honoured when no ChatDB key is set.
	if cfg.AI.APIKey == "" && strings.EqualFold(cfg.AI.Provider, "gemini") {
		if err := applyString(lookup, "GOOGLE_API_KEY", &cfg.AI.APIKey); err != nil {
			return Config{}, err
		}
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	cfg.AI.Provider = strings.ToLower(cfg.AI.Provider)
	switch cfg.AI.Provider {
	case "gemini":
		setDefault(&cfg.AI.BaseURL, "https://generativelanguage.googleapis.com")
		setDefault(&cfg.AI.Model, "gemini-2.5-flash")
	case "openai":
		setDefault(&cfg.AI.BaseURL, "https://api.openai.com")
		setDefault(&cfg.AI.Model, "gpt-4o-mini")
	default:
		return Config{}, fmt.Errorf("invalid CHATDB_AI_PROVIDER: %q", cfg.AI.Provider)
	}
	cfg.Database.StatementPolicy = strings.ToLower(cfg.Database.StatementPolicy)
	switch cfg.Database.StatementPolicy {
	case PolicyReadOnly, PolicyUnrestricted:
	default:
		return Config{}, fmt.Errorf("invalid CHATDB_SQL_POLICY: %q", cfg.Database.StatementPolicy)
	}
	if cfg.Database.MaxRows <= 0 {
		return Config{}, fmt.Errorf("CHATDB_DB_MAX_ROWS must be > 0")
	}
	if cfg.Audit.Enabled && cfg.Audit.DSN == "" {
		return Config{}, fmt.Errorf("CHATDB_AUDIT_DSN is required when audit is enabled")
	}
	if cfg.Export.Enabled && (cfg.Export.Endpoint == "" || cfg.Export.Bucket == "") {
		return Config{}, fmt.Errorf("export endpoint and bucket are required when export is enabled")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "chatdb-api"},
		HTTP: HTTPConfig{
			Address:      ":8501",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			DefaultSQLitePath: "data/ecommerce_with_employees.db",
			QueryTimeout:      30 * time.Second,
			MaxRows:           1000,
			StatementPolicy:   PolicyReadOnly,
			MySQLHost:         "localhost",
			MySQLPort:         3306,
			MySQLUser:         "root",
		},
		Session: SessionConfig{
			IdleTTL:       30 * time.Minute,
			SweepInterval: time.Minute,
			MaxSessions:   256,
		},
		AI: AIConfig{
			Provider:    "gemini",
			Temperature: 0.1,
			Timeout:     45 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:         false,
			DSN:             "",
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Export: ExportConfig{
			Enabled:          false,
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "chatdb",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18501"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.Export.UseSSL = true
		cfg.Export.AutoCreateBucket = false
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

func setDefault(dst *string, value string) {
	if *dst == "" {
		*dst = value
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
