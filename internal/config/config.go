package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	ledger "meterbook/internal/ledger/domain"

	"gopkg.in/yaml.v3"
)

const (
	BackendCSV      = "csv"
	BackendPostgres = "postgres"
)

// Config is the process configuration.
type Config struct {
	Application string       `yaml:"application"`
	DataDir     string       `yaml:"data_dir"`
	DefaultBook string       `yaml:"default_book"`
	Tenants     []string     `yaml:"tenants"`
	HTTP        HTTPConfig   `yaml:"http"`
	Logger      LoggerConfig `yaml:"logger"`
	Store       StoreConfig  `yaml:"store"`
	Report      ReportConfig `yaml:"report"`
	Sync        SyncConfig   `yaml:"sync"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggerConfig configures zap.
type LoggerConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

// StoreConfig selects the ledger backend.
type StoreConfig struct {
	Backend     string `yaml:"backend"`
	PostgresDSN string `yaml:"postgres_dsn"`
	Table       string `yaml:"table"`
}

// ReportConfig holds report defaults.
type ReportConfig struct {
	CutoffDate string `yaml:"cutoff_date"`
}

// SyncConfig configures the git status poller.
type SyncConfig struct {
	Enabled  bool          `yaml:"enabled"`
	RepoDir  string        `yaml:"repo_dir"`
	Interval time.Duration `yaml:"interval"`
	Fetch    bool          `yaml:"fetch"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Application: "meterbook",
		DataDir:     "data",
		DefaultBook: "transactions.csv",
		Tenants:     append([]string(nil), ledger.DefaultTenants...),
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Logger: LoggerConfig{
			Level:    "info",
			Encoding: "logfmt",
		},
		Store: StoreConfig{
			Backend: BackendCSV,
		},
		Sync: SyncConfig{
			RepoDir:  ".",
			Interval: 5 * time.Minute,
		},
	}
}

// Load reads the YAML file at path, or METERBOOK_CONFIG when path is empty,
// on top of the defaults and then applies METERBOOK_* environment overrides.
// A missing path only uses defaults and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("METERBOOK_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
		if !filepath.IsAbs(cfg.DataDir) && cfg.DataDir != "" {
			cfg.DataDir = filepath.Join(filepath.Dir(path), cfg.DataDir)
		}
	}
	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) {
	cfg.DataDir = getenvDefault("METERBOOK_DATA_DIR", cfg.DataDir)
	cfg.DefaultBook = getenvDefault("METERBOOK_DEFAULT_BOOK", cfg.DefaultBook)
	if tenants := splitCSV(os.Getenv("METERBOOK_TENANTS")); len(tenants) > 0 {
		cfg.Tenants = tenants
	}
	cfg.HTTP.Addr = getenvDefault("METERBOOK_HTTP_ADDR", cfg.HTTP.Addr)
	cfg.Logger.Level = getenvDefault("METERBOOK_LOG_LEVEL", cfg.Logger.Level)
	cfg.Logger.Encoding = getenvDefault("METERBOOK_LOG_ENCODING", cfg.Logger.Encoding)
	cfg.Store.Backend = getenvDefault("METERBOOK_STORE_BACKEND", cfg.Store.Backend)
	cfg.Store.PostgresDSN = getenvDefault("METERBOOK_POSTGRES_DSN", cfg.Store.PostgresDSN)
	cfg.Report.CutoffDate = getenvDefault("METERBOOK_REPORT_CUTOFF", cfg.Report.CutoffDate)
	cfg.Sync.Enabled = getenvBoolDefault("METERBOOK_SYNC_ENABLED", cfg.Sync.Enabled)
	cfg.Sync.RepoDir = getenvDefault("METERBOOK_SYNC_REPO_DIR", cfg.Sync.RepoDir)
	cfg.Sync.Interval = getenvDurationDefault("METERBOOK_SYNC_INTERVAL", cfg.Sync.Interval)
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	fe := fieldErrors{}
	if strings.TrimSpace(c.DefaultBook) == "" {
		fe.add("default_book", "cannot be empty")
	}
	if _, err := ledger.NewTenantSet(c.Tenants); err != nil {
		fe.add("tenants", err.Error())
	}
	switch c.Store.Backend {
	case BackendCSV:
		if strings.TrimSpace(c.DataDir) == "" {
			fe.add("data_dir", "cannot be empty")
		}
	case BackendPostgres:
		if c.Store.PostgresDSN == "" {
			fe.add("store.postgres_dsn", "required for postgres backend")
		}
	default:
		fe.add("store.backend", fmt.Sprintf("unknown backend %q", c.Store.Backend))
	}
	if c.Report.CutoffDate != "" {
		if _, err := time.Parse("2006-01-02", c.Report.CutoffDate); err != nil {
			fe.add("report.cutoff_date", "must be YYYY-MM-DD")
		}
	}
	if c.Sync.Enabled && c.Sync.Interval <= 0 {
		fe.add("sync.interval", "must be positive")
	}
	return fe.err()
}

// TenantSet builds the configured tenant set.
func (c Config) TenantSet() (ledger.TenantSet, error) {
	return ledger.NewTenantSet(c.Tenants)
}

type fieldErrors map[string]string

func (fe fieldErrors) add(field, msg string) { fe[field] = msg }

func (fe fieldErrors) err() error {
	if len(fe) == 0 {
		return nil
	}
	fields := make([]string, 0, len(fe))
	for field := range fe {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+fe[field])
	}
	return fmt.Errorf("config: invalid %s", strings.Join(parts, "; "))
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvBoolDefault(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDurationDefault(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func splitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	var result []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}
