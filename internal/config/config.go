// Package config loads run settings from the environment and an optional
// dotenv file.
//
// Precedence, highest first: process environment, env file, defaults.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// DefaultEnvFile is read when present and no explicit file is given.
const DefaultEnvFile = ".env"

// Settings is the resolved configuration of one run.
type Settings struct {
	KaggleDataset  string
	KaggleUsername string
	KaggleKey      string

	SourceURL      string
	SourceFile     string
	SourceEncoding string
	DataDir        string

	StoreKind  string
	SQLitePath string
	StoreDSN   string

	LogLevel string

	MinFactCoverage float64
	FailOnWarnings  bool

	MetricsBackend string
	PushgatewayURL string
	MetricsTags    string

	// Warnings are non-fatal problems found while loading (for example an
	// unparseable threshold that fell back to its default). They are
	// returned rather than logged because the logger is built from Settings.
	Warnings []string
}

var defaults = map[string]any{
	"kaggle_dataset":       "faresashraf1001/supermarket-sales",
	"source_encoding":      "utf-8",
	"data_dir":             "data",
	"store_kind":           "sqlite",
	"sqlite_db_path":       "db/supermarket_sales.sqlite",
	"log_level":            "INFO",
	"dq_min_fact_coverage": "0.98",
	"dq_fail_on_warnings":  "false",
	"metrics_backend":      "none",
	"pushgateway_url":      "http://localhost:9091",
}

// Load resolves Settings.
//
// envFile names a dotenv file. When empty, DefaultEnvFile is read if it
// exists; an explicitly named file must exist.
//
// Errors:
//   - unreadable env file
//   - unknown STORE_KIND, SOURCE_ENCODING or METRICS_BACKEND
//   - STORE_DSN missing for postgres/mssql
func Load(envFile string) (Settings, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()

	path := strings.TrimSpace(envFile)
	required := path != ""
	if !required {
		path = DefaultEnvFile
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if required {
		return Settings{}, fmt.Errorf("config: env file %s: %w", path, err)
	}

	get := func(key string) string { return strings.TrimSpace(v.GetString(key)) }

	s := Settings{
		KaggleDataset:  get("kaggle_dataset"),
		KaggleUsername: get("kaggle_username"),
		KaggleKey:      get("kaggle_key"),
		SourceURL:      get("source_url"),
		SourceFile:     get("source_file"),
		SourceEncoding: strings.ToLower(get("source_encoding")),
		DataDir:        get("data_dir"),
		StoreKind:      strings.ToLower(get("store_kind")),
		SQLitePath:     get("sqlite_db_path"),
		StoreDSN:       get("store_dsn"),
		LogLevel:       strings.ToUpper(get("log_level")),
		MetricsBackend: strings.ToLower(get("metrics_backend")),
		PushgatewayURL: get("pushgateway_url"),
		MetricsTags:    get("metrics_tags"),
	}

	s.FailOnWarnings = ParseBool(get("dq_fail_on_warnings"))

	cov, warn := ParseCoverage(get("dq_min_fact_coverage"), 0.98)
	s.MinFactCoverage = cov
	if warn != "" {
		s.Warnings = append(s.Warnings, "DQ_MIN_FACT_COVERAGE: "+warn)
	}

	var err error
	if s.DataDir, err = absPath(s.DataDir); err != nil {
		return Settings{}, err
	}
	if s.SourceFile != "" {
		if s.SourceFile, err = absPath(s.SourceFile); err != nil {
			return Settings{}, err
		}
	}
	if s.StoreKind == "sqlite" && !strings.HasPrefix(s.SQLitePath, "file:") && s.SQLitePath != ":memory:" {
		if s.SQLitePath, err = absPath(s.SQLitePath); err != nil {
			return Settings{}, err
		}
	}

	if err := s.validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s Settings) validate() error {
	var errs []error

	switch s.StoreKind {
	case "sqlite":
	case "postgres", "mssql":
		if s.StoreDSN == "" {
			errs = append(errs, fmt.Errorf("STORE_DSN is required for STORE_KIND=%s", s.StoreKind))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported STORE_KIND=%q", s.StoreKind))
	}

	switch s.SourceEncoding {
	case "utf-8", "utf8", "latin1", "iso-8859-1", "windows-1252", "cp1252":
	default:
		errs = append(errs, fmt.Errorf("unsupported SOURCE_ENCODING=%q", s.SourceEncoding))
	}

	switch s.MetricsBackend {
	case "", "none", "datadog", "pushgateway":
	default:
		errs = append(errs, fmt.Errorf("unsupported METRICS_BACKEND=%q", s.MetricsBackend))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("config: %w", errors.Join(errs...))
}

// StoreDSNFor returns the DSN handed to the storage opener for s.StoreKind.
func (s Settings) StoreDSNFor() string {
	if s.StoreKind == "sqlite" {
		return s.SQLitePath
	}
	return s.StoreDSN
}

// ParseBool treats 1, true, t, yes, y and on (any case) as true.
// Everything else, including the empty string, is false.
func ParseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

// ParseCoverage parses a coverage threshold and clamps it to [0,1].
// An empty or unparseable value yields def and, for unparseable input, a
// warning message.
func ParseCoverage(raw string, def float64) (float64, string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, ""
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) {
		return def, fmt.Sprintf("invalid value %q; using default %v", raw, def)
	}
	switch {
	case f < 0:
		return 0, ""
	case f > 1:
		return 1, ""
	}
	return f, ""
}

func absPath(p string) (string, error) {
	if p == "" || filepath.IsAbs(p) {
		return p, nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("config: resolve %s: %w", p, err)
	}
	return abs, nil
}
