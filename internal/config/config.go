// Package config resolves runtime settings from flags, KURZFASSUNG_*
// environment variables, an optional .env file and built-in defaults, in
// that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lotas/kurzfassung/internal/storage"
	"github.com/lotas/kurzfassung/internal/summarize"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Keys.
const (
	KeyPort     = "port"
	KeyDB       = "db"
	KeyKeyring  = "keyring"
	KeyEndpoint = "endpoint"
	KeyModel    = "model"
	KeyLogDir   = "log-dir"
	KeyTimeout  = "timeout"
	KeyMetrics  = "metrics"
	KeyProfile  = "profile"

	KeyTraceExporter = "trace-exporter"
	KeyTraceEndpoint = "trace-endpoint"
)

const (
	DefaultPort    = 19292
	DefaultTimeout = 60 * time.Second
	envPrefix      = "KURZFASSUNG"
)

// Config is the resolved configuration.
type Config struct {
	Port     int
	DBPath   string
	Keyring  bool
	Endpoint string
	Model    string
	LogDir   string
	Timeout  time.Duration
	Metrics  bool
	// Profile is the Firefox profile `page` reads; empty means the default.
	Profile  string

	TraceExporter string
	TraceEndpoint string
}

// DataDir is ~/.local/share/kurzfassung.
func DataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "kurzfassung"), nil
}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyPort, DefaultPort)
	v.SetDefault(KeyKeyring, false)
	v.SetDefault(KeyModel, summarize.DefaultModel)
	v.SetDefault(KeyTimeout, DefaultTimeout)
	v.SetDefault(KeyMetrics, true)
	v.SetDefault(KeyProfile, "")
	v.SetDefault(KeyTraceExporter, "none")
	v.SetDefault(KeyTraceEndpoint, "")
	if path, err := storage.DefaultDBPath(); err == nil {
		v.SetDefault(KeyDB, path)
	}
	if dir, err := DataDir(); err == nil {
		v.SetDefault(KeyLogDir, dir)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// RegisterFlags adds the persistent flags shared by every command.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Int(KeyPort, DefaultPort, "WebSocket port for the browser extension")
	fs.String(KeyDB, "", "settings database path")
	fs.Bool(KeyKeyring, false, "store the API key in the OS keychain instead of the database")
	fs.String(KeyEndpoint, "", "override the generateContent endpoint URL")
	fs.String(KeyModel, summarize.DefaultModel, "Gemini model name")
	fs.String(KeyLogDir, "", "directory for kurzfassung.log")
	fs.Duration(KeyTimeout, DefaultTimeout, "HTTP timeout for summarization requests")
	fs.Bool(KeyMetrics, true, "serve Prometheus metrics on /metrics")
	fs.String(KeyTraceExporter, "none", "span exporter: none or otlp")
	fs.String(KeyTraceEndpoint, "", "OTLP/HTTP collector host:port (default: OTEL_EXPORTER_OTLP_ENDPOINT)")
}

// RegisterProfileFlag adds --profile to the commands that read a Firefox
// session.
func RegisterProfileFlag(fs *pflag.FlagSet) {
	fs.String(KeyProfile, "", "Firefox profile name (env: KURZFASSUNG_PROFILE)")
}

// BindFlags binds every registered flag in fs to v.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	keys := []string{
		KeyPort, KeyDB, KeyKeyring, KeyEndpoint, KeyModel, KeyLogDir, KeyTimeout, KeyMetrics,
		KeyProfile, KeyTraceExporter, KeyTraceEndpoint,
	}
	for _, key := range keys {
		f := fs.Lookup(key)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", key, err)
		}
	}
	return nil
}

// LoadDotEnv loads path into the process environment. A missing file is not
// an error; variables already set are kept.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Load reads the resolved values out of v.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Port:     v.GetInt(KeyPort),
		DBPath:   v.GetString(KeyDB),
		Keyring:  v.GetBool(KeyKeyring),
		Endpoint: v.GetString(KeyEndpoint),
		Model:    v.GetString(KeyModel),
		LogDir:   v.GetString(KeyLogDir),
		Timeout:  v.GetDuration(KeyTimeout),
		Metrics:  v.GetBool(KeyMetrics),
		Profile:  v.GetString(KeyProfile),

		TraceExporter: v.GetString(KeyTraceExporter),
		TraceEndpoint: v.GetString(KeyTraceEndpoint),
	}

	if cfg.Port < 0 || cfg.Port > 65535 {
		return cfg, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.Timeout <= 0 {
		return cfg, fmt.Errorf("timeout must be positive, got %s", cfg.Timeout)
	}
	if cfg.Model == "" {
		cfg.Model = summarize.DefaultModel
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = summarize.EndpointForModel(cfg.Model)
	}
	if cfg.DBPath == "" {
		path, err := storage.DefaultDBPath()
		if err != nil {
			return cfg, err
		}
		cfg.DBPath = path
	}
	if cfg.LogDir == "" {
		dir, err := DataDir()
		if err != nil {
			return cfg, err
		}
		cfg.LogDir = dir
	}
	return cfg, nil
}
