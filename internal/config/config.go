package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the persistent application configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Session   SessionConfig   `json:"session"`
	Payments  PaymentsConfig  `json:"payments"`
	Log       LogConfig       `json:"log"`
	RateLimit RateLimitConfig `json:"rate_limit"`

	// DataDir holds generated documents, logs and the audit event file.
	DataDir string `json:"data_dir"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Addr           string   `json:"addr"`
	CORSOrigins    []string `json:"cors_origins"`
	ReadTimeout    Duration `json:"read_timeout"`
	WriteTimeout   Duration `json:"write_timeout"`
	DebugEndpoints bool     `json:"debug_endpoints"`
}

// DatabaseConfig locates the SQLite file. ":memory:" is accepted.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// SessionConfig controls login sessions
type SessionConfig struct {
	TTL        Duration `json:"ttl"`
	CookieName string   `json:"cookie_name"`
	Secure     bool     `json:"secure"`
}

// PaymentsConfig tunes the payment simulator
type PaymentsConfig struct {
	PixKey             string  `json:"pix_key"`
	CardApprovalRate   float64 `json:"card_approval_rate"`
	SingleContestPrice float64 `json:"single_contest_price"`
	PremiumPrice       float64 `json:"premium_price"`
	PremiumDays        int     `json:"premium_days"`
}

// LogConfig holds logging preferences
type LogConfig struct {
	Level string `json:"level"` // debug, info, warn, error
	Dir   string `json:"dir"`   // defaults to <data_dir>/logs
}

// RateLimitConfig throttles the auth endpoints per client IP
type RateLimitConfig struct {
	AuthPerMinute int `json:"auth_per_minute"`
	Burst         int `json:"burst"`
}

// Duration is a time.Duration stored as a string like "24h" in JSON.
type Duration time.Duration

// MarshalJSON writes the duration in time.Duration string form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts "90s"-style strings or a number of seconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("invalid duration %s", b)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		Server: ServerConfig{
			Addr:         ":5000",
			CORSOrigins:  []string{"*"},
			ReadTimeout:  Duration(15 * time.Second),
			WriteTimeout: Duration(30 * time.Second),
		},
		Database: DatabaseConfig{
			Path: filepath.Join(dataDir, "contestare.db"),
		},
		Session: SessionConfig{
			TTL:        Duration(7 * 24 * time.Hour),
			CookieName: "contestare_session",
		},
		Payments: PaymentsConfig{
			PixKey:             "057.195.456-11",
			CardApprovalRate:   0.9,
			SingleContestPrice: 19.90,
			PremiumPrice:       69.90,
			PremiumDays:        30,
		},
		Log: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			AuthPerMinute: 20,
			Burst:         5,
		},
		DataDir: dataDir,
	}
}

// DefaultDataDir is ~/.contestare, or ./.contestare when there is no home.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".contestare"
	}
	return filepath.Join(home, ".contestare")
}

// ConfigPath returns the path to the config file
func ConfigPath() string {
	return filepath.Join(DefaultDataDir(), "config.json")
}

// Load reads config from path (ConfigPath when empty). A missing file
// yields defaults. Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		// Unmarshal over the defaults so omitted keys keep their values
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.AutoPopulateFromEnv()
	cfg.fillDerived()
	return cfg, cfg.Validate()
}

// LoadEnvFile loads KEY=value pairs from a .env file into the process
// environment without overriding variables that are already set. A missing
// file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Save writes config to path (ConfigPath when empty)
func (c *Config) Save(path string) error {
	if path == "" {
		path = ConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// AutoPopulateFromEnv applies environment overrides
func (c *Config) AutoPopulateFromEnv() {
	if v := os.Getenv("CONTESTARE_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.Server.CORSOrigins = origins
	}
	if v := os.Getenv("CONTESTARE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("CONTESTARE_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("CONTESTARE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CONTESTARE_PIX_KEY"); v != "" {
		c.Payments.PixKey = v
	}
	if v := os.Getenv("CONTESTARE_DEBUG_ENDPOINTS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Server.DebugEndpoints = b
		}
	}
}

func (c *Config) fillDerived() {
	if c.Log.Dir == "" {
		c.Log.Dir = filepath.Join(c.DataDir, "logs")
	}
}

// DocumentDir is where generated contest letters are written.
func (c *Config) DocumentDir() string {
	return filepath.Join(c.DataDir, "documents")
}

// EventLogPath is the JSONL audit event file.
func (c *Config) EventLogPath() string {
	return filepath.Join(c.DataDir, "events.jsonl")
}

// Validate rejects values the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if c.Payments.CardApprovalRate < 0 || c.Payments.CardApprovalRate > 1 {
		return fmt.Errorf("payments.card_approval_rate must be in [0,1], got %v", c.Payments.CardApprovalRate)
	}
	if c.Payments.PremiumDays <= 0 {
		return fmt.Errorf("payments.premium_days must be positive, got %d", c.Payments.PremiumDays)
	}
	if c.Session.TTL <= 0 {
		return errors.New("session.ttl must be positive")
	}
	return nil
}
