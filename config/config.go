// Package config loads station settings from a .env file, environment
// variables and command-line flags. Flags win over environment variables,
// which win over .env values.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ErrMissingStation means the checkpoint or race identifier was not supplied.
// Scanning cannot run without both.
var ErrMissingStation = errors.New("config: checkpoint and race are required (--checkpoint NAME --race NAME)")

// Config holds all station configuration.
type Config struct {
	// Station identity, copied onto every scan.
	Checkpoint string
	Race       string

	// Remote results store (Apps Script web app URL).
	EndpointURL   string
	RemoteTimeout time.Duration

	// Local store. StoreDriver is "sqlite" or "postgres".
	StoreDriver string
	StorePath   string
	DatabaseURL string

	// Operator console
	Debug     bool
	LogFile   string
	Port      string
	JWTSecret string
	Stdin     bool

	// Timings
	ScanThrottle          time.Duration
	SyncInterval          time.Duration
	RosterRefreshInterval time.Duration
	NoticeDuration        time.Duration
	ProbeInterval         time.Duration
	RecentLimit           int

	// MySQL archive, used only by cmd/archive.
	MySQLDSN string

	// Operator credentials, used only by cmd/addoperator.
	OperatorUsername string
	OperatorPin      string
}

// Load reads configuration from .env (if present), the environment and the
// given command-line arguments (without the program name).
func Load(args []string) (*Config, error) {
	v, err := newViper(args)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Checkpoint:            strings.TrimSpace(v.GetString("CHECKPOINT")),
		Race:                  strings.TrimSpace(v.GetString("RACE")),
		EndpointURL:           strings.TrimSpace(v.GetString("ENDPOINT_URL")),
		RemoteTimeout:         v.GetDuration("REMOTE_TIMEOUT"),
		StoreDriver:           strings.ToLower(v.GetString("STORE_DRIVER")),
		StorePath:             v.GetString("STORE_PATH"),
		DatabaseURL:           v.GetString("DATABASE_URL"),
		Debug:                 v.GetBool("DEBUG"),
		LogFile:               v.GetString("LOG_FILE"),
		Port:                  v.GetString("PORT"),
		JWTSecret:             v.GetString("JWT_SECRET"),
		Stdin:                 v.GetBool("STDIN"),
		ScanThrottle:          v.GetDuration("SCAN_THROTTLE"),
		SyncInterval:          v.GetDuration("SYNC_INTERVAL"),
		RosterRefreshInterval: v.GetDuration("ROSTER_REFRESH_INTERVAL"),
		NoticeDuration:        v.GetDuration("NOTICE_DURATION"),
		ProbeInterval:         v.GetDuration("PROBE_INTERVAL"),
		RecentLimit:           v.GetInt("RECENT_LIMIT"),
		MySQLDSN:              v.GetString("MYSQL_DSN"),
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadStore reads only what the tools under cmd/ need to open the local
// store. Station identity is not required.
func LoadStore(args []string) (*Config, error) {
	v, err := newViper(args)
	if err != nil {
		return nil, err
	}
	cfg := &Config{
		StoreDriver: strings.ToLower(v.GetString("STORE_DRIVER")),
		StorePath:   v.GetString("STORE_PATH"),
		DatabaseURL: v.GetString("DATABASE_URL"),
		Debug:       v.GetBool("DEBUG"),
		MySQLDSN:    v.GetString("MYSQL_DSN"),

		OperatorUsername: strings.TrimSpace(v.GetString("OPERATOR_USERNAME")),
		OperatorPin:      v.GetString("OPERATOR_PIN"),
	}
	return cfg, cfg.validateStore()
}

// Station returns the "checkpoint (race)" label shown to operators.
func (c *Config) Station() string {
	return fmt.Sprintf("%s (%s)", c.Checkpoint, c.Race)
}

// JWTKey returns the JWT signing key as a byte slice.
func (c *Config) JWTKey() []byte {
	return []byte(c.JWTSecret)
}

func (c *Config) validate() error {
	if c.Checkpoint == "" || c.Race == "" {
		return ErrMissingStation
	}
	if c.EndpointURL == "" {
		return errors.New("config: ENDPOINT_URL must be set")
	}
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET must be set")
	}
	if c.ScanThrottle < 0 || c.SyncInterval <= 0 || c.RosterRefreshInterval <= 0 || c.ProbeInterval <= 0 {
		return errors.New("config: intervals must be positive")
	}
	return c.validateStore()
}

func (c *Config) validateStore() error {
	switch c.StoreDriver {
	case "sqlite":
		if c.StorePath == "" {
			return errors.New("config: STORE_PATH must be set for the sqlite store")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}
	return nil
}

func newViper(args []string) (*viper.Viper, error) {
	// Silently load .env; OK if the file doesn't exist (production uses real env vars).
	if err := godotenv.Load(); err != nil {
		log.Println("config: no .env file found, using environment variables only")
	}

	v := viper.New()
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("STORE_DRIVER", "sqlite")
	v.SetDefault("STORE_PATH", "data/scans.db")
	v.SetDefault("PORT", ":9000")
	v.SetDefault("DEBUG", false)
	v.SetDefault("SCAN_THROTTLE", 1500*time.Millisecond)
	v.SetDefault("SYNC_INTERVAL", 30*time.Second)
	v.SetDefault("ROSTER_REFRESH_INTERVAL", 5*time.Minute)
	v.SetDefault("NOTICE_DURATION", 5*time.Second)
	v.SetDefault("PROBE_INTERVAL", 10*time.Second)
	v.SetDefault("REMOTE_TIMEOUT", time.Duration(0))
	v.SetDefault("RECENT_LIMIT", 5)

	fs := pflag.NewFlagSet("station", pflag.ContinueOnError)
	fs.String("checkpoint", "", "checkpoint name")
	fs.String("race", "", "race name")
	fs.String("endpoint", "", "results store URL")
	fs.String("store", "", "sqlite store path")
	fs.String("port", "", "console listen address")
	fs.Bool("stdin", false, "read scans from standard input")
	fs.Bool("debug", false, "debug logging")
	fs.String("username", "", "operator username (cmd/addoperator)")
	fs.String("pin", "", "operator pin (cmd/addoperator)")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	binds := map[string]string{
		"CHECKPOINT":        "checkpoint",
		"RACE":              "race",
		"ENDPOINT_URL":      "endpoint",
		"STORE_PATH":        "store",
		"PORT":              "port",
		"STDIN":             "stdin",
		"DEBUG":             "debug",
		"OPERATOR_USERNAME": "username",
		"OPERATOR_PIN":      "pin",
	}
	for key, flag := range binds {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", flag, err)
		}
	}
	return v, nil
}
