/*
Package config loads the runtime configuration of the ledger binaries.

PURPOSE:
  One Config value is built at startup and handed to constructors; nothing
  reads the environment after that. Sources, lowest precedence first:

    1. Defaults()
    2. YAML file (-config)
    3. .env file (only for keys not set in the real environment)
    4. Environment variables
    5. Command-line flags (applied by the binaries)

ENVIRONMENT:
  KOPERASI_PORT          HTTP port
  KOPERASI_STORE         sqlite | postgres | memory
  KOPERASI_DB            SQLite path or PostgreSQL DSN
  KOPERASI_LOG_LEVEL     trace | debug | info | warn | error
  KOPERASI_LOG_FORMAT    console | json
  KOPERASI_RULE          value_present | year_gated
  KOPERASI_CUTOFF_YEAR   cutoff for year_gated
  KOPERASI_PROFILE       path to a JSON import profile
  KOPERASI_EXPORT_CRON   cron spec for the billing export
  KOPERASI_EXPORT_DIR    output directory for the billing export
  KOPERASI_TIME_ZONE     time zone of the export schedule

EXAMPLE (koperasi.yaml):
  server:
    port: 8080
  store:
    driver: sqlite
    dsn: koperasi.db
  import:
    rule: year_gated
    cutoff_year: 2026
    billing:
      mandatory_savings: 50000
  export:
    cron: "0 6 1 * *"
    dir: ./exports
    time_zone: Asia/Jakarta
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/koperasi/loan-ledger/factory"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Log    LogConfig    `yaml:"log"`

	// Import is the inline import profile. ProfileFile, when set, replaces it.
	Import      factory.ProfileJSON `yaml:"import"`
	ProfileFile string              `yaml:"profile_file"`

	Export ExportConfig `yaml:"export"`
}

type ServerConfig struct {
	Port          int      `yaml:"port" validate:"min=1,max=65535"`
	CORSOrigins   []string `yaml:"cors_origins"`
	MaxUploadMB   int      `yaml:"max_upload_mb" validate:"min=1,max=512"`
	PreviewRows   int      `yaml:"preview_rows" validate:"min=1,max=100"`
	ShutdownGrace int      `yaml:"shutdown_grace_seconds" validate:"min=0"`
}

type StoreConfig struct {
	Driver string `yaml:"driver" validate:"oneof=sqlite postgres memory"`
	DSN    string `yaml:"dsn" validate:"required_unless=Driver memory"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`
}

// ExportConfig schedules the billing worklist export. An empty Cron
// disables it.
type ExportConfig struct {
	Cron     string `yaml:"cron"`
	Dir      string `yaml:"dir" validate:"required_with=Cron"`
	TimeZone string `yaml:"time_zone"`
}

func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:          8080,
			CORSOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
			MaxUploadMB:   20,
			PreviewRows:   3,
			ShutdownGrace: 30,
		},
		Store: StoreConfig{Driver: DriverSQLite, DSN: "koperasi.db"},
		Log:   LogConfig{Level: "info", Format: "console"},
		Export: ExportConfig{
			Dir:      "exports",
			TimeZone: "Asia/Jakarta",
		},
	}
}

// =============================================================================
// LOADING
// =============================================================================

// Load builds a Config from defaults, the YAML file at path (optional) and
// the environment. envFiles default to ".env"; missing files are ignored.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	dotenv := map[string]string{}
	for _, f := range envFiles {
		values, err := godotenv.Read(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f, err)
		}
		for k, v := range values {
			if _, ok := dotenv[k]; !ok {
				dotenv[k] = v
			}
		}
	}

	if err := cfg.applyEnv(func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = n
		return nil
	}

	if err := num("KOPERASI_PORT", &c.Server.Port); err != nil {
		return err
	}
	str("KOPERASI_STORE", &c.Store.Driver)
	str("KOPERASI_DB", &c.Store.DSN)
	str("KOPERASI_LOG_LEVEL", &c.Log.Level)
	str("KOPERASI_LOG_FORMAT", &c.Log.Format)
	str("KOPERASI_RULE", &c.Import.Rule)
	if err := num("KOPERASI_CUTOFF_YEAR", &c.Import.CutoffYear); err != nil {
		return err
	}
	str("KOPERASI_PROFILE", &c.ProfileFile)
	str("KOPERASI_EXPORT_CRON", &c.Export.Cron)
	str("KOPERASI_EXPORT_DIR", &c.Export.Dir)
	str("KOPERASI_TIME_ZONE", &c.Export.TimeZone)
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

var validate = validator.New()

// Validate checks field constraints and the cron spec.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Export.Cron != "" {
		if _, err := cron.ParseStandard(c.Export.Cron); err != nil {
			return fmt.Errorf("invalid config: export.cron %q: %w", c.Export.Cron, err)
		}
	}
	return nil
}

// Profile resolves the import profile: ProfileFile if set, else Import.
func (c *Config) Profile() (*factory.Profile, error) {
	f := factory.NewProfileFactory()
	if c.ProfileFile != "" {
		return f.LoadProfile(c.ProfileFile)
	}
	return f.FromJSON(c.Import)
}
