// Package config loads fieldsync configuration.
//
// Sources are layered, later ones overriding earlier ones:
//
//  1. Defaults built into the binary
//  2. An optional YAML file (--config, FIELDSYNC_CONFIG, or ./fieldsync.yaml)
//  3. FIELDSYNC_* environment variables
//
// Environment names map onto config paths by replacing the section dot with
// an underscore: FIELDSYNC_RETRY_MAX_ATTEMPTS sets retry.max_attempts and
// FIELDSYNC_CACHE_TTLS_WEATHER sets cache.ttls.weather.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/roach88/fieldsync/internal/cache"
	"github.com/roach88/fieldsync/internal/connectivity"
	"github.com/roach88/fieldsync/internal/logging"
	"github.com/roach88/fieldsync/internal/provider"
	"github.com/roach88/fieldsync/internal/retry"
	"github.com/roach88/fieldsync/internal/store"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FIELDSYNC_"

// PathEnvVar names the config file when --config is not given.
const PathEnvVar = EnvPrefix + "CONFIG"

// DefaultPaths are tried in order when no path is given.
var DefaultPaths = []string{
	"fieldsync.yaml",
	"fieldsync.yml",
}

// Map-valued sections accept arbitrary category keys from the environment.
var mapSections = []string{
	"cache.ttls",
	"cache.schema_versions",
}

// StorageConfig selects the persistent store backend.
type StorageConfig struct {
	// Backend is sqlite, badger or memory.
	Backend string `koanf:"backend" validate:"oneof=sqlite badger memory"`

	// Path is the sqlite file or badger directory.
	Path string `koanf:"path" validate:"required_unless=Backend memory"`
}

// Config is the complete fieldsync configuration.
type Config struct {
	Storage      StorageConfig       `koanf:"storage"`
	Retry        retry.Config        `koanf:"retry"`
	Connectivity connectivity.Config `koanf:"connectivity"`
	Cache        cache.Policy        `koanf:"cache"`
	Provider     provider.Config     `koanf:"provider"`
	Logging      logging.Config      `koanf:"logging"`
}

// Default returns the built-in configuration.
func Default() *Config {
	log := logging.DefaultConfig()
	log.Output = nil

	return &Config{
		Storage: StorageConfig{
			Backend: store.BackendSQLite,
			Path:    "fieldsync.db",
		},
		Retry:        retry.DefaultConfig(),
		Connectivity: connectivity.DefaultConfig(),
		Cache:        cache.DefaultPolicy(),
		Logging:      log,
	}
}

// Load reads configuration from defaults, the config file and the
// environment, then validates it. An explicit path that does not exist is
// an error; a missing default file is not.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	path, err := resolvePath(path)
	if err != nil {
		return nil, err
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform(k.Keys())), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.fillPolicy()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolvePath picks the config file: explicit path, then PathEnvVar, then
// the first existing DefaultPaths entry.
func resolvePath(path string) (string, error) {
	if path == "" {
		path = os.Getenv(PathEnvVar)
	}
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return path, nil
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// envTransform maps FIELDSYNC_SECTION_FIELD to section.field for the known
// keys. Unknown variables are skipped.
func envTransform(keys []string) func(string) string {
	known := make(map[string]string, len(keys))
	for _, k := range keys {
		known[strings.ReplaceAll(k, ".", "_")] = k
	}

	return func(name string) string {
		name = strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
		if name == "config" {
			return ""
		}
		if k, ok := known[name]; ok {
			return k
		}
		for _, section := range mapSections {
			prefix := strings.ReplaceAll(section, ".", "_") + "_"
			if rest, ok := strings.CutPrefix(name, prefix); ok && rest != "" {
				return section + "." + rest
			}
		}
		return ""
	}
}

// fillPolicy restores default TTLs for categories a file or environment
// override left out. A partial ttls map replaces the default map wholesale
// during merging.
func (c *Config) fillPolicy() {
	def := cache.DefaultPolicy()
	if c.Cache.TTLs == nil {
		c.Cache.TTLs = make(map[cache.Category]time.Duration, len(def.TTLs))
	}
	for cat, ttl := range def.TTLs {
		if _, ok := c.Cache.TTLs[cat]; !ok {
			c.Cache.TTLs[cat] = ttl
		}
	}
	if c.Cache.SchemaVersions == nil {
		c.Cache.SchemaVersions = make(map[cache.Category]int)
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every section against its constraints.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = describe(fe)
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required_unless":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
