// Package config loads oproxy settings from an optional YAML file and
// OPROXY_* environment variables.
//
// Lookup order for the file: the path passed to Load, then
// .oproxy/config.yaml in the working directory. A missing file is not an
// error; defaults apply. Environment variables override the file, with
// dots replaced by underscores (store.path -> OPROXY_STORE_PATH).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Backend names a persistent-map backend.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Config holds all oproxy settings.
type Config struct {
	Store      StoreConfig      `mapstructure:"store"`
	Resources  ResourcesConfig  `mapstructure:"resources"`
	Extensions ExtensionsConfig `mapstructure:"extensions"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Watch      WatchConfig      `mapstructure:"watch"`
}

// StoreConfig selects where the tree is persisted.
type StoreConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=sqlite badger memory"`
	Path    string `mapstructure:"path" validate:"required_unless=Backend memory"`
	Key     string `mapstructure:"key" validate:"required"`
}

// ResourcesConfig locates the resources the tree binds.
type ResourcesConfig struct {
	// Root is the directory filesystem locators are relative to.
	Root string `mapstructure:"root" validate:"required"`
}

// ExtensionsConfig tunes extension handling.
type ExtensionsConfig struct {
	MaxDepth int           `mapstructure:"max_depth" validate:"min=1,max=100"`
	CacheTTL time.Duration `mapstructure:"cache_ttl" validate:"min=0"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"loglevel"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// MetricsConfig enables the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// WatchConfig tunes the resource watcher.
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce" validate:"min=0"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Store: StoreConfig{
			Backend: BackendSQLite,
			Path:    ".oproxy/store.db",
			Key:     "oproxies",
		},
		Resources: ResourcesConfig{Root: "."},
		Extensions: ExtensionsConfig{
			MaxDepth: 10,
			CacheTTL: 5 * time.Minute,
		},
		Log:   LogConfig{Level: "info", Format: "text"},
		Watch: WatchConfig{Debounce: 100 * time.Millisecond},
	}
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("loglevel", validateLogLevel)
}

func validateLogLevel(fl validator.FieldLevel) bool {
	var l slog.Level
	return l.UnmarshalText([]byte(fl.Field().String())) == nil
}

// Load reads the configuration. path may be empty.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Defaults())

	v.SetEnvPrefix("OPROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".oproxy")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.key", d.Store.Key)
	v.SetDefault("resources.root", d.Resources.Root)
	v.SetDefault("extensions.max_depth", d.Extensions.MaxDepth)
	v.SetDefault("extensions.cache_ttl", d.Extensions.CacheTTL)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
}

// Validate checks every field and reports all failures at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// SlogLevel returns the configured level. Validate guarantees it parses.
func (c LogConfig) SlogLevel() slog.Level {
	var l slog.Level
	_ = l.UnmarshalText([]byte(c.Level))
	return l
}
