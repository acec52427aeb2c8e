// Package config loads settings from config.yaml and CHIRPGRAM_-prefixed
// environment variables, with a .env file loaded first for local runs.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "CHIRPGRAM_"

type Config struct {
	// Env selects production vs local defaults ("production" or "local").
	Env string `koanf:"env"`

	HTTP struct {
		Host string `koanf:"host"`
		Port int    `koanf:"port"`
	} `koanf:"http"`

	Database struct {
		Path string `koanf:"path"`
	} `koanf:"database"`

	Telegram struct {
		Token      string `koanf:"token"`
		APIBaseURL string `koanf:"api_base_url"`
	} `koanf:"telegram"`

	X struct {
		ClientID     string `koanf:"client_id"`
		ClientSecret string `koanf:"client_secret"`
		CallbackURL  string `koanf:"callback_url"`
		APIBaseURL   string `koanf:"api_base_url"`
	} `koanf:"x"`

	Compose struct {
		APIKey  string `koanf:"api_key"`
		BaseURL string `koanf:"base_url"`
		Model   string `koanf:"model"`
	} `koanf:"compose"`

	Log struct {
		Level string `koanf:"level"`
		JSON  bool   `koanf:"json"`
	} `koanf:"log"`
}

// Load reads configuration and validates the required secrets. A missing
// required value is a startup failure, not a runtime one.
func Load(path string) (*Config, error) {
	// .env is optional, local convenience only.
	_ = godotenv.Load()

	k := koanf.New(".")

	config := &Config{}
	config.Env = "local"
	config.HTTP.Host = "127.0.0.1"
	config.HTTP.Port = 8080
	config.Database.Path = "chirpgram.db"
	config.Log.Level = "info"

	if path == "" {
		path = "config.yaml"
	}
	// The file is optional (env vars can carry everything), but a file
	// that exists and fails to parse is a startup error, not something to
	// skip past silently.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load config file %s: %w", path, err)
	}

	// CHIRPGRAM_X__CLIENT_ID -> x.client_id: double underscore separates
	// levels, single underscores stay inside a key.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	if err := k.Unmarshal("", config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if config.Production() {
		config.HTTP.Host = "0.0.0.0"
		config.Log.JSON = true
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Production reports whether production defaults apply.
func (c *Config) Production() bool {
	return c.Env == "production"
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

func (c *Config) validate() error {
	var missing []string
	if c.Telegram.Token == "" {
		missing = append(missing, "telegram.token")
	}
	if c.X.ClientID == "" {
		missing = append(missing, "x.client_id")
	}
	if c.X.ClientSecret == "" {
		missing = append(missing, "x.client_secret")
	}
	if c.X.CallbackURL == "" {
		missing = append(missing, "x.callback_url")
	}
	if c.Compose.APIKey == "" {
		missing = append(missing, "compose.api_key")
	}
	if c.Database.Path == "" {
		missing = append(missing, "database.path")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}
