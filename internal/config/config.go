// Package config loads process configuration from MATTONE_* environment
// variables and an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "MATTONE"

type Config struct {
	Server struct {
		ListenAddr string `mapstructure:"listen_addr"`
		CORSOrigin string `mapstructure:"cors_origin"`
		PublicURL  string `mapstructure:"public_url"`
	} `mapstructure:"server"`
	Database struct {
		Path          string `mapstructure:"path"`
		MigrationsDir string `mapstructure:"migrations_dir"`
	} `mapstructure:"database"`
	Relay struct {
		HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
		QueueSize         int           `mapstructure:"queue_size"`
	} `mapstructure:"relay"`
	OIDC struct {
		Issuer       string `mapstructure:"issuer"`
		ClientID     string `mapstructure:"client_id"`
		ClientSecret string `mapstructure:"client_secret"`
		RedirectURL  string `mapstructure:"redirect_url"`
	} `mapstructure:"oidc"`
	Cognito struct {
		Region     string `mapstructure:"region"`
		UserPoolID string `mapstructure:"user_pool_id"`
	} `mapstructure:"cognito"`
	GeoIP struct {
		DBPath string `mapstructure:"db_path"`
	} `mapstructure:"geoip"`
	Playlist struct {
		MaxBytes     int64         `mapstructure:"max_bytes"`
		FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	} `mapstructure:"playlist"`
	Housekeeping struct {
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"housekeeping"`
}

var defaults = map[string]any{
	"server.listen_addr":       ":8080",
	"server.cors_origin":       "",
	"server.public_url":        "",
	"database.path":            "./data/mattone.db",
	"database.migrations_dir":  "",
	"relay.heartbeat_interval": "30s",
	"relay.queue_size":         16,
	"oidc.issuer":              "",
	"oidc.client_id":           "",
	"oidc.client_secret":       "",
	"oidc.redirect_url":        "",
	"cognito.region":           "",
	"cognito.user_pool_id":     "",
	"geoip.db_path":            "",
	"playlist.max_bytes":       20 << 20,
	"playlist.fetch_timeout":   "30s",
	"housekeeping.interval":    "1h",
}

// Load builds the configuration. With an empty file it looks for an
// optional config.yaml in . and ./config; a named file must exist.
// Environment variables override file values, e.g. MATTONE_SERVER_LISTEN_ADDR.
func Load(file string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", file, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	if cfg.OIDC.RedirectURL == "" && cfg.Server.PublicURL != "" {
		cfg.OIDC.RedirectURL = strings.TrimRight(cfg.Server.PublicURL, "/") + "/auth/callback"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr must be set"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path must be set"))
	}
	if c.Relay.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("relay.heartbeat_interval must be positive"))
	}
	if c.Relay.QueueSize <= 0 {
		errs = append(errs, errors.New("relay.queue_size must be positive"))
	}
	if c.Playlist.MaxBytes <= 0 {
		errs = append(errs, errors.New("playlist.max_bytes must be positive"))
	}
	if c.Playlist.FetchTimeout <= 0 {
		errs = append(errs, errors.New("playlist.fetch_timeout must be positive"))
	}
	if c.Housekeeping.Interval <= 0 {
		errs = append(errs, errors.New("housekeeping.interval must be positive"))
	}
	if (c.Cognito.Region == "") != (c.Cognito.UserPoolID == "") {
		errs = append(errs, errors.New("cognito.region and cognito.user_pool_id must be set together"))
	}
	if c.IssuerURL() != "" && c.OIDC.ClientID == "" {
		errs = append(errs, errors.New("oidc.client_id must be set when an issuer is configured"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// IssuerURL is oidc.issuer, or the Cognito user pool issuer derived from
// cognito.region and cognito.user_pool_id.
func (c *Config) IssuerURL() string {
	if c.OIDC.Issuer != "" {
		return strings.TrimRight(c.OIDC.Issuer, "/")
	}
	if c.Cognito.Region != "" && c.Cognito.UserPoolID != "" {
		return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", c.Cognito.Region, c.Cognito.UserPoolID)
	}
	return ""
}

// LoginEnabled reports whether the browser authorization-code flow can run.
func (c *Config) LoginEnabled() bool {
	return c.IssuerURL() != "" && c.OIDC.ClientSecret != "" && c.OIDC.RedirectURL != ""
}
