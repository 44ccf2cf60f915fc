package authsession

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authsession/tokenstore"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override read by LoadConfig.
const EnvPrefix = "AUTHSESSION_"

// LoadConfig reads a YAML file over DefaultConfig and applies AUTHSESSION_*
// environment overrides. An empty path skips the file. The result is not validated;
// Build does that.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decodeConfig(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeConfig(raw []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overrides the settings operators usually vary per deployment.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}

	str("BASE_URL", &cfg.BaseURL)
	duration("ACCESS_TOKEN_MAX_AGE", &cfg.AccessToken.MaxAge)
	duration("REFRESH_TOKEN_MAX_AGE", &cfg.RefreshToken.MaxAge)
	boolean("REFRESH_TOKEN_ENABLED", &cfg.RefreshToken.Enabled)
	boolean("REFRESH_TOKEN_ROTATE", &cfg.RefreshToken.Rotate)

	if v, ok := lookup(EnvPrefix + "STORAGE_MODE"); ok {
		mode, err := tokenstore.ParseMode(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %sSTORAGE_MODE: %w", EnvPrefix, err))
		} else {
			cfg.Storage.Mode = mode
		}
	}
	boolean("COOKIE_SECURE", &cfg.Storage.Cookie.Secure)
	str("COOKIE_DOMAIN", &cfg.Storage.Cookie.Domain)
	str("REDIS_ADDR", &cfg.Storage.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Storage.Redis.Password)
	integer("REDIS_DB", &cfg.Storage.Redis.DB)

	boolean("CROSS_TAB_ENABLED", &cfg.CrossTab.Enabled)
	boolean("EVENTS_ENABLED", &cfg.Events.Enabled)
	boolean("METRICS_ENABLED", &cfg.Metrics.Enabled)

	if v, ok := lookup(EnvPrefix + "LOG_LEVEL"); ok {
		cfg.Logging.Level = strings.ToLower(v)
	}
	str("LOG_FORMAT", &cfg.Logging.Format)
	duration("HTTP_TIMEOUT", &cfg.HTTP.Timeout)

	return errors.Join(errs...)
}
