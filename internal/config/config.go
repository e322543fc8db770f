// Package config provides configuration loading for searchgate.
//
// Configuration is loaded from a YAML file, then overridden by environment
// variables. Every component config lives with its component; this package
// only aggregates them and owns the loading/validation machinery.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fernwehlabs/searchgate/internal/cache"
	"github.com/fernwehlabs/searchgate/internal/embeddings"
	httpserver "github.com/fernwehlabs/searchgate/internal/http"
	"github.com/fernwehlabs/searchgate/internal/logging"
	"github.com/fernwehlabs/searchgate/internal/quota"
	"github.com/fernwehlabs/searchgate/internal/search"
	"github.com/fernwehlabs/searchgate/internal/tracking"
	"github.com/fernwehlabs/searchgate/internal/vectorstore"
)

// Config holds the complete searchgate configuration.
type Config struct {
	Server      ServerConfig              `koanf:"server"`
	Logging     logging.Config            `koanf:"logging"`
	NATS        NATSConfig                `koanf:"nats"`
	Search      search.Config             `koanf:"search"`
	Quota       quota.Limits              `koanf:"quota"`
	Cache       cache.Config              `koanf:"cache"`
	Tracking    tracking.Config           `koanf:"tracking"`
	VectorStore vectorstore.ChromemConfig `koanf:"vectorstore"`
	Engine      vectorstore.EngineConfig  `koanf:"engine"`
	Embeddings  embeddings.Config         `koanf:"embeddings"`
	Auth        AuthConfig                `koanf:"auth"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// HTTP returns the transport-layer view of the server configuration.
func (s ServerConfig) HTTP() *httpserver.Config {
	return &httpserver.Config{Host: s.Host, Port: s.Port}
}

// NATSConfig holds the JetStream connection configuration. When Enabled is
// false every NATS-backed store falls back to its in-memory implementation,
// which is only suitable for single-instance deployments.
type NATSConfig struct {
	Enabled       bool          `koanf:"enabled"`
	URL           string        `koanf:"url"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
}

// TokenIdentity maps a bearer token to its principal.
type TokenIdentity struct {
	UserID string `koanf:"user_id"`
	OrgID  string `koanf:"org_id"`
}

// AuthConfig holds the static bearer-token table.
type AuthConfig struct {
	Tokens map[string]TokenIdentity `koanf:"tokens"`
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout cannot be negative"))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, fmt.Errorf("nats.url is required when nats.enabled is true"))
	}
	if c.Search.UserLimit < 1 {
		errs = append(errs, fmt.Errorf("search.user_limit must be positive, got %d", c.Search.UserLimit))
	}
	if c.Search.OrgLimit < 1 {
		errs = append(errs, fmt.Errorf("search.org_limit must be positive, got %d", c.Search.OrgLimit))
	}
	if c.Quota.Default < 0 {
		errs = append(errs, fmt.Errorf("quota.default cannot be negative, got %d", c.Quota.Default))
	}
	if c.Cache.FastMaxEntries < 1 {
		errs = append(errs, fmt.Errorf("cache.fast_max_entries must be positive, got %d", c.Cache.FastMaxEntries))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL))
	}
	if c.Tracking.Workers < 1 {
		errs = append(errs, fmt.Errorf("tracking.workers must be positive, got %d", c.Tracking.Workers))
	}
	for token, id := range c.Auth.Tokens {
		if token == "" {
			errs = append(errs, fmt.Errorf("auth.tokens contains an empty token"))
		}
		if id.UserID == "" || id.OrgID == "" {
			errs = append(errs, fmt.Errorf("auth.tokens[%q] must set user_id and org_id", token))
		}
	}

	return errors.Join(errs...)
}
