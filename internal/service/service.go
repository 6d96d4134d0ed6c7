// Package service has one method per license API operation. Every failure
// is normalised into *Error, reads are cached through querycache and
// mutations drop the cached scopes they affect.
package service

import (
	"time"

	"github.com/kiranshivaraju/licensectl/internal/apiclient"
	"github.com/kiranshivaraju/licensectl/internal/querycache"
	"github.com/kiranshivaraju/licensectl/internal/session"
	"go.uber.org/zap"
)

// Config holds the cache lifetimes of read operations.
type Config struct {
	TTL        time.Duration
	APIKeysTTL time.Duration
}

// DefaultConfig matches the console: API keys stay fresh for five minutes,
// everything else briefly.
func DefaultConfig() Config {
	return Config{TTL: 30 * time.Second, APIKeysTTL: 5 * time.Minute}
}

// Services bundles the domain services sharing one client and cache.
type Services struct {
	Licenses  *Licenses
	APIKeys   *APIKeys
	Dashboard *Dashboard
	Auth      *Auth
}

// New wires the services. qc may be nil to disable caching; store may be nil
// when password sign-in is not used.
func New(api *apiclient.Client, qc *querycache.Client, store *session.Store, cfg Config, log *zap.Logger) *Services {
	if log == nil {
		log = zap.NewNop()
	}
	return &Services{
		Licenses:  &Licenses{api: api, cache: qc, ttl: cfg.TTL, log: log},
		APIKeys:   &APIKeys{api: api, cache: qc, ttl: cfg.APIKeysTTL, log: log},
		Dashboard: &Dashboard{api: api, cache: qc, ttl: cfg.TTL, log: log},
		Auth:      &Auth{api: api, cache: qc, store: store, log: log},
	}
}

// ReadOption adjusts a cached read.
type ReadOption func(*readOptions)

type readOptions struct {
	fresh bool
}

// Fresh bypasses the cache and replaces the cached result.
func Fresh() ReadOption {
	return func(o *readOptions) { o.fresh = true }
}

func applyReadOptions(opts []ReadOption) readOptions {
	var o readOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func fail(log *zap.Logger, op, fallback string, err error) error {
	normalized := normalize(op, fallback, err)
	if normalized != nil {
		log.Debug("request failed", zap.String("op", op), zap.Error(err))
	}
	return normalized
}
