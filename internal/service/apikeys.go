package service

import (
	"context"
	"net/url"
	"time"

	"github.com/kiranshivaraju/licensectl/internal/apiclient"
	"github.com/kiranshivaraju/licensectl/internal/cache"
	"github.com/kiranshivaraju/licensectl/internal/querycache"
	"github.com/kiranshivaraju/licensectl/pkg/models"
	"go.uber.org/zap"
)

// APIKeys wraps the /apikeys endpoints.
type APIKeys struct {
	api   *apiclient.Client
	cache *querycache.Client
	ttl   time.Duration
	log   *zap.Logger
}

// List fetches every API key. Keys carry their prefix only.
func (s *APIKeys) List(ctx context.Context, opts ...ReadOption) ([]models.APIKey, error) {
	o := applyReadOptions(opts)
	keys, err := querycache.Fetch(ctx, s.cache, cache.ScopeAPIKeys, "all", s.ttl, o.fresh,
		func(ctx context.Context) ([]models.APIKey, error) {
			var keys []models.APIKey
			err := s.api.Get(ctx, "/apikeys", nil, &keys)
			return keys, err
		})
	if err != nil {
		return nil, fail(s.log, "list api keys", "Failed to fetch API keys", err)
	}
	if keys == nil {
		keys = []models.APIKey{}
	}
	return keys, nil
}

// Create issues a new key. The result holds the full secret and is never
// cached; show it once and drop it.
func (s *APIKeys) Create(ctx context.Context, form APIKeyForm) (*models.CreatedAPIKey, error) {
	if err := Validate("create api key", form); err != nil {
		return nil, err
	}

	var created models.CreatedAPIKey
	err := s.api.Post(ctx, "/apikeys", models.CreateAPIKeyRequest{Description: form.Description}, &created)
	if err != nil {
		return nil, fail(s.log, "create api key", "Failed to create API key", err)
	}
	s.cache.Invalidate(ctx, cache.ScopeAPIKeys)
	s.log.Info("api key created", zap.String("id", created.ID), zap.String("prefix", created.Prefix))
	return &created, nil
}

// Revoke disables key id.
func (s *APIKeys) Revoke(ctx context.Context, id string) error {
	if id == "" {
		return invalid("revoke api key", "API key id is required")
	}
	if err := s.api.Delete(ctx, "/apikeys/"+url.PathEscape(id), nil); err != nil {
		return fail(s.log, "revoke api key", "Failed to revoke API key", err)
	}
	s.cache.Invalidate(ctx, cache.ScopeAPIKeys)
	return nil
}
