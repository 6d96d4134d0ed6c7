package service

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/licensectl/internal/apiclient"
	"github.com/kiranshivaraju/licensectl/internal/cache"
	"github.com/kiranshivaraju/licensectl/internal/querycache"
	"github.com/kiranshivaraju/licensectl/internal/session"
	"github.com/kiranshivaraju/licensectl/pkg/models"
	"go.uber.org/zap"
)

// Auth signs in and out with the password flow.
type Auth struct {
	api   *apiclient.Client
	cache *querycache.Client
	store *session.Store
	log   *zap.Logger
}

// Login exchanges username and password for an access token and stores it.
func (s *Auth) Login(ctx context.Context, form LoginForm) error {
	const op, fallback = "login", "Login failed"
	if err := Validate(op, form); err != nil {
		return err
	}

	var resp models.LoginResponse
	err := s.api.Do(ctx, apiclient.Request{
		Method:    http.MethodPost,
		Path:      "/auth/login",
		Body:      models.LoginRequest{Username: form.Username, Password: form.Password},
		Out:       &resp,
		Anonymous: true,
	})
	if err != nil {
		return fail(s.log, op, fallback, err)
	}
	if resp.AccessToken == "" {
		return &Error{Op: op, Kind: KindServer, Message: fallback}
	}

	if err := s.store.SetToken(ctx, resp.AccessToken); err != nil {
		return &Error{Op: op, Kind: KindServer, Message: "Could not save the session", Err: err}
	}
	s.dropCached(ctx)
	s.log.Info("signed in", zap.String("username", form.Username))
	return nil
}

// Logout clears the session and every cached result.
func (s *Auth) Logout(ctx context.Context) error {
	if err := s.store.ClearAuth(ctx); err != nil {
		return &Error{Op: "logout", Kind: KindServer, Message: "Could not clear the session", Err: err}
	}
	s.dropCached(ctx)
	return nil
}

func (s *Auth) dropCached(ctx context.Context) {
	s.cache.Invalidate(ctx, cache.ScopeLicenses, cache.ScopeAPIKeys, cache.ScopeDashboard)
}
