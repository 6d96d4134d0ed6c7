package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/kiranshivaraju/licensectl/internal/apiclient"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Error tags recorded on a session that needs a new sign-in.
const (
	ErrTagRefreshAccessToken  = "RefreshAccessTokenError"
	ErrTagMissingRefreshToken = "MissingRefreshTokenError"
	ErrTagDecodeIDToken       = "DecodeIDTokenError"
)

// OIDCConfig configures an OIDCProvider.
type OIDCConfig struct {
	Issuer    string
	ClientID  string
	ProjectID string
	// HTTPClient is used for discovery, key and token requests when set.
	HTTPClient *http.Client
}

// OIDCProvider is a credential provider backed by an OpenID Connect issuer.
// Access tokens are refreshed with the stored refresh token shortly before
// they expire and once more if the API rejects them. A failed refresh tags
// the session with an error and every later request fails with
// apiclient.ErrSessionExpired until the user signs in again.
type OIDCProvider struct {
	store      *Store
	oauth      *oauth2.Config
	verifier   *oidc.IDTokenVerifier
	rolesClaim string
	client     *http.Client
	log        *zap.Logger

	refreshMu sync.Mutex
}

// NewOIDCProvider discovers the issuer's endpoints and returns a provider
// keeping its session in store.
func NewOIDCProvider(ctx context.Context, cfg OIDCConfig, store *Store, log *zap.Logger) (*OIDCProvider, error) {
	if log == nil {
		log = zap.NewNop()
	}
	p := &OIDCProvider{store: store, client: cfg.HTTPClient, log: log}

	provider, err := oidc.NewProvider(p.context(ctx), cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discovering issuer %s: %w", cfg.Issuer, err)
	}

	var meta struct {
		DeviceAuthURL string `json:"device_authorization_endpoint"`
	}
	if err := provider.Claims(&meta); err != nil {
		return nil, fmt.Errorf("reading issuer metadata: %w", err)
	}

	endpoint := provider.Endpoint()
	endpoint.DeviceAuthURL = meta.DeviceAuthURL
	// Public client: the client id travels in the form body.
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	scopes := []string{oidc.ScopeOpenID, "email", "profile"}
	if cfg.ProjectID != "" {
		p.rolesClaim = RolesClaim(cfg.ProjectID)
		scopes = append(scopes, p.rolesClaim)
	}
	scopes = append(scopes, oidc.ScopeOfflineAccess)

	p.oauth = &oauth2.Config{
		ClientID: cfg.ClientID,
		Endpoint: endpoint,
		Scopes:   scopes,
	}
	p.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	return p, nil
}

func (p *OIDCProvider) context(ctx context.Context) context.Context {
	if p.client == nil {
		return ctx
	}
	ctx = oidc.ClientContext(ctx, p.client)
	return context.WithValue(ctx, oauth2.HTTPClient, p.client)
}

// DeviceLogin signs in with the device authorization grant. prompt is called
// with the code and URL the user must visit; DeviceLogin then polls until the
// user approves, the code expires or ctx is done.
func (p *OIDCProvider) DeviceLogin(ctx context.Context, prompt func(*oauth2.DeviceAuthResponse)) error {
	if p.oauth.Endpoint.DeviceAuthURL == "" {
		return errors.New("issuer does not support the device authorization grant")
	}
	ctx = p.context(ctx)

	da, err := p.oauth.DeviceAuth(ctx)
	if err != nil {
		return fmt.Errorf("starting device authorization: %w", err)
	}
	prompt(da)

	tok, err := p.oauth.DeviceAccessToken(ctx, da)
	if err != nil {
		return fmt.Errorf("waiting for device authorization: %w", err)
	}

	sess, err := p.sessionFromToken(ctx, tok, Session{})
	if err != nil {
		return err
	}
	return p.store.SetSession(ctx, sess)
}

// Credential implements apiclient.CredentialProvider.
func (p *OIDCProvider) Credential(ctx context.Context) (apiclient.Credential, error) {
	if err := p.store.Wait(ctx); err != nil {
		return apiclient.Credential{}, err
	}
	snap := p.store.Snapshot()
	if snap.Error != "" {
		return apiclient.Credential{}, expired(snap.Error)
	}
	if !snap.IsAuthenticated || oauthToken(snap.Session).Valid() {
		return snap.Credential(), nil
	}
	return p.refresh(ctx, snap.Generation, false)
}

// Refresh implements apiclient.Refresher. When another request already
// replaced cred the new token is kept.
func (p *OIDCProvider) Refresh(ctx context.Context, cred apiclient.Credential) error {
	_, err := p.refresh(ctx, cred.Generation, true)
	return err
}

// Invalidate implements apiclient.CredentialProvider.
func (p *OIDCProvider) Invalidate(ctx context.Context, cred apiclient.Credential) bool {
	return p.store.Invalidate(ctx, cred)
}

func (p *OIDCProvider) refresh(ctx context.Context, gen uint64, force bool) (apiclient.Credential, error) {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	snap := p.store.Snapshot()
	if snap.Error != "" {
		return apiclient.Credential{}, expired(snap.Error)
	}
	if !snap.IsAuthenticated {
		return apiclient.Credential{}, apiclient.ErrSessionExpired
	}
	current := oauthToken(snap.Session)
	if snap.Generation != gen && current.Valid() {
		return snap.Credential(), nil
	}

	if snap.RefreshToken == "" {
		p.log.Warn("refresh token missing, cannot refresh")
		p.store.markErrored(ctx, snap.Generation, ErrTagMissingRefreshToken)
		return apiclient.Credential{}, expired(ErrTagMissingRefreshToken)
	}

	if force {
		current.Expiry = time.Now().Add(-time.Minute)
	}
	tok, err := p.oauth.TokenSource(p.context(ctx), current).Token()
	if err != nil {
		p.log.Warn("error refreshing access token", zap.Error(err))
		p.store.markErrored(ctx, snap.Generation, ErrTagRefreshAccessToken)
		return apiclient.Credential{}, expired(ErrTagRefreshAccessToken)
	}

	sess, err := p.sessionFromToken(ctx, tok, snap.Session)
	if err != nil {
		p.log.Warn("error decoding refreshed id token", zap.Error(err))
		p.store.markErrored(ctx, snap.Generation, ErrTagDecodeIDToken)
		return apiclient.Credential{}, expired(ErrTagDecodeIDToken)
	}
	if err := p.store.SetSession(ctx, sess); err != nil {
		p.log.Warn("could not persist refreshed session", zap.Error(err))
	}
	p.log.Debug("access token refreshed")
	return p.store.Snapshot().Credential(), nil
}

// sessionFromToken builds the session for tok. Refresh token, ID token and
// user carry over from prev when the token response omits them.
func (p *OIDCProvider) sessionFromToken(ctx context.Context, tok *oauth2.Token, prev Session) (Session, error) {
	sess := Session{
		Token:        tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IDToken:      prev.IDToken,
		User:         prev.User,
	}
	if sess.RefreshToken == "" {
		sess.RefreshToken = prev.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry
		sess.ExpiresAt = &exp
	}

	if raw, ok := tok.Extra("id_token").(string); ok && raw != "" {
		idToken, err := p.verifier.Verify(p.context(ctx), raw)
		if err != nil {
			return Session{}, fmt.Errorf("%s: %w", ErrTagDecodeIDToken, err)
		}
		claims := jwt.MapClaims{}
		if err := idToken.Claims(&claims); err != nil {
			return Session{}, fmt.Errorf("%s: %w", ErrTagDecodeIDToken, err)
		}
		sess.IDToken = raw
		sess.User = userFromClaims(claims, p.rolesClaim)
	}
	return sess, nil
}

func oauthToken(s Session) *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  s.Token,
		TokenType:    "Bearer",
		RefreshToken: s.RefreshToken,
	}
	if s.ExpiresAt != nil {
		tok.Expiry = *s.ExpiresAt
	}
	return tok
}

func expired(tag string) error {
	return fmt.Errorf("%w: %s", apiclient.ErrSessionExpired, tag)
}

var (
	_ apiclient.CredentialProvider = (*OIDCProvider)(nil)
	_ apiclient.Refresher          = (*OIDCProvider)(nil)
)
