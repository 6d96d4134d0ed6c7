package apitest

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kiranshivaraju/licensectl/pkg/models"
)

// tokenIssuer signs session tokens for signed-in users. Bumping the epoch
// rejects every token issued before.
type tokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	epoch  atomic.Int64
}

type sessionClaims struct {
	Name      string `json:"name,omitempty"`
	Role      string `json:"role,omitempty"`
	LoginName string `json:"preferred_username,omitempty"`
	Epoch     int64  `json:"epoch"`
	jwt.RegisteredClaims
}

func (t *tokenIssuer) issue(u models.UserInfo) (string, error) {
	now := t.now()
	claims := sessionClaims{
		Name:      u.Name,
		Role:      u.Role,
		LoginName: u.LoginName,
		Epoch:     t.epoch.Load(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

func (t *tokenIssuer) verify(raw string) (*sessionClaims, error) {
	claims := &sessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(t.now))
	if err != nil {
		return nil, fmt.Errorf("verifying token: %w", err)
	}
	if claims.Epoch != t.epoch.Load() {
		return nil, errors.New("token revoked")
	}
	return claims, nil
}

func (t *tokenIssuer) revokeAll() {
	t.epoch.Add(1)
}
