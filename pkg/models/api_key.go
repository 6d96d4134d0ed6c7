package models

import (
	"fmt"
	"time"
)

// APIKey is an API key as listed by the server. Only the non-secret prefix is
// ever returned after creation.
type APIKey struct {
	ID          string     `json:"id"`
	Prefix      string     `json:"prefix"`
	Description string     `json:"description"`
	IsEnabled   bool       `json:"is_enabled"`
	CreatedAt   time.Time  `json:"created_at"`
	LastUsedAt  *time.Time `json:"last_used_at"`
}

// CreateAPIKeyRequest is the body of POST /apikeys.
type CreateAPIKeyRequest struct {
	Description string `json:"description"`
}

// CreatedAPIKey is the one-time response of POST /apikeys. The full key is
// visible here only; formatting the value with fmt redacts it, so it must be
// read explicitly through Secret.
type CreatedAPIKey struct {
	ID          string `json:"id"`
	FullKey     string `json:"full_key"`
	Prefix      string `json:"prefix"`
	Description string `json:"description"`
}

// Secret returns the full API key.
func (k *CreatedAPIKey) Secret() string {
	return k.FullKey
}

func (k CreatedAPIKey) String() string {
	return fmt.Sprintf("CreatedAPIKey{ID:%s Prefix:%s Description:%q FullKey:[REDACTED]}", k.ID, k.Prefix, k.Description)
}

func (k CreatedAPIKey) GoString() string {
	return k.String()
}
