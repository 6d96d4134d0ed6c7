package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Query scopes. Mutations invalidate whole scopes.
const (
	ScopeLicenses  = "licenses"
	ScopeAPIKeys   = "apikeys"
	ScopeDashboard = "dashboard"
)

func SessionKey(name string) string {
	return fmt.Sprintf("session:%s", name)
}

// QueryKey is the cache key of one query result inside scope. The query
// fingerprint is hashed so arbitrary filter text stays out of key names.
func QueryKey(scope, query string) string {
	sum := sha256.Sum256([]byte(query))
	return fmt.Sprintf("query:%s:%s", scope, hex.EncodeToString(sum[:8]))
}

// QueryScopePrefix matches every QueryKey of scope.
func QueryScopePrefix(scope string) string {
	return fmt.Sprintf("query:%s:", scope)
}
