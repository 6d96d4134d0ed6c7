package session

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kiranshivaraju/licensectl/pkg/models"
)

const projectRolesClaim = "urn:zitadel:iam:org:project:roles"

// RolesClaim is the ID token claim carrying the granted roles of a project.
func RolesClaim(projectID string) string {
	return fmt.Sprintf("urn:zitadel:iam:org:project:id:%s:roles", projectID)
}

// UserFromToken reads the user from the claims of a JWT access token. The
// signature is not checked: the server does that, the console only displays
// who is signed in. Returns nil for opaque tokens.
func UserFromToken(token string) *models.UserInfo {
	claims, ok := parseClaims(token)
	if !ok {
		return nil
	}
	return userFromClaims(claims, "")
}

// TokenExpiry returns the exp claim of a JWT access token.
func TokenExpiry(token string) (time.Time, bool) {
	claims, ok := parseClaims(token)
	if !ok {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

func parseClaims(token string) (jwt.MapClaims, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, false
	}
	return claims, true
}

func userFromClaims(claims jwt.MapClaims, rolesClaim string) *models.UserInfo {
	sub, _ := claims.GetSubject()
	u := &models.UserInfo{
		ID:        sub,
		Name:      stringClaim(claims, "name"),
		Email:     stringClaim(claims, "email"),
		LoginName: stringClaim(claims, "preferred_username"),
		Picture:   stringClaim(claims, "picture"),
	}
	if u.Name == "" {
		u.Name = strings.TrimSpace(stringClaim(claims, "given_name") + " " + stringClaim(claims, "family_name"))
	}

	if rolesClaim != "" {
		u.Roles = rolesFromClaim(claims[rolesClaim])
	}
	if u.Roles == nil {
		u.Roles = rolesFromClaim(claims[projectRolesClaim])
	}

	u.Role = stringClaim(claims, "role")
	if u.Role == "" {
		if roles, ok := claims["roles"].([]any); ok && len(roles) > 0 {
			u.Role, _ = roles[0].(string)
		}
	}
	if u.Role == "" && len(u.Roles) > 0 {
		names := make([]string, 0, len(u.Roles))
		for name := range u.Roles {
			names = append(names, name)
		}
		sort.Strings(names)
		u.Role = names[0]
	}
	return u
}

func stringClaim(claims jwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}

func rolesFromClaim(v any) map[string]map[string]any {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	roles := make(map[string]map[string]any, len(m))
	for name, grant := range m {
		g, _ := grant.(map[string]any)
		if g == nil {
			g = map[string]any{}
		}
		roles[name] = g
	}
	return roles
}
