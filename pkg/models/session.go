package models

// UserInfo describes the signed-in administrator as far as the client can
// tell from its credentials.
type UserInfo struct {
	ID        string                    `json:"id"`
	Role      string                    `json:"role,omitempty"`
	Name      string                    `json:"name,omitempty"`
	Email     string                    `json:"email,omitempty"`
	LoginName string                    `json:"loginName,omitempty"`
	Picture   string                    `json:"image,omitempty"`
	Roles     map[string]map[string]any `json:"roles,omitempty"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the response of POST /auth/login.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
}
