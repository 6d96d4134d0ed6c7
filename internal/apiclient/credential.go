package apiclient

import "context"

// Credential is a bearer token together with the session generation it was
// read from. The zero value means no credential.
type Credential struct {
	Token      string
	Generation uint64
}

// Present reports whether the credential carries a token.
func (c Credential) Present() bool {
	return c.Token != ""
}

// CredentialProvider supplies the credential attached to outgoing requests.
//
// Credential may block, for example until a persisted session has been
// rehydrated. Invalidate clears the session only if it is still at the
// generation of cred and reports whether it did, so concurrent rejections of
// the same credential clear the session once.
type CredentialProvider interface {
	Credential(ctx context.Context) (Credential, error)
	Invalidate(ctx context.Context, cred Credential) bool
}

// Refresher is implemented by providers that can obtain a new credential
// after the server rejects the current one.
type Refresher interface {
	Refresh(ctx context.Context, cred Credential) error
}

// Anonymous is a provider that never supplies a credential.
type Anonymous struct{}

func (Anonymous) Credential(context.Context) (Credential, error) { return Credential{}, nil }

func (Anonymous) Invalidate(context.Context, Credential) bool { return false }
