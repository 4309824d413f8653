package oauthenticator

import (
	"context"

	"github.com/studieren-ohne-grenzen/ldap-bridge/bridge"
)

// AuthenticatorBackend interface to provide to a new OAuth server
type AuthenticatorBackend interface {
	// RetrieveByCredentials authenticates the submitted login form, nil means the credentials are denied
	RetrieveByCredentials(ctx context.Context, credentials bridge.Credentials) (*bridge.Identity, error)

	// RetrieveByID fetches the identity an access token has been issued for
	RetrieveByID(ctx context.Context, id string) (*bridge.Identity, error)
}

var _ AuthenticatorBackend = (*bridge.Bridge)(nil)
