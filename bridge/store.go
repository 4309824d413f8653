package bridge

import (
	"context"

	"github.com/studieren-ohne-grenzen/ldap-bridge/ldapauthenticator"
)

// Directory is the directory client the bridge searches and binds against
type Directory interface {
	// IsBound reports whether the connection is ready for searches
	IsBound() bool

	// Search returns the entries whose attribute equals value
	Search(ctx context.Context, attribute, value string) ([]ldapauthenticator.Entry, error)

	// Bind reports whether password is valid for principal
	Bind(ctx context.Context, principal, password string) (bool, error)
}

var _ Directory = (*ldapauthenticator.Authenticator)(nil)

// LocalStore is the application's own credential store. Lookups that find nothing return nil without an error.
type LocalStore interface {
	RetrieveByCredentials(ctx context.Context, credentials Credentials) (*Identity, error)
	RetrieveByID(ctx context.Context, id string) (*Identity, error)
	RetrieveByToken(ctx context.Context, id, token string) (*Identity, error)
}

// IdentityStore persists identities authenticated by the directory
type IdentityStore interface {
	// SaveDirectoryIdentity creates or updates the local record linked to identity and returns the stored record
	SaveDirectoryIdentity(ctx context.Context, identity *Identity) (*Identity, error)

	// ListDirectoryIdentities returns all records created from the directory
	ListDirectoryIdentities(ctx context.Context) ([]*Identity, error)
}
