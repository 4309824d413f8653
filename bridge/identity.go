package bridge

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/studieren-ohne-grenzen/ldap-bridge/ldapauthenticator"
)

// Credentials are the fields submitted by a login form, keyed by field name
type Credentials map[string]string

// Source tells where an identity has been authenticated or loaded from
type Source string

const (
	SourceLocal     Source = "local"
	SourceDirectory Source = "ldap"
)

// Identity is a user record of the local user store
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	DN       string `json:"dn,omitempty"`
	Source   Source `json:"source"`

	// Attributes are the directory attributes attached by the last lookup
	Attributes map[string][]string `json:"-"`

	entry *ldapauthenticator.UserEntry
}

// Field returns the identity field used to link it with credentials and the directory
func (i *Identity) Field(key string) (string, bool) {
	switch key {
	case "id":
		return i.ID, true
	case "username":
		return i.Username, true
	case "email", "mail":
		return i.Email, true
	case "name":
		return i.Name, true
	case "dn":
		return i.DN, true
	}

	return "", false
}

// SetField sets the field named key, unknown keys are ignored
func (i *Identity) SetField(key, value string) {
	switch key {
	case "id":
		i.ID = value
	case "username":
		i.Username = value
	case "email", "mail":
		i.Email = value
	case "name":
		i.Name = value
	case "dn":
		i.DN = value
	}
}

// NumericID derives a stable int64 from the username for clients that expect numeric user ids,
// like the gitlab login of mattermost
func (i *Identity) NumericID() int64 {
	h := sha256.Sum256([]byte(i.Username))

	return int64(binary.BigEndian.Uint64(h[:8]))
}

// DirectoryEntry returns the entry attached by the bridge, nil if none is bound
func (i *Identity) DirectoryEntry() *ldapauthenticator.UserEntry {
	return i.entry
}

// apply copies the directory derived fields of a profile. Empty profile fields keep the current value.
func (i *Identity) apply(profile ldapauthenticator.Profile, entry *ldapauthenticator.UserEntry) {
	if profile.Username != "" && i.Username == "" {
		i.Username = profile.Username
	}
	if profile.Email != "" {
		i.Email = profile.Email
	}
	if profile.Name != "" {
		i.Name = profile.Name
	}

	i.DN = profile.DN
	i.Attributes = profile.Attributes
	i.entry = entry
}
