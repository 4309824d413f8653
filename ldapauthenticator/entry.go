package ldapauthenticator

import (
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/pkg/errors"
)

var (
	// ErrNilEntry is returned when a nil entry is converted
	ErrNilEntry = errors.New("ldap entry is nil")

	// ErrEntryWithoutDN is returned when an entry carries no distinguished name and therefore can not be bound
	ErrEntryWithoutDN = errors.New("ldap entry has no distinguished name")
)

// DNAttribute names the distinguished name when it is read like an attribute
const DNAttribute = "dn"

// userObjectClasses mark an entry as a person that can log in
var userObjectClasses = map[string]bool{
	"person":               true,
	"organizationalperson": true,
	"inetorgperson":        true,
	"user":                 true,
	"posixaccount":         true,
}

// Entry is a directory entry returned by a search. It is either a *GenericEntry or a *UserEntry.
type Entry interface {
	// DN returns the distinguished name of the entry
	DN() string

	// Values returns all values of an attribute, matched case-insensitively. The pseudo attribute "dn"
	// returns the distinguished name.
	Values(name string) []string

	// First returns the first value of an attribute
	First(name string) (string, bool)

	// Attributes returns a copy of all attributes keyed by lower-cased name
	Attributes() map[string][]string

	entry()
}

type attributes struct {
	dn    string
	attrs map[string][]string
}

func newAttributes(dn string, attrs map[string][]string) attributes {
	normalized := make(map[string][]string, len(attrs))
	for name, values := range attrs {
		key := strings.ToLower(name)
		normalized[key] = append(normalized[key], values...)
	}

	return attributes{dn: dn, attrs: normalized}
}

func (a attributes) DN() string {
	return a.dn
}

func (a attributes) Values(name string) []string {
	key := strings.ToLower(name)
	if key == DNAttribute && a.dn != "" {
		return []string{a.dn}
	}

	return a.attrs[key]
}

func (a attributes) First(name string) (string, bool) {
	values := a.Values(name)
	if len(values) == 0 {
		return "", false
	}

	return values[0], true
}

func (a attributes) Attributes() map[string][]string {
	out := make(map[string][]string, len(a.attrs))
	for name, values := range a.attrs {
		out[name] = append([]string(nil), values...)
	}

	return out
}

// GenericEntry is any entry that is not classified as a user
type GenericEntry struct {
	attributes
}

func (*GenericEntry) entry() {}

// UserEntry is an entry whose objectClass marks it as a person
type UserEntry struct {
	attributes
}

func (*UserEntry) entry() {}

// NewEntry classifies the given attributes by objectClass
func NewEntry(dn string, attrs map[string][]string) Entry {
	a := newAttributes(dn, attrs)
	for _, class := range a.Values("objectClass") {
		if userObjectClasses[strings.ToLower(class)] {
			return &UserEntry{a}
		}
	}

	return &GenericEntry{a}
}

// NewUserEntry builds a UserEntry regardless of its objectClass
func NewUserEntry(dn string, attrs map[string][]string) *UserEntry {
	return &UserEntry{newAttributes(dn, attrs)}
}

// FromLDAP converts a go-ldap search result entry
func FromLDAP(e *ldap.Entry) Entry {
	attrs := make(map[string][]string, len(e.Attributes))
	for _, attr := range e.Attributes {
		attrs[attr.Name] = append(attrs[attr.Name], attr.Values...)
	}

	return NewEntry(e.DN, attrs)
}

// AsUser converts any entry into a UserEntry. A generic entry is promoted as long as it has a DN.
func AsUser(e Entry) (*UserEntry, error) {
	switch entry := e.(type) {
	case nil:
		return nil, ErrNilEntry
	case *UserEntry:
		if entry == nil {
			return nil, ErrNilEntry
		}
		if entry.dn == "" {
			return nil, ErrEntryWithoutDN
		}
		return entry, nil
	case *GenericEntry:
		if entry == nil {
			return nil, ErrNilEntry
		}
		if entry.dn == "" {
			return nil, ErrEntryWithoutDN
		}
		return &UserEntry{entry.attributes}, nil
	default:
		return nil, errors.Errorf("unsupported ldap entry type %T", e)
	}
}
