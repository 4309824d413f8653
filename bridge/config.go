package bridge

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

const (
	// UsernamePlaceholder is replaced with the login attribute value in a login pattern
	UsernamePlaceholder = "#input_username#"

	// BaseDNPlaceholder is replaced with the configured base DN in a login pattern
	BaseDNPlaceholder = "#base_dn#"
)

// attribute descriptions as in RFC 4512 or numeric OIDs
var attributeName = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9-]*|[0-9]+(\.[0-9]+)*)$`)

// Config holds the settings of a Bridge. It is built once and not changed afterwards.
type Config struct {
	// UsernameKey is the credentials field holding the lookup value. It is also the identity field
	// linking a local record to its directory entry, so it is limited to the fields an Identity has:
	// username, email or mail. Other credentials fields are still passed to the local store.
	UsernameKey string `validate:"required,oneof=username email mail"`

	// UsernameAttribute is the directory attribute compared against the lookup value
	UsernameAttribute string `validate:"required,ldapattr"`

	// LoginAttribute is the attribute whose value becomes the bind principal. Use dn to bind as the
	// found entry, which also works for entries in nested organizational units.
	LoginAttribute string `validate:"required,ldapattr"`

	// PasswordKey is the credentials field holding the password
	PasswordKey string `validate:"required,nefield=UsernameKey"`

	// LoginFallback delegates to the local store when directory authentication does not succeed
	LoginFallback bool

	// LoginPattern turns the login attribute value into the bind principal, e.g. cn=#input_username#,#base_dn#
	LoginPattern string

	BaseDN string

	// BindToModel attaches directory data to identities loaded by id or token
	BindToModel bool
}

// DefaultConfig mirrors an Active Directory setup authenticating by sAMAccountName
func DefaultConfig() Config {
	return Config{
		UsernameKey:       "username",
		UsernameAttribute: "samaccountname",
		LoginAttribute:    "samaccountname",
		PasswordKey:       "password",
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("ldapattr", func(fl validator.FieldLevel) bool {
		return attributeName.MatchString(fl.Field().String())
	})

	return v
}

// Validate checks that the config can be used to authenticate
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid bridge config")
	}

	if strings.Contains(c.LoginPattern, BaseDNPlaceholder) && c.BaseDN == "" {
		return errors.Errorf("invalid bridge config: login pattern uses %s but no base DN is set", BaseDNPlaceholder)
	}

	return nil
}
