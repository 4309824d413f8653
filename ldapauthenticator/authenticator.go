package ldapauthenticator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ldap/ldap/v3"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Conn is the part of *ldap.Conn used by the Authenticator
type Conn interface {
	Bind(username, password string) error
	Search(searchRequest *ldap.SearchRequest) (*ldap.SearchResult, error)
}

var _ Conn = &ldap.Conn{}

// Authenticator searches a directory with a service account and checks passwords by binding as the user
type Authenticator struct {
	bindDn       string
	bindPassword string
	queryDn      string

	// UserFilter is ANDed into every search, e.g. (objectClass=person)
	UserFilter string

	transformer Transformer
	logger      *zap.Logger

	mu     sync.Mutex
	conn   Conn
	closer func()
	bound  bool
}

// NewAuthenticator creates a new authenticator searching below queryDn
func NewAuthenticator(bindDn, bindPassword, queryDn string, transformer Transformer) *Authenticator {
	return &Authenticator{
		bindDn:       bindDn,
		bindPassword: bindPassword,
		queryDn:      queryDn,
		transformer:  transformer,
		logger:       zap.NewNop(),
	}
}

// WithLogger sets the logger used for connection events
func (auth *Authenticator) WithLogger(logger *zap.Logger) *Authenticator {
	if logger != nil {
		auth.logger = logger
	}

	return auth
}

// Connect to bindURL LDAP server and bind the service account
func (auth *Authenticator) Connect(bindURL string) error {
	conn, err := ldap.DialURL(bindURL)
	if err != nil {
		return errors.Wrapf(err, "could not dial %s", bindURL)
	}

	if err := auth.Use(conn); err != nil {
		conn.Close()
		return err
	}

	auth.closer = func() { conn.Close() }
	auth.logger.Info("connected to directory", zap.String("url", bindURL), zap.String("bind_dn", auth.bindDn))

	return nil
}

// Use takes over an already dialed connection and binds the service account on it
func (auth *Authenticator) Use(conn Conn) error {
	auth.mu.Lock()
	defer auth.mu.Unlock()

	auth.conn = conn
	auth.bound = false

	if err := auth.serviceBind(); err != nil {
		return err
	}

	return nil
}

// Close the LDAP connection
func (auth *Authenticator) Close() {
	auth.mu.Lock()
	defer auth.mu.Unlock()

	if auth.closer != nil {
		auth.closer()
		auth.closer = nil
	}

	auth.conn = nil
	auth.bound = false
}

// IsBound reports whether the service account is bound and the connection ready for searches
func (auth *Authenticator) IsBound() bool {
	auth.mu.Lock()
	defer auth.mu.Unlock()

	return auth.conn != nil && auth.bound
}

// Search returns all entries below the query DN whose attribute equals value
func (auth *Authenticator) Search(ctx context.Context, attribute, value string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	auth.mu.Lock()
	defer auth.mu.Unlock()

	if auth.conn == nil {
		return nil, errors.New("ldap connection is closed")
	}

	searchRequest := ldap.NewSearchRequest(
		auth.queryDn,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		auth.filter(attribute, value),
		auth.selectors(attribute),
		nil,
	)

	res, err := auth.conn.Search(searchRequest)
	if err != nil {
		return nil, errors.Wrapf(err, "search for %s failed", attribute)
	}

	entries := make([]Entry, 0, len(res.Entries))
	for _, entry := range res.Entries {
		entries = append(entries, FromLDAP(entry))
	}

	return entries, nil
}

// Bind checks password for principal. Invalid credentials are reported as false without an error.
// The service account is bound again afterwards so the connection stays usable for searches.
func (auth *Authenticator) Bind(ctx context.Context, principal, password string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	auth.mu.Lock()
	defer auth.mu.Unlock()

	if auth.conn == nil {
		return false, errors.New("ldap connection is closed")
	}

	auth.bound = false
	bindErr := auth.conn.Bind(principal, password)

	if err := auth.serviceBind(); err != nil {
		auth.logger.Warn("could not restore service bind", zap.Error(err))
	}

	if bindErr != nil {
		var ldapErr *ldap.Error
		if errors.As(bindErr, &ldapErr) && ldapErr.ResultCode == ldap.LDAPResultInvalidCredentials {
			return false, nil
		}

		return false, errors.Wrapf(bindErr, "bind as %s failed", principal)
	}

	return true, nil
}

func (auth *Authenticator) serviceBind() error {
	if err := auth.conn.Bind(auth.bindDn, auth.bindPassword); err != nil {
		return errors.Wrapf(err, "could not bind as %s", auth.bindDn)
	}

	auth.bound = true

	return nil
}

func (auth *Authenticator) filter(attribute, value string) string {
	filter := fmt.Sprintf("(%s=%s)", attribute, ldap.EscapeFilter(value))
	if auth.UserFilter == "" {
		return filter
	}

	return "(&" + auth.UserFilter + filter + ")"
}

func (auth *Authenticator) selectors(attribute string) []string {
	if auth.transformer == nil {
		return nil
	}

	seen := make(map[string]bool)
	var selectors []string
	for _, name := range append(auth.transformer.Selectors(), "objectClass", attribute) {
		key := strings.ToLower(name)
		// the DN is part of every search result
		if name == "" || key == DNAttribute || seen[key] {
			continue
		}
		seen[key] = true
		selectors = append(selectors, name)
	}

	return selectors
}
