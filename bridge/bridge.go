// Package bridge authenticates submitted credentials against an LDAP directory and links the result to a
// record of the local user store. When the directory does not authenticate the credentials the bridge can
// fall back to the local store.
package bridge

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/studieren-ohne-grenzen/ldap-bridge/ldapauthenticator"
)

// Bridge answers the user provider calls of an application: by credentials, by id and by token
type Bridge struct {
	config Config

	directory   Directory
	local       LocalStore
	identities  IdentityStore
	transformer ldapauthenticator.Transformer

	logger  *zap.Logger
	metrics *Metrics
}

// Option customizes a Bridge
type Option func(*Bridge)

// WithLogger sets the logger, a nil logger is ignored
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics records outcomes in m
func WithMetrics(m *Metrics) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// WithTransformer sets the policy copying directory attributes into identities
func WithTransformer(transformer ldapauthenticator.Transformer) Option {
	return func(b *Bridge) {
		if transformer != nil {
			b.transformer = transformer
		}
	}
}

// New creates a bridge. local may be nil when no fallback and no lookups by id are needed,
// identities may be nil when directory users should not be persisted.
func New(config Config, directory Directory, local LocalStore, identities IdentityStore, opts ...Option) (*Bridge, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	b := &Bridge{
		config:      config,
		directory:   directory,
		local:       local,
		identities:  identities,
		transformer: ldapauthenticator.NewAttributeTransformer(""),
		logger:      zap.NewNop(),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// RetrieveByCredentials returns the authenticated identity or nil when the credentials are denied
func (b *Bridge) RetrieveByCredentials(ctx context.Context, credentials Credentials) (*Identity, error) {
	outcome, err := b.Authenticate(ctx, credentials)
	if err != nil {
		return nil, err
	}

	return outcome.Identity, nil
}

// Authenticate checks credentials against the directory and falls back to the local store when enabled.
// Only unexpected faults of the directory or the stores are returned as errors.
func (b *Bridge) Authenticate(ctx context.Context, credentials Credentials) (Outcome, error) {
	identity, cause, err := b.authenticateDirectory(ctx, credentials)
	if err != nil {
		return Outcome{}, err
	}

	if identity != nil {
		outcome := Outcome{Identity: identity, Source: SourceDirectory}
		b.metrics.observe(outcome)
		b.logger.Info("authenticated by directory", zap.String("username", identity.Username), zap.String("dn", identity.DN))

		return outcome, nil
	}

	b.logger.Debug("directory did not authenticate credentials",
		zap.String("lookup", credentials[b.config.UsernameKey]), zap.Stringer("cause", cause))

	if b.config.LoginFallback && b.local != nil {
		local, err := b.local.RetrieveByCredentials(ctx, credentials)
		if err != nil {
			return Outcome{}, errors.Wrap(err, "local credential lookup failed")
		}

		if local != nil {
			local.Source = SourceLocal
			outcome := Outcome{Identity: local, Source: SourceLocal, Cause: cause}
			b.metrics.observe(outcome)
			b.logger.Info("authenticated by local store", zap.String("username", local.Username))

			return outcome, nil
		}
	}

	outcome := denied(cause)
	b.metrics.observe(outcome)

	return outcome, nil
}

func (b *Bridge) authenticateDirectory(ctx context.Context, credentials Credentials) (*Identity, FailureKind, error) {
	if b.directory == nil || !b.directory.IsBound() {
		return nil, FailureDirectoryUnavailable, nil
	}

	value := credentials[b.config.UsernameKey]
	if value == "" {
		return nil, FailureNoMatch, nil
	}

	user, err := b.lookup(ctx, value, true)
	if err != nil {
		return nil, FailureNone, err
	}
	if user == nil {
		return nil, FailureNoMatch, nil
	}

	username, ok := user.First(b.config.LoginAttribute)
	if !ok || username == "" {
		b.logger.Warn("directory entry has no login attribute",
			zap.String("dn", user.DN()), zap.String("attribute", b.config.LoginAttribute))
		return nil, FailureNoMatch, nil
	}

	password := credentials[b.config.PasswordKey]
	if password == "" {
		return nil, FailureMissingPassword, nil
	}

	principal := b.config.Principal(username)

	ok, err = b.directory.Bind(ctx, principal, password)
	if err != nil {
		return nil, FailureNone, errors.Wrap(err, "directory bind failed")
	}
	if !ok {
		return nil, FailureBindFailed, nil
	}

	identity, err := b.materialize(ctx, user, value)
	if err != nil {
		return nil, FailureNone, err
	}

	return identity, FailureNone, nil
}

// lookup returns the first entry matching value. With promote set a generic entry is converted into a
// user entry, otherwise only entries classified as users are returned.
func (b *Bridge) lookup(ctx context.Context, value string, promote bool) (*ldapauthenticator.UserEntry, error) {
	entries, err := b.directory.Search(ctx, b.config.UsernameAttribute, value)
	if err != nil {
		return nil, errors.Wrap(err, "directory search failed")
	}

	if len(entries) == 0 {
		return nil, nil
	}

	if len(entries) > 1 {
		b.metrics.ambiguousMatch()
		b.logger.Warn("directory lookup matched more than one entry, using the first",
			zap.String("attribute", b.config.UsernameAttribute),
			zap.String("value", value),
			zap.Int("matches", len(entries)),
			zap.String("dn", entries[0].DN()))
	}

	if !promote {
		user, _ := entries[0].(*ldapauthenticator.UserEntry)
		return user, nil
	}

	user, err := ldapauthenticator.AsUser(entries[0])
	if err != nil {
		b.logger.Warn("directory entry can not be used for login", zap.Error(err))
		return nil, nil
	}

	return user, nil
}

// materialize creates or updates the local identity linked to a user entry
func (b *Bridge) materialize(ctx context.Context, user *ldapauthenticator.UserEntry, lookupValue string) (*Identity, error) {
	profile := b.transformer.Transform(user)

	identity := &Identity{Source: SourceDirectory}
	identity.apply(profile, user)

	link, ok := user.First(b.config.UsernameAttribute)
	if !ok || link == "" {
		link = lookupValue
	}
	identity.SetField(b.config.UsernameKey, link)

	if b.identities == nil {
		return identity, nil
	}

	stored, err := b.identities.SaveDirectoryIdentity(ctx, identity)
	if err != nil {
		return nil, errors.Wrapf(err, "could not save identity %s", identity.Username)
	}

	stored.Source = SourceDirectory
	stored.Attributes = identity.Attributes
	stored.entry = user

	return stored, nil
}

// ResolveIdentity attaches the directory entry linked to identity when binding to the model is enabled.
// The identity is returned unchanged when no entry is found.
func (b *Bridge) ResolveIdentity(ctx context.Context, identity *Identity) (*Identity, error) {
	if identity == nil || !b.config.BindToModel {
		return identity, nil
	}

	if b.directory == nil || !b.directory.IsBound() {
		b.logger.Debug("directory unavailable, identity not bound", zap.String("id", identity.ID))
		return identity, nil
	}

	value, ok := identity.Field(b.config.UsernameKey)
	if !ok || value == "" {
		return identity, nil
	}

	user, err := b.lookup(ctx, value, false)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return identity, nil
	}

	identity.apply(b.transformer.Transform(user), user)

	return identity, nil
}

// RetrieveByID loads an identity from the local store and binds its directory entry
func (b *Bridge) RetrieveByID(ctx context.Context, id string) (*Identity, error) {
	if b.local == nil {
		return nil, nil
	}

	identity, err := b.local.RetrieveByID(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "could not retrieve identity %s", id)
	}

	return b.ResolveIdentity(ctx, identity)
}

// RetrieveByToken loads an identity by its remember token and binds its directory entry
func (b *Bridge) RetrieveByToken(ctx context.Context, id, token string) (*Identity, error) {
	if b.local == nil {
		return nil, nil
	}

	identity, err := b.local.RetrieveByToken(ctx, id, token)
	if err != nil {
		return nil, errors.Wrapf(err, "could not retrieve identity %s by token", id)
	}

	return b.ResolveIdentity(ctx, identity)
}
