// Package mattermoststore uses a Mattermost instance as the local user store of the bridge
package mattermoststore

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/mattermost/mattermost-server/model"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/studieren-ohne-grenzen/ldap-bridge/bridge"
)

const listPageSize = 200

// Store creates and updates Mattermost users for directory identities
type Store struct {
	url      string
	username string
	password string

	usernameKey string
	passwordKey string
	pageSize    int

	logger *zap.Logger

	mu     sync.Mutex
	client *model.Client4
}

var (
	_ bridge.LocalStore    = (*Store)(nil)
	_ bridge.IdentityStore = (*Store)(nil)
)

// New connects to the given mattermost instance with an administrator account
func New(url, username, password string, config bridge.Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store := &Store{
		url:         url,
		username:    username,
		password:    password,
		usernameKey: config.UsernameKey,
		passwordKey: config.PasswordKey,
		pageSize:    listPageSize,
		logger:      logger,
	}

	if err := store.connect(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *Store) connect() error {
	client := model.NewAPIv4Client(s.url)
	if _, resp := client.Login(s.username, s.password); resp.Error != nil {
		return errors.Wrapf(resp.Error, "could not log in to mattermost at %s", s.url)
	}

	s.client = client

	return nil
}

// Mattermost returns the current valid mattermost connection
func (s *Store) Mattermost() (*model.Client4, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, resp := s.client.GetPing(); resp.Error == nil {
		return s.client, nil
	}

	if err := s.reconnect(10); err != nil {
		return nil, err
	}

	return s.client, nil
}

// Health checks that mattermost is reachable with the administrator account
func (s *Store) Health() error {
	_, err := s.Mattermost()

	return err
}

// reconnect tries to reconnect to mattermost within maxReconnectCount times
func (s *Store) reconnect(maxReconnectCount int) error {
	var err error
	for attempt := 0; attempt < maxReconnectCount; attempt++ {
		if err = s.connect(); err == nil {
			return nil
		}

		s.logger.Warn("could not connect to mattermost, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
	}

	return errors.Wrap(err, "could not reconnect to mattermost")
}

// RetrieveByCredentials logs in to mattermost with the submitted credentials
func (s *Store) RetrieveByCredentials(ctx context.Context, credentials bridge.Credentials) (*bridge.Identity, error) {
	loginID := credentials[s.usernameKey]
	password := credentials[s.passwordKey]
	if loginID == "" || password == "" {
		return nil, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	user, resp := model.NewAPIv4Client(s.url).Login(loginID, password)
	if resp.Error != nil {
		if isDenied(resp) {
			return nil, nil
		}
		return nil, errors.Wrap(resp.Error, "mattermost login failed")
	}

	return toIdentity(user), nil
}

// RetrieveByID fetches the mattermost user with the given id
func (s *Store) RetrieveByID(ctx context.Context, id string) (*bridge.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := s.Mattermost()
	if err != nil {
		return nil, err
	}

	user, resp := client.GetUser(id, "")
	if resp.Error != nil {
		if resp.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, errors.Wrapf(resp.Error, "could not fetch mattermost user %s", id)
	}

	return toIdentity(user), nil
}

// RetrieveByToken returns the owner of a mattermost session token if it is the user with the given id
func (s *Store) RetrieveByToken(ctx context.Context, id, token string) (*bridge.Identity, error) {
	if token == "" {
		return nil, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client := model.NewAPIv4Client(s.url)
	client.AuthToken = token
	client.AuthType = model.HEADER_BEARER

	user, resp := client.GetMe("")
	if resp.Error != nil {
		if isDenied(resp) {
			return nil, nil
		}
		return nil, errors.Wrap(resp.Error, "could not resolve mattermost token")
	}

	if user.Id != id {
		return nil, nil
	}

	return toIdentity(user), nil
}

// SaveDirectoryIdentity creates the mattermost user of a directory identity or updates its profile
func (s *Store) SaveDirectoryIdentity(ctx context.Context, identity *bridge.Identity) (*bridge.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := s.Mattermost()
	if err != nil {
		return nil, err
	}

	user, resp := client.GetUserByUsername(identity.Username, "")
	if resp.Error != nil && resp.StatusCode != http.StatusNotFound {
		return nil, errors.Wrapf(resp.Error, "could not fetch mattermost user %s", identity.Username)
	}

	if resp.StatusCode == http.StatusNotFound {
		s.logger.Info("creating mattermost user", zap.String("username", identity.Username))

		authData := AuthData(identity.Username)
		newUser := model.User{
			AuthService:   model.USER_AUTH_SERVICE_GITLAB,
			AuthData:      &authData,
			Email:         identity.Email,
			Username:      identity.Username,
			EmailVerified: true,
		}
		newUser.FirstName, newUser.LastName = splitName(identity.Name)

		created, resp := client.CreateUser(&newUser)
		if resp.Error != nil {
			return nil, errors.Wrapf(resp.Error, "could not create mattermost user %s", identity.Username)
		}

		return toIdentity(created), nil
	}

	user.Email = identity.Email
	user.FirstName, user.LastName = splitName(identity.Name)

	updated, resp := client.UpdateUser(user)
	if resp.Error != nil {
		return nil, errors.Wrapf(resp.Error, "could not update mattermost user %s", identity.Username)
	}

	return toIdentity(updated), nil
}

// ListDirectoryIdentities returns all mattermost users authenticated through the directory
func (s *Store) ListDirectoryIdentities(ctx context.Context) ([]*bridge.Identity, error) {
	client, err := s.Mattermost()
	if err != nil {
		return nil, err
	}

	var identities []*bridge.Identity
	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		users, resp := client.GetUsers(page, s.pageSize, "")
		if resp.Error != nil {
			return nil, errors.Wrap(resp.Error, "could not list mattermost users")
		}

		for _, user := range users {
			if user.AuthService == model.USER_AUTH_SERVICE_GITLAB {
				identities = append(identities, toIdentity(user))
			}
		}

		if len(users) < s.pageSize {
			return identities, nil
		}
	}
}

// AuthData derives the numeric id mattermost expects from a gitlab authenticated user
func AuthData(username string) string {
	identity := bridge.Identity{Username: username}

	return strconv.FormatInt(identity.NumericID(), 10)
}

func isDenied(resp *model.Response) bool {
	return resp.StatusCode == http.StatusUnauthorized ||
		resp.StatusCode == http.StatusForbidden ||
		resp.StatusCode == http.StatusNotFound
}

func splitName(name string) (string, string) {
	parts := strings.SplitN(strings.TrimSpace(name), " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}

	return parts[0], parts[1]
}

func toIdentity(user *model.User) *bridge.Identity {
	source := bridge.SourceLocal
	if user.AuthService == model.USER_AUTH_SERVICE_GITLAB {
		source = bridge.SourceDirectory
	}

	return &bridge.Identity{
		ID:       user.Id,
		Username: user.Username,
		Email:    user.Email,
		Name:     strings.TrimSpace(user.FirstName + " " + user.LastName),
		Source:   source,
	}
}
