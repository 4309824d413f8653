// Package localstore keeps the application's own user records in a SQL database through GORM.
package localstore

import (
	"context"
	"crypto/subtle"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/studieren-ohne-grenzen/ldap-bridge/bridge"
)

// ErrUsernameConflict is returned when a directory identity would take the username of another record
var ErrUsernameConflict = errors.New("username already taken")

// credentialColumns lists the credential fields a login may be looked up by
var credentialColumns = map[string]string{
	"id":       "id",
	"username": "username",
	"email":    "email",
	"mail":     "email",
}

// Store is a LocalStore and IdentityStore on a GORM database
type Store struct {
	db          *gorm.DB
	passwordKey string
	logger      *zap.Logger
}

var (
	_ bridge.LocalStore    = (*Store)(nil)
	_ bridge.IdentityStore = (*Store)(nil)
)

// Option customizes a Store
type Option func(*Store)

// WithPasswordKey names the credentials field holding the password, "password" by default
func WithPasswordKey(key string) Option {
	return func(s *Store) {
		s.passwordKey = key
	}
}

// WithLogger sets the logger, a nil logger is ignored
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New opens the database and migrates the users table
func New(driver, dsn string, opts ...Option) (*Store, error) {
	dialector, err := GetDialector(driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %s database", driver)
	}

	if err := db.AutoMigrate(&User{}); err != nil {
		return nil, errors.Wrap(err, "could not migrate users")
	}

	store := &Store{db: db, passwordKey: "password", logger: zap.NewNop()}
	for _, opt := range opts {
		opt(store)
	}

	return store, nil
}

// RetrieveByCredentials finds the user matching all known non-password credentials and verifies the
// password against the stored hash. Fields that are no user column are ignored. Users without a local
// password never match.
func (s *Store) RetrieveByCredentials(ctx context.Context, credentials bridge.Credentials) (*bridge.Identity, error) {
	query := s.db.WithContext(ctx).Model(&User{})

	conditions := 0
	for key, value := range credentials {
		if key == s.passwordKey {
			continue
		}

		column, ok := credentialColumns[key]
		if !ok {
			// form fields like csrf tokens or submit buttons
			s.logger.Debug("ignoring credentials field", zap.String("field", key))
			continue
		}

		query = query.Where(column+" = ?", value)
		conditions++
	}

	if conditions == 0 {
		return nil, nil
	}

	var user User
	if err := query.First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "could not query user")
	}

	password := credentials[s.passwordKey]
	if user.PasswordHash == "" || password == "" {
		return nil, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil
	}

	return user.identity(), nil
}

// RetrieveByID returns the user with the given id
func (s *Store) RetrieveByID(ctx context.Context, id string) (*bridge.Identity, error) {
	user, err := s.userByID(ctx, id)
	if err != nil || user == nil {
		return nil, err
	}

	return user.identity(), nil
}

// RetrieveByToken returns the user with the given id if token equals its remember token
func (s *Store) RetrieveByToken(ctx context.Context, id, token string) (*bridge.Identity, error) {
	if token == "" {
		return nil, nil
	}

	user, err := s.userByID(ctx, id)
	if err != nil || user == nil {
		return nil, err
	}

	if user.RememberToken == "" || subtle.ConstantTimeCompare([]byte(user.RememberToken), []byte(token)) != 1 {
		return nil, nil
	}

	return user.identity(), nil
}

func (s *Store) userByID(ctx context.Context, id string) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "could not query user %s", id)
	}

	return &user, nil
}

// SaveDirectoryIdentity links identity to an existing record, found by id, directory DN or username in
// that order, or creates a new one. The password hash of a linked record is kept.
func (s *Store) SaveDirectoryIdentity(ctx context.Context, identity *bridge.Identity) (*bridge.Identity, error) {
	var saved User

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := findLinked(tx, identity)
		if err != nil {
			return err
		}

		if user == nil {
			user = &User{ID: uuid.New().String()}
		} else if user.Username != identity.Username && identity.Username != "" {
			var conflicting User
			err := tx.Where("username = ? AND id != ?", identity.Username, user.ID).First(&conflicting).Error
			if err == nil {
				return ErrUsernameConflict
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return errors.Wrap(err, "could not check username")
			}
		}

		if identity.Username != "" {
			user.Username = identity.Username
		}
		user.Email = identity.Email
		user.Name = identity.Name
		user.DirectoryDN = identity.DN
		user.AuthSource = AuthSourceDirectory

		if err := tx.Save(user).Error; err != nil {
			return errors.Wrap(err, "could not save user")
		}

		saved = *user
		return nil
	})
	if err != nil {
		return nil, err
	}

	return saved.identity(), nil
}

func findLinked(tx *gorm.DB, identity *bridge.Identity) (*User, error) {
	lookups := []struct {
		column string
		value  string
	}{
		{"id", identity.ID},
		{"directory_dn", identity.DN},
		{"username", identity.Username},
	}

	for _, lookup := range lookups {
		if lookup.value == "" {
			continue
		}

		var user User
		err := tx.Where(lookup.column+" = ?", lookup.value).First(&user).Error
		if err == nil {
			return &user, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrap(err, "could not query user")
		}
	}

	return nil, nil
}

// ListDirectoryIdentities returns all users created or linked by the directory
func (s *Store) ListDirectoryIdentities(ctx context.Context) ([]*bridge.Identity, error) {
	var users []User
	if err := s.db.WithContext(ctx).Where("auth_source = ?", AuthSourceDirectory).Order("username").Find(&users).Error; err != nil {
		return nil, errors.Wrap(err, "could not list directory users")
	}

	identities := make([]*bridge.Identity, 0, len(users))
	for i := range users {
		identities = append(identities, users[i].identity())
	}

	return identities, nil
}

// CreateLocalUser adds a user that logs in with a local password
func (s *Store) CreateLocalUser(ctx context.Context, username, email, name, password string) (*bridge.Identity, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, errors.Wrap(err, "could not hash password")
	}

	user := User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		AuthSource:   AuthSourceLocal,
	}

	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, errors.Wrapf(err, "could not create user %s", username)
	}

	return user.identity(), nil
}

// Health checks the database connection
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Ping()
}
