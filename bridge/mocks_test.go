package bridge

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/studieren-ohne-grenzen/ldap-bridge/ldapauthenticator"
)

type mockDirectory struct {
	mock.Mock
}

func (m *mockDirectory) IsBound() bool {
	return m.Called().Bool(0)
}

func (m *mockDirectory) Search(ctx context.Context, attribute, value string) ([]ldapauthenticator.Entry, error) {
	args := m.Called(ctx, attribute, value)
	entries, _ := args.Get(0).([]ldapauthenticator.Entry)
	return entries, args.Error(1)
}

func (m *mockDirectory) Bind(ctx context.Context, principal, password string) (bool, error) {
	args := m.Called(ctx, principal, password)
	return args.Bool(0), args.Error(1)
}

type mockLocalStore struct {
	mock.Mock
}

func (m *mockLocalStore) RetrieveByCredentials(ctx context.Context, credentials Credentials) (*Identity, error) {
	args := m.Called(ctx, credentials)
	identity, _ := args.Get(0).(*Identity)
	return identity, args.Error(1)
}

func (m *mockLocalStore) RetrieveByID(ctx context.Context, id string) (*Identity, error) {
	args := m.Called(ctx, id)
	identity, _ := args.Get(0).(*Identity)
	return identity, args.Error(1)
}

func (m *mockLocalStore) RetrieveByToken(ctx context.Context, id, token string) (*Identity, error) {
	args := m.Called(ctx, id, token)
	identity, _ := args.Get(0).(*Identity)
	return identity, args.Error(1)
}

type mockIdentityStore struct {
	mock.Mock
}

func (m *mockIdentityStore) SaveDirectoryIdentity(ctx context.Context, identity *Identity) (*Identity, error) {
	args := m.Called(ctx, identity)
	stored, _ := args.Get(0).(*Identity)
	return stored, args.Error(1)
}

func (m *mockIdentityStore) ListDirectoryIdentities(ctx context.Context) ([]*Identity, error) {
	args := m.Called(ctx)
	identities, _ := args.Get(0).([]*Identity)
	return identities, args.Error(1)
}
