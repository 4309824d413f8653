package ldapauthenticator

import (
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntryClassification(t *testing.T) {
	tests := []struct {
		name     string
		classes  []string
		wantUser bool
	}{
		{name: "inetOrgPerson", classes: []string{"top", "inetOrgPerson"}, wantUser: true},
		{name: "active directory user", classes: []string{"top", "person", "organizationalPerson", "user"}, wantUser: true},
		{name: "case insensitive", classes: []string{"POSIXACCOUNT"}, wantUser: true},
		{name: "group", classes: []string{"top", "groupOfNames"}, wantUser: false},
		{name: "no object class", classes: nil, wantUser: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := NewEntry("cn=x,dc=example,dc=com", map[string][]string{"objectClass": tt.classes})

			_, isUser := entry.(*UserEntry)
			assert.Equal(t, tt.wantUser, isUser)
		})
	}
}

func TestAttributesAreCaseInsensitive(t *testing.T) {
	entry := NewEntry("cn=alice,dc=example,dc=com", map[string][]string{
		"sAMAccountName": {"alice", "alice2"},
		"mail":           {"alice@example.com"},
	})

	assert.Equal(t, []string{"alice", "alice2"}, entry.Values("samaccountname"))

	first, ok := entry.First("SAMACCOUNTNAME")
	require.True(t, ok)
	assert.Equal(t, "alice", first)

	_, ok = entry.First("telephoneNumber")
	assert.False(t, ok)
}

func TestDNReadsLikeAnAttribute(t *testing.T) {
	entry := NewEntry("cn=alice,ou=berlin,dc=example,dc=com", map[string][]string{"cn": {"alice"}})

	dn, ok := entry.First("DN")
	require.True(t, ok)
	assert.Equal(t, "cn=alice,ou=berlin,dc=example,dc=com", dn)
	assert.NotContains(t, entry.Attributes(), "dn")

	_, ok = NewEntry("", nil).First("dn")
	assert.False(t, ok)
}

func TestAttributesReturnsCopy(t *testing.T) {
	entry := NewEntry("cn=alice,dc=example,dc=com", map[string][]string{"mail": {"alice@example.com"}})

	attrs := entry.Attributes()
	attrs["mail"][0] = "mallory@example.com"

	mail, _ := entry.First("mail")
	assert.Equal(t, "alice@example.com", mail)
}

func TestFromLDAP(t *testing.T) {
	entry := FromLDAP(ldap.NewEntry("uid=bob,dc=example,dc=com", map[string][]string{
		"objectClass": {"person"},
		"uid":         {"bob"},
	}))

	user, ok := entry.(*UserEntry)
	require.True(t, ok)
	assert.Equal(t, "uid=bob,dc=example,dc=com", user.DN())
}

func TestAsUser(t *testing.T) {
	user := NewUserEntry("uid=alice,dc=example,dc=com", nil)
	generic := NewEntry("cn=printer,dc=example,dc=com", map[string][]string{"cn": {"printer"}})

	t.Run("user entry", func(t *testing.T) {
		got, err := AsUser(user)
		require.NoError(t, err)
		assert.Same(t, user, got)
	})

	t.Run("generic entry is promoted", func(t *testing.T) {
		got, err := AsUser(generic)
		require.NoError(t, err)
		assert.Equal(t, "cn=printer,dc=example,dc=com", got.DN())
		cn, _ := got.First("cn")
		assert.Equal(t, "printer", cn)
	})

	t.Run("nil entry", func(t *testing.T) {
		_, err := AsUser(nil)
		assert.ErrorIs(t, err, ErrNilEntry)
	})

	t.Run("typed nil entry", func(t *testing.T) {
		var missing *UserEntry
		_, err := AsUser(missing)
		assert.ErrorIs(t, err, ErrNilEntry)
	})

	t.Run("entry without dn", func(t *testing.T) {
		_, err := AsUser(NewEntry("", map[string][]string{"cn": {"x"}}))
		assert.ErrorIs(t, err, ErrEntryWithoutDN)
	})
}

func TestAttributeTransformer(t *testing.T) {
	transformer := NewAttributeTransformer("ldap_")
	transformer.AdditionalSelectors = []string{"sAMAccountName"}

	assert.Equal(t, []string{"sAMAccountName", "mail", "cn", "uid"}, transformer.Selectors())

	profile := transformer.Transform(NewUserEntry("uid=alice,dc=example,dc=com", map[string][]string{
		"mail": {"alice@example.com", "a@example.com"},
		"cn":   {"Alice Liddell"},
		"uid":  {"alice"},
	}))

	assert.Equal(t, "uid=alice,dc=example,dc=com", profile.DN)
	assert.Equal(t, "alice@example.com", profile.Email)
	assert.Equal(t, "Alice Liddell", profile.Name)
	assert.Equal(t, "ldap_alice", profile.Username)
	assert.Contains(t, profile.Attributes, "uid")
}
