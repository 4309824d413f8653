// Package ldapauthenticator is a small LDAP directory client built on github.com/go-ldap/ldap. It looks up
// entries by a single attribute and verifies passwords by binding as the entry.
package ldapauthenticator

// Profile holds the user fields copied from a directory entry into a local identity
type Profile struct {
	DN       string
	Username string
	Email    string
	Name     string

	Attributes map[string][]string
}

// Transformer transforms a user entry into the profile of a local identity
type Transformer interface {
	// Transform a single LDAP user entry into a profile
	Transform(entry *UserEntry) Profile

	// Selectors to use by this Transformer
	Selectors() []string
}

// AttributeTransformer copies mail, common name and uid attributes of an entry
type AttributeTransformer struct {
	UsernamePrefix string

	MailAttrName string
	CNAttrName   string
	UIDAttrName  string

	AdditionalSelectors []string
}

// NewAttributeTransformer uses the attribute names found in most inetOrgPerson directories
func NewAttributeTransformer(usernamePrefix string) AttributeTransformer {
	return AttributeTransformer{
		UsernamePrefix: usernamePrefix,
		MailAttrName:   "mail",
		CNAttrName:     "cn",
		UIDAttrName:    "uid",
	}
}

// Selectors used by the transformer
func (transformer AttributeTransformer) Selectors() []string {
	selectors := make([]string, 0, len(transformer.AdditionalSelectors)+3)
	selectors = append(selectors, transformer.AdditionalSelectors...)

	return append(selectors, transformer.MailAttrName, transformer.CNAttrName, transformer.UIDAttrName)
}

// Transform performs the actual transformation
func (transformer AttributeTransformer) Transform(entry *UserEntry) Profile {
	profile := Profile{
		DN:         entry.DN(),
		Attributes: entry.Attributes(),
	}

	if mail, ok := entry.First(transformer.MailAttrName); ok {
		profile.Email = mail
	}

	if cn, ok := entry.First(transformer.CNAttrName); ok {
		profile.Name = cn
	}

	if uid, ok := entry.First(transformer.UIDAttrName); ok {
		profile.Username = transformer.UsernamePrefix + uid
	}

	return profile
}
