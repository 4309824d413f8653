package bridge

import "strings"

// Principal converts a login attribute value into the name used for the bind.
// Without a login pattern the username is returned verbatim.
func (c Config) Principal(username string) string {
	if c.LoginPattern == "" {
		return username
	}

	principal := strings.ReplaceAll(c.LoginPattern, UsernamePlaceholder, username)

	return strings.ReplaceAll(principal, BaseDNPlaceholder, c.BaseDN)
}
