package localstore

import (
	"time"

	"github.com/studieren-ohne-grenzen/ldap-bridge/bridge"
)

const (
	AuthSourceLocal     = "local"
	AuthSourceDirectory = "ldap"
)

// User is a row of the users table
type User struct {
	ID       string `gorm:"primaryKey"`
	Username string `gorm:"uniqueIndex;not null"`
	Email    string `gorm:"index"`
	Name     string

	// PasswordHash is empty for users that only log in through the directory
	PasswordHash  string
	RememberToken string

	DirectoryDN string `gorm:"index"`
	AuthSource  string `gorm:"default:'local'"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsDirectoryUser returns true if the user has been created or linked by the directory
func (u *User) IsDirectoryUser() bool {
	return u.AuthSource == AuthSourceDirectory
}

func (u *User) identity() *bridge.Identity {
	source := bridge.SourceLocal
	if u.IsDirectoryUser() {
		source = bridge.SourceDirectory
	}

	return &bridge.Identity{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Name:     u.Name,
		DN:       u.DirectoryDN,
		Source:   source,
	}
}
