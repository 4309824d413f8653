package main

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	gcfg "gopkg.in/gcfg.v1"

	"github.com/studieren-ohne-grenzen/ldap-bridge/bridge"
)

// MysqlConfig describes all possible MySQL configuration fields
type MysqlConfig struct {
	OauthDB           string `validate:"required"`
	OauthSchemaPrefix string
	Host              string `validate:"required"`
	Port              string `validate:"required,numeric"`
	User              string `validate:"required"`
	Password          string
}

// DSN returns the go-sql-driver/mysql data source name of the oauth database
func (c MysqlConfig) DSN() string {
	return c.User + ":" + c.Password + "@tcp(" + c.Host + ":" + c.Port + ")/" + c.OauthDB + "?parseTime=true"
}

// LdapConfig describes all possible LDAP configuration fields
type LdapConfig struct {
	BindDn       string
	BindPassword string
	BindURL      string `validate:"required,url"`
	QueryDn      string `validate:"required"`
	UserFilter   string

	// UsernamePrefix is prepended to the uid of new users. The username links a user to its entry
	// when bridge.usernameKey is username, so a prefix needs an email or mail lookup.
	UsernamePrefix string
}

// BridgeConfig describes how credentials are checked against the directory
type BridgeConfig struct {
	UsernameKey       string
	UsernameAttribute string
	LoginAttribute    string
	PasswordKey       string
	LoginFallback     bool
	LoginPattern      string
	BindToModel       bool
}

// StoreConfig selects the local user store
type StoreConfig struct {
	Driver string `validate:"required,oneof=mattermost sqlite postgres"`
	DSN    string `validate:"required_unless=Driver mattermost"`
}

// OauthConfig describes all possible Oauth configuration fields
type OauthConfig struct {
	StaticPath     string
	TemplatePath   string
	RouteStatic    string
	RouteLogin     string
	RouteToken     string
	RouteTokenInfo string
	RouteInfo      string
}

// MattermostConfig describes all possible Mattermost configuration fields
type MattermostConfig struct {
	URL      string `validate:"omitempty,url"`
	Username string
	Password string
}

// GeneralConfig describes all general configuration properties
type GeneralConfig struct {
	ListenAddr string `validate:"required"`

	// SyncInterval is the number of minutes between two directory syncs, 0 disables the job
	SyncInterval uint64
}

type config struct {
	Ldap       LdapConfig
	Bridge     BridgeConfig
	Store      StoreConfig
	Mysql      MysqlConfig
	Oauth      OauthConfig
	Mattermost MattermostConfig
	General    GeneralConfig
}

func defaultConfig() config {
	defaults := bridge.DefaultConfig()

	return config{
		Bridge: BridgeConfig{
			UsernameKey:       defaults.UsernameKey,
			UsernameAttribute: defaults.UsernameAttribute,
			LoginAttribute:    defaults.LoginAttribute,
			PasswordKey:       defaults.PasswordKey,
		},
		Store: StoreConfig{
			Driver: "mattermost",
		},
		General: GeneralConfig{
			ListenAddr:   ":8080",
			SyncInterval: 5,
		},
	}
}

func parseConfig(path string) (config, error) {
	cfg := defaultConfig()
	if err := gcfg.ReadFileInto(&cfg, path); err != nil {
		return cfg, errors.Wrapf(err, "could not read config %s", path)
	}

	return cfg, cfg.validate()
}

func parseConfigString(content string) (config, error) {
	cfg := defaultConfig()
	if err := gcfg.ReadStringInto(&cfg, content); err != nil {
		return cfg, errors.Wrap(err, "could not parse config")
	}

	return cfg, cfg.validate()
}

func (cfg config) validate() error {
	if err := validator.New().Struct(cfg); err != nil {
		return errors.Wrap(err, "invalid config")
	}

	if cfg.Ldap.UsernamePrefix != "" && cfg.Bridge.UsernameKey == "username" {
		return errors.New("invalid config: ldap.usernamePrefix needs bridge.usernameKey email or mail")
	}

	if cfg.Store.Driver == "mattermost" && cfg.Mattermost.URL == "" {
		return errors.New("invalid config: the mattermost store needs mattermost.url")
	}

	return cfg.toBridgeConfig().Validate()
}

// toBridgeConfig builds the bridge settings, the base DN of login patterns is the query DN
func (cfg config) toBridgeConfig() bridge.Config {
	return bridge.Config{
		UsernameKey:       cfg.Bridge.UsernameKey,
		UsernameAttribute: strings.ToLower(cfg.Bridge.UsernameAttribute),
		LoginAttribute:    strings.ToLower(cfg.Bridge.LoginAttribute),
		PasswordKey:       cfg.Bridge.PasswordKey,
		LoginFallback:     cfg.Bridge.LoginFallback,
		LoginPattern:      cfg.Bridge.LoginPattern,
		BaseDN:            cfg.Ldap.QueryDn,
		BindToModel:       cfg.Bridge.BindToModel,
	}
}
