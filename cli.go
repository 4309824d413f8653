package main

import (
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
)

type cliParameters struct {
	StartServer  *bool
	AddClient    *bool
	RevokeClient *bool
	SyncOnce     *bool
	AddUser      *bool

	ClientID     *string
	ClientSecret *string
	RedirectURI  *string

	Username *string
	Email    *string
	Name     *string
	Password *string

	ConfigPath *string
}

func newFlagSet(params *cliParameters) *flag.FlagSet {
	flags := flag.NewFlagSet("ldap-bridge", flag.ContinueOnError)

	params.StartServer = flags.Bool("start-server", false, "Starts the webserver if set.")
	params.AddClient = flags.Bool("add-client", false, "Add the specified ClientId and Secret.")
	params.RevokeClient = flags.Bool("revoke-client", false, "Revokes the ClientId.")
	params.SyncOnce = flags.Bool("sync", false, "Refreshes all directory linked identities once and exits.")
	params.AddUser = flags.Bool("add-user", false, "Adds a user with a local password to the sqlite or postgres store.")
	params.ClientID = flags.String("client-id", "", "The new ClientId to be added or revoked.")
	params.ClientSecret = flags.String("client-secret", "", "The new ClientSecret.")
	params.RedirectURI = flags.String("redirect-uri", "", "The RedirectUri.")
	params.Username = flags.String("username", "", "The username of the new local user.")
	params.Email = flags.String("email", "", "The email of the new local user.")
	params.Name = flags.String("name", "", "The display name of the new local user.")
	params.Password = flags.String("password", "", "The password of the new local user.")
	params.ConfigPath = flags.StringP("config", "c", "", "Path to config file in ini format.")

	return flags
}

func handleCLIParameters(params *cliParameters, args []string) (*flag.FlagSet, error) {
	flags := newFlagSet(params)
	if err := flags.Parse(args); err != nil {
		return flags, err
	}

	return flags, params.validate()
}

func (params *cliParameters) validate() error {
	if *params.ConfigPath == "" {
		return errors.New("no config path given")
	}

	modes := 0
	for _, set := range []bool{*params.StartServer, *params.AddClient, *params.RevokeClient, *params.SyncOnce, *params.AddUser} {
		if set {
			modes++
		}
	}

	switch {
	case modes == 0:
		return errors.New("you need to specify start-server, add-client, revoke-client, add-user or sync")
	case *params.StartServer && modes > 1:
		return errors.New("you can not add/revoke a client, add a user or sync and start the server")
	case modes > 1:
		return errors.New("only one of add-client, revoke-client, add-user and sync can be given")
	}

	if *params.AddClient {
		if *params.ClientID == "" {
			return errors.New("invalid client id")
		}

		if *params.ClientSecret == "" {
			return errors.New("invalid client secret")
		}
	}

	if *params.RevokeClient && *params.ClientID == "" {
		return errors.New("invalid client id")
	}

	if *params.AddUser {
		if *params.Username == "" {
			return errors.New("invalid username")
		}

		if *params.Password == "" {
			return errors.New("invalid password")
		}
	}

	return nil
}
