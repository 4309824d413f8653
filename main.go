package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/RangelReale/osin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/studieren-ohne-grenzen/ldap-bridge/bridge"
	"github.com/studieren-ohne-grenzen/ldap-bridge/ldapauthenticator"
	"github.com/studieren-ohne-grenzen/ldap-bridge/localstore"
	"github.com/studieren-ohne-grenzen/ldap-bridge/mattermoststore"
	"github.com/studieren-ohne-grenzen/ldap-bridge/oauthenticator"
)

// userStore is a local store that also keeps directory linked identities
type userStore interface {
	bridge.LocalStore
	bridge.IdentityStore
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	var cli cliParameters
	flags, err := handleCLIParameters(&cli, os.Args[1:])
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, err)
			flags.PrintDefaults()
		}
		os.Exit(2)
	}

	if err := run(cli, logger); err != nil {
		logger.Fatal("ldap-bridge failed", zap.Error(err))
	}
}

func run(cli cliParameters, logger *zap.Logger) error {
	cfg, err := parseConfig(*cli.ConfigPath)
	if err != nil {
		return err
	}

	if *cli.AddUser {
		identity, err := addLocalUser(context.Background(), cfg, cli, logger)
		if err != nil {
			return err
		}

		logger.Info("local user created", zap.String("id", identity.ID), zap.String("username", identity.Username))
		return nil
	}

	logger.Info("initializing SQL connection", zap.String("host", cfg.Mysql.Host), zap.String("db", cfg.Mysql.OauthDB))
	db, err := sql.Open("mysql", cfg.Mysql.DSN())
	if err != nil {
		return errors.Wrap(err, "could not open oauth database")
	}
	defer db.Close()

	if *cli.AddClient || *cli.RevokeClient {
		oauthServer, err := oauthenticator.NewServer(db, cfg.Mysql.OauthSchemaPrefix, osin.NewServerConfig(), nil, logger)
		if err != nil {
			return err
		}

		if *cli.AddClient {
			return oauthServer.CreateClient(*cli.ClientID, *cli.ClientSecret, *cli.RedirectURI)
		}

		return oauthServer.RemoveClient(*cli.ClientID)
	}

	bridgeConfig := cfg.toBridgeConfig()

	transformer := ldapauthenticator.NewAttributeTransformer(cfg.Ldap.UsernamePrefix)
	transformer.AdditionalSelectors = []string{bridgeConfig.LoginAttribute, bridgeConfig.UsernameAttribute}

	directory := ldapauthenticator.NewAuthenticator(cfg.Ldap.BindDn, cfg.Ldap.BindPassword, cfg.Ldap.QueryDn, transformer).
		WithLogger(logger.Named("ldap"))
	directory.UserFilter = cfg.Ldap.UserFilter
	if err := directory.Connect(cfg.Ldap.BindURL); err != nil {
		// an unreachable directory degrades to the local store
		logger.Error("could not connect to the directory", zap.Error(err))
	}
	defer directory.Close()

	store, err := newUserStore(cfg, bridgeConfig, logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	b, err := bridge.New(bridgeConfig, directory, store, store,
		bridge.WithLogger(logger.Named("bridge")),
		bridge.WithMetrics(bridge.NewMetrics(registry)),
		bridge.WithTransformer(transformer),
	)
	if err != nil {
		return err
	}

	if *cli.SyncOnce {
		synced, err := b.SyncLinked(context.Background())
		if err != nil {
			return err
		}

		logger.Info("directory sync finished", zap.Int("synced", synced))
		return nil
	}

	sync := directorySync{syncer: b, logger: logger.Named("sync")}
	if err := sync.schedule(cfg.General.SyncInterval); err != nil {
		return err
	}

	osinConfig := osin.NewServerConfig()
	osinConfig.AllowGetAccessRequest = true
	osinConfig.AllowClientSecretInParams = true

	oauthServer, err := oauthenticator.NewServer(db, cfg.Mysql.OauthSchemaPrefix, osinConfig, b, logger.Named("oauth"))
	if err != nil {
		return err
	}
	configureRoutes(oauthServer, cfg.Oauth)
	oauthServer.UsernameKey = bridgeConfig.UsernameKey
	oauthServer.PasswordKey = bridgeConfig.PasswordKey
	oauthServer.Metrics = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	if checker, ok := store.(healthChecker); ok {
		oauthServer.Health = checker.Health
	}

	return oauthServer.ListenAndServe(cfg.General.ListenAddr)
}

type healthChecker interface {
	Health() error
}

// addLocalUser creates a user with a local password, used by the login fallback
func addLocalUser(ctx context.Context, cfg config, cli cliParameters, logger *zap.Logger) (*bridge.Identity, error) {
	if cfg.Store.Driver == "mattermost" {
		return nil, errors.New("local users can only be added to the sqlite or postgres store")
	}

	store, err := localstore.New(cfg.Store.Driver, cfg.Store.DSN, localstore.WithLogger(logger.Named("store")))
	if err != nil {
		return nil, err
	}

	return store.CreateLocalUser(ctx, *cli.Username, *cli.Email, *cli.Name, *cli.Password)
}

func newUserStore(cfg config, bridgeConfig bridge.Config, logger *zap.Logger) (userStore, error) {
	if cfg.Store.Driver == "mattermost" {
		return mattermoststore.New(cfg.Mattermost.URL, cfg.Mattermost.Username, cfg.Mattermost.Password, bridgeConfig, logger.Named("mattermost"))
	}

	return localstore.New(cfg.Store.Driver, cfg.Store.DSN,
		localstore.WithPasswordKey(bridgeConfig.PasswordKey),
		localstore.WithLogger(logger.Named("store")),
	)
}

// configureRoutes overrides the default routes with the configured ones
func configureRoutes(server *oauthenticator.Server, cfg OauthConfig) {
	set := func(target *string, value string) {
		if value != "" {
			*target = value
		}
	}

	set(&server.RouteInfo, cfg.RouteInfo)
	set(&server.RouteLogin, cfg.RouteLogin)
	set(&server.RouteStatic, cfg.RouteStatic)
	set(&server.RouteToken, cfg.RouteToken)
	set(&server.RouteTokenInfo, cfg.RouteTokenInfo)
	set(&server.TemplatePath, cfg.TemplatePath)
	server.StaticPath = cfg.StaticPath
}
