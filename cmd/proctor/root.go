package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dj-oyu/proctor-client/internal/api"
	"github.com/dj-oyu/proctor-client/internal/auth"
	"github.com/dj-oyu/proctor-client/internal/config"
	"github.com/dj-oyu/proctor-client/internal/logger"
	"github.com/dj-oyu/proctor-client/internal/nav"
	"github.com/dj-oyu/proctor-client/internal/token"
)

// app holds the collaborators shared by every command.
type app struct {
	cfgFile string
	v       *viper.Viper

	cfg    config.Config
	router *nav.Router
	store  *token.FileStore
	client *api.Client
	guard  *auth.Guard
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "proctor",
		Short:         "Exam proctoring client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./proctor.yaml)")
	flags.String("base-url", "", "backend base URL")
	flags.String("log-level", "", "log level (debug, info, warn, error, silent)")
	flags.String("log-file", "", "also write JSON logs to this rotated file")
	flags.String("token-file", "", "where the bearer token is stored")
	_ = a.v.BindPFlag("server.base_url", flags.Lookup("base-url"))
	_ = a.v.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = a.v.BindPFlag("logging.file", flags.Lookup("log-file"))
	_ = a.v.BindPFlag("auth.token_file", flags.Lookup("token-file"))

	root.AddCommand(
		newRegisterCmd(a),
		newLoginCmd(a),
		newLogoutCmd(a),
		newTestsCmd(a),
		newStartCmd(a),
		newEndCmd(a),
		newHistoryCmd(a),
	)

	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logger.InitWithFile(level, os.Stderr, cfg.Logging.Color, logger.FileOptions{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
	})

	a.router = nav.NewRouter(nav.Route{View: nav.ViewLogin})
	a.store = token.NewFileStore(cfg.Auth.TokenFile)
	a.client = api.NewClient(cfg.Server.BaseURL, api.WithTimeout(cfg.Server.Timeout))
	a.guard = auth.NewGuard(a.store, a.client, a.router)

	logger.Debug("Main", "Backend %s, token file %s", cfg.Server.BaseURL, a.store.Path())
	return nil
}

func isAuthFailure(err error) bool {
	return errors.Is(err, auth.ErrUnauthenticated) || api.IsAuth(err)
}

// signInError turns a missing or rejected credential into a hint to sign in.
func signInError(err error) error {
	if isAuthFailure(err) {
		return fmt.Errorf("not signed in, run `proctor login` first: %w", err)
	}
	return err
}
