package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jrsteele09/go-session-keeper/internal/config"
	sessionerrors "github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/jrsteele09/go-session-keeper/keeper"
	"github.com/jrsteele09/go-session-keeper/provider"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Exit codes for sessionctl commands.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1
	// ExitCodeAuthRequired means there is no session, or it ended.
	ExitCodeAuthRequired = 2
	// ExitCodeAuthFailed means the service rejected the credentials.
	ExitCodeAuthFailed = 3
)

var (
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "sessionctl",
	Short: "Sign in to the session service and share the session between processes",
	Long: `sessionctl keeps a login session for the session service.

Every sessionctl process is one tab of the same origin: the refresh token and
login/logout broadcasts live in STORAGE_DIR, so a login held open by one process
is picked up by "watch" in another, and "logout" ends it everywhere.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			if err := os.Setenv(config.ConfigFileVar, configFile); err != nil {
				return err
			}
			config.ResetFileValues()
		}
		setupLogging()
		return nil
	},
}

// Execute runs the root command and exits with a code describing the failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

func getExitCode(err error) int {
	switch {
	case errors.Is(err, sessionerrors.ErrNoCredentials),
		errors.Is(err, sessionerrors.ErrSessionExpired),
		errors.Is(err, sessionerrors.ErrRefreshTokenExpired):
		return ExitCodeAuthRequired
	case errors.Is(err, sessionerrors.ErrUnauthorized),
		errors.Is(err, sessionerrors.ErrForbidden),
		errors.Is(err, sessionerrors.ErrInvalidCredentials):
		return ExitCodeAuthFailed
	}
	return ExitCodeError
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML file overlaying the environment configuration")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (default from LOG_LEVEL)")

	rootCmd.AddCommand(loginCmd, loginExternalCmd, logoutCmd, statusCmd, callCmd, watchCmd)
}

func setupLogging() {
	level := logLevel
	if level == "" {
		level = config.New().GetLogLevel()
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// openKeeper opens this process's tab on the shared storage directory.
func openKeeper(ctx context.Context) (*keeper.Keeper, error) {
	cfg := config.New()
	return keeper.New(ctx, cfg, keeper.WithProviderOptions(
		provider.WithCodeSource(provider.LoopbackCodeSource(cfg.GetProviderRedirectURL(), printAuthURL)),
	))
}

// signalContext is cancelled on interrupt or termination.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
