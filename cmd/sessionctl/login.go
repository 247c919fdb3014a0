package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/jrsteele09/go-session-keeper/keeper"
	"github.com/jrsteele09/go-session-keeper/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const passwordEnvVar = "SESSIONCTL_PASSWORD"

var (
	loginPassword string
	loginKeep     bool
)

var loginCmd = &cobra.Command{
	Use:   "login USERNAME",
	Short: "Sign in and hold the session until interrupted",
	Long: `Sign in with a username and password and hold the session open, printing
state changes and lifecycle events, until interrupted or logged out elsewhere.

The password comes from --password, then $SESSIONCTL_PASSWORD, then stdin.

Examples:
  sessionctl login alice
  SESSIONCTL_PASSWORD=... sessionctl login alice --keep`,
	Args: cobra.ExactArgs(1),
	RunE: runLogin,
}

var loginExternalCmd = &cobra.Command{
	Use:   "login-external",
	Short: "Sign in through the configured identity provider",
	Long: `Run the authorization code flow against OIDC_ISSUER, listening on
OIDC_REDIRECT_URL for the redirect, and hold the session until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runLoginExternal,
}

func init() {
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password")
	loginCmd.Flags().BoolVar(&loginKeep, "keep", false, "Leave the session open on exit")
	loginExternalCmd.Flags().BoolVar(&loginKeep, "keep", false, "Leave the session open on exit")
}

func runLogin(cmd *cobra.Command, args []string) error {
	password, err := resolvePassword()
	if err != nil {
		return err
	}
	return holdSession(cmd.Context(), func(ctx context.Context, k *keeper.Keeper) error {
		return k.Login(ctx, args[0], password)
	})
}

func runLoginExternal(cmd *cobra.Command, _ []string) error {
	return holdSession(cmd.Context(), func(ctx context.Context, k *keeper.Keeper) error {
		return k.LoginExternal(ctx)
	})
}

// holdSession logs in, then reports until interrupted or until the session ends.
func holdSession(parent context.Context, login func(context.Context, *keeper.Keeper) error) error {
	ctx, cancel := signalContext(parent)
	defer cancel()

	k, err := openKeeper(ctx)
	if err != nil {
		return err
	}
	defer k.Close()

	if err := login(ctx, k); err != nil {
		printState(k.State())
		return err
	}
	printState(k.State())

	ended := make(chan struct{})
	var once sync.Once
	unsubscribe := k.Subscribe(func(s session.State) {
		printState(s)
		if s.Status == session.StatusLoggedOut {
			once.Do(func() { close(ended) })
		}
	})
	defer unsubscribe()
	k.Events().OnAny(printEvent)

	select {
	case <-ctx.Done():
	case <-ended:
		return nil
	}
	if loginKeep {
		fmt.Println("Leaving the session open")
		return nil
	}
	if err := k.Logout(context.WithoutCancel(ctx), false); err != nil {
		log.Warn().Err(err).Msg("Logout failed")
	}
	return nil
}

func resolvePassword() (string, error) {
	if loginPassword != "" {
		return loginPassword, nil
	}
	if p := os.Getenv(passwordEnvVar); p != "" {
		return p, nil
	}
	fmt.Fprint(os.Stderr, "Password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
