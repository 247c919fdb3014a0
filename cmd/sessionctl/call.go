package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-session-keeper/dispatch"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	callUsername string
	callBody     string
	callExternal bool
	callFallback []string
)

var callCmd = &cobra.Command{
	Use:   "call METHOD PATH",
	Short: "Send an authenticated request to the service",
	Long: `Sign in, send one request with the session's credentials and sign out.

When PATH is unavailable, each FALLBACK_PATHS prefix (or --fallback path) is
tried in turn.

Examples:
  sessionctl call GET /exams -u alice
  sessionctl call GET /exams/1/attempts -u alice --fallback /api/v2/exams/1/attempts`,
	Args: cobra.ExactArgs(2),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVarP(&callUsername, "username", "u", "", "Username to sign in with")
	callCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password")
	callCmd.Flags().StringVarP(&callBody, "data", "d", "", "JSON request body")
	callCmd.Flags().BoolVar(&callExternal, "external", false, "Sign in and authenticate through the identity provider")
	callCmd.Flags().StringSliceVar(&callFallback, "fallback", nil, "Full fallback paths, overriding FALLBACK_PATHS")
}

func runCall(cmd *cobra.Command, args []string) error {
	method, path := strings.ToUpper(args[0]), args[1]
	var body any
	if callBody != "" {
		var raw json.RawMessage
		if err := json.Unmarshal([]byte(callBody), &raw); err != nil {
			return fmt.Errorf("request body is not JSON: %w", err)
		}
		body = raw
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	k, err := openKeeper(ctx)
	if err != nil {
		return err
	}
	defer k.Close()

	switch {
	case callExternal:
		err = k.LoginExternal(ctx)
	case callUsername != "":
		var password string
		if password, err = resolvePassword(); err == nil {
			err = k.Login(ctx, callUsername, password)
		}
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := k.Logout(context.WithoutCancel(ctx), false); err != nil {
			log.Warn().Err(err).Msg("Logout failed")
		}
	}()

	opts := dispatch.Options{PreferExternalProvider: callExternal, FallbackPaths: callFallback}
	if len(opts.FallbackPaths) == 0 {
		opts.FallbackPaths = k.FallbackPaths(path)
	}
	resp, err := k.CallWith(ctx, method, path, body, opts)
	if err != nil {
		return err
	}
	status, data := resp.Status, resp.Body
	log.Debug().Int("status", status).Str("path", path).Msg("Call succeeded")
	var pretty bytes.Buffer
	if json.Indent(&pretty, data, "", "  ") == nil {
		data = pretty.Bytes()
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s\n%s\n", method, path, http.StatusText(status), data)
	return nil
}
