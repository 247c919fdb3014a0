package provider

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/jrsteele09/go-session-keeper/internal/errors"
)

// LoopbackCodeSource returns a CodeSource that listens on the host and path of
// redirectURL for the provider's redirect. open is given the authorization URL, for
// example to print it or launch a browser.
func LoopbackCodeSource(redirectURL string, open func(authURL string)) CodeSource {
	return func(ctx context.Context, authURL string) (string, string, error) {
		u, err := url.Parse(redirectURL)
		if err != nil || u.Host == "" {
			return "", "", fmt.Errorf("[LoopbackCodeSource] redirect url %q: %w", redirectURL, errors.ErrValidation)
		}
		listener, err := net.Listen("tcp", u.Host)
		if err != nil {
			return "", "", fmt.Errorf("[LoopbackCodeSource] listen: %w", err)
		}

		type result struct {
			code, state string
			err         error
		}
		results := make(chan result, 1)
		mux := http.NewServeMux()
		path := u.Path
		if path == "" {
			path = "/"
		}
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			res := result{code: q.Get("code"), state: q.Get("state")}
			if e := q.Get("error"); e != "" {
				res.err = fmt.Errorf("[LoopbackCodeSource] provider returned %s: %w", e, errors.ErrUnauthorized)
				http.Error(w, "Login failed, you can close this window.", http.StatusUnauthorized)
			} else if res.code == "" {
				res.err = fmt.Errorf("[LoopbackCodeSource] missing code: %w", errors.ErrValidation)
				http.Error(w, "Missing authorization code.", http.StatusBadRequest)
			} else {
				_, _ = fmt.Fprintln(w, "Login complete, you can close this window.")
			}
			select {
			case results <- res:
			default:
			}
		})

		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() { _ = srv.Serve(listener) }()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		if open != nil {
			open(authURL)
		}
		select {
		case <-ctx.Done():
			return "", "", fmt.Errorf("[LoopbackCodeSource] %w", ctx.Err())
		case res := <-results:
			return res.code, res.state, res.err
		}
	}
}
