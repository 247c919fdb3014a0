package transport_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sessionerrors "github.com/jrsteele09/go-session-keeper/internal/errors"
	"github.com/jrsteele09/go-session-keeper/transport"
	"github.com/stretchr/testify/require"
)

func TestClient_SendsJSONWithBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/items", r.URL.Path)
		require.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "value", body["key"])
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"42"}`))
	}))
	defer srv.Close()

	client := transport.New(srv.URL + "/")
	resp, err := client.Do(context.Background(), transport.Request{
		Method: http.MethodPost,
		Path:   "items",
		Body:   map[string]string{"key": "value"},
		Token:  "token-1",
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.Status)

	var out struct{ ID string }
	require.NoError(t, resp.Decode(&out))
	require.Equal(t, "42", out.ID)
}

func TestClient_APIErrorKeepsServerMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"invalid_request","message":"title is required"}`))
	}))
	defer srv.Close()

	_, err := transport.New(srv.URL).Do(context.Background(), transport.Request{Path: "/items"})
	require.Error(t, err)

	var apiErr *sessionerrors.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnprocessableEntity, apiErr.Status)
	require.Equal(t, "invalid_request", apiErr.Code)
	require.Equal(t, "title is required", sessionerrors.MessageOf(err))
	require.True(t, errors.Is(err, sessionerrors.ErrValidation))
	require.False(t, errors.Is(err, sessionerrors.ErrRouteNotFound))
}

func TestClient_RouterNotFoundIsRouting(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := transport.New(srv.URL).Do(context.Background(), transport.Request{Path: "/missing"})
	require.True(t, errors.Is(err, sessionerrors.ErrRouteNotFound))
	require.True(t, errors.Is(err, sessionerrors.ErrNotFound))
}

func TestClient_BusinessNotFoundIsNotRouting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not_found","message":"exam 7 does not exist"}`))
	}))
	defer srv.Close()

	_, err := transport.New(srv.URL).Do(context.Background(), transport.Request{Path: "/exams/7"})
	require.True(t, errors.Is(err, sessionerrors.ErrNotFound))
	require.False(t, errors.Is(err, sessionerrors.ErrRouteNotFound))
}

func TestClient_NetworkFailureIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := transport.New(url).Do(context.Background(), transport.Request{Path: "/x"})
	require.True(t, errors.Is(err, sessionerrors.ErrTransport))
	require.Zero(t, sessionerrors.StatusOf(err))
}

func TestClient_TimeoutIsTransport(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	_, err := transport.New(srv.URL, transport.WithTimeout(20*time.Millisecond)).
		Do(context.Background(), transport.Request{Path: "/slow"})
	require.True(t, errors.Is(err, sessionerrors.ErrTransport))
}

func TestResponse_DecodeMalformedIsTransport(t *testing.T) {
	resp := &transport.Response{Status: http.StatusOK, Body: []byte("<html>")}
	var v map[string]any
	require.True(t, errors.Is(resp.Decode(&v), sessionerrors.ErrTransport))

	empty := &transport.Response{Status: http.StatusNoContent}
	require.True(t, errors.Is(empty.Decode(&v), sessionerrors.ErrTransport))
}
