package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httputil "github.com/stridetally/server/pkg/infrastructure/http"
)

func TestProviderRefresher(t *testing.T) {
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = map[string]string{
			"grant_type":    r.PostForm.Get("grant_type"),
			"refresh_token": r.PostForm.Get("refresh_token"),
			"client_id":     r.PostForm.Get("client_id"),
			"client_secret": r.PostForm.Get("client_secret"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token_type":"Bearer","access_token":"at-2","refresh_token":"rt-2","expires_in":21600}`))
	}))
	defer srv.Close()

	r := NewProviderRefresher("cid", "secret", srv.URL, srv.Client())
	creds, err := r.Refresh(context.Background(), "rt-1")
	require.NoError(t, err)

	assert.Equal(t, "at-2", creds.AccessToken)
	assert.Equal(t, "rt-2", creds.RefreshToken)
	assert.False(t, creds.ExpiresAt.IsZero())

	assert.Equal(t, "refresh_token", form["grant_type"])
	assert.Equal(t, "rt-1", form["refresh_token"])
	assert.Equal(t, "cid", form["client_id"])
	assert.Equal(t, "secret", form["client_secret"])
}

func TestProviderRefresher_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token_type":"Bearer","access_token":"at-2","expires_in":21600}`))
	}))
	defer srv.Close()

	creds, err := NewProviderRefresher("cid", "secret", srv.URL, srv.Client()).Refresh(context.Background(), "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "rt-1", creds.RefreshToken)
}

func TestProviderRefresher_ProviderRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Bad Request","errors":[{"resource":"RefreshToken","field":"refresh_token","code":"invalid"}]}`))
	}))
	defer srv.Close()

	_, err := NewProviderRefresher("cid", "secret", srv.URL, srv.Client()).Refresh(context.Background(), "revoked")
	require.Error(t, err)

	var httpErr *httputil.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.Contains(t, httpErr.Body, "refresh_token")
}

func TestProviderRefresher_MissingToken(t *testing.T) {
	_, err := NewProviderRefresher("cid", "secret", "", nil).Refresh(context.Background(), "")
	assert.Error(t, err)
}
