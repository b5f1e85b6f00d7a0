package sentry

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_NoDSN(t *testing.T) {
	assert.NoError(t, Init(Config{}, nil))
}

func TestScrub(t *testing.T) {
	ev := &sentry.Event{Request: &sentry.Request{Headers: map[string]string{
		"Authorization": "Bearer secret",
		"Cookie":        "session=1",
		"Accept":        "application/json",
	}}}

	out := scrub(ev, nil)
	require.NotNil(t, out)
	assert.Equal(t, map[string]string{"Accept": "application/json"}, out.Request.Headers)
}

func TestMiddleware_RecoversPanic(t *testing.T) {
	h := Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotNil(t, sentry.GetHubFromContext(r.Context()))
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/standings", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMiddleware_PassesThrough(t *testing.T) {
	h := Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sync/range", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}
