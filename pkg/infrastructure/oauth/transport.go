package oauth

import (
	"net/http"
)

// TokenSource supplies the current bearer token.
type TokenSource interface {
	AccessToken() string
}

// StaticToken is a TokenSource pinned to one token, so a caller knows
// exactly which credential a rejected request carried.
type StaticToken string

func (s StaticToken) AccessToken() string { return string(s) }

// Transport is an http.RoundTripper that authenticates all requests
// using the provided TokenSource. It does not retry on 401; the caller
// decides whether a rejected credential is worth a refresh.
type Transport struct {
	// Source supplies the token to be used.
	Source TokenSource

	// Base is the base RoundTripper used to make the actual HTTP requests.
	// If nil, http.DefaultTransport is used.
	Base http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	req2 := cloneRequest(req)
	req2.Header.Set("Authorization", "Bearer "+t.Source.AccessToken())

	return base.RoundTrip(req2)
}

// cloneRequest returns a clone of the provided *http.Request.
// The clone is a shallow copy of the struct and its Header map.
func cloneRequest(r *http.Request) *http.Request {
	r2 := new(http.Request)
	*r2 = *r
	r2.Header = make(http.Header, len(r.Header))
	for k, s := range r.Header {
		r2.Header[k] = append([]string(nil), s...)
	}
	return r2
}

// NewClient returns an HTTP client authenticating as source.
func NewClient(source TokenSource, base http.RoundTripper) *http.Client {
	return &http.Client{Transport: &Transport{Source: source, Base: base}}
}
