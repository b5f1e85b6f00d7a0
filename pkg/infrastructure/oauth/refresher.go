package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	httputil "github.com/stridetally/server/pkg/infrastructure/http"
	"github.com/stridetally/server/pkg/types"
)

// DefaultTokenURL is the provider's token endpoint.
const DefaultTokenURL = "https://www.strava.com/oauth/token"

// Refresher exchanges a refresh token for a new credential pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (types.Credentials, error)
}

// ProviderRefresher performs the refresh-token grant against the provider.
// The provider expects client_id and client_secret in the form body.
type ProviderRefresher struct {
	config *oauth2.Config
	client *http.Client
}

func NewProviderRefresher(clientID, clientSecret, tokenURL string, client *http.Client) *ProviderRefresher {
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &ProviderRefresher{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client: client,
	}
}

func (r *ProviderRefresher) Refresh(ctx context.Context, refreshToken string) (types.Credentials, error) {
	if refreshToken == "" {
		return types.Credentials{}, fmt.Errorf("missing refresh token")
	}
	if r.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	}

	tok, err := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return types.Credentials{}, fmt.Errorf("refresh failed: %w", &httputil.HTTPError{
				StatusCode: re.Response.StatusCode,
				Status:     http.StatusText(re.Response.StatusCode),
				Body:       httputil.Truncate(string(re.Body), httputil.MaxErrorBodySize),
				URL:        r.config.Endpoint.TokenURL,
			})
		}
		return types.Credentials{}, fmt.Errorf("refresh request failed: %w", err)
	}

	creds := types.Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	// The provider may not rotate the refresh token.
	if creds.RefreshToken == "" {
		creds.RefreshToken = refreshToken
	}
	return creds, nil
}
