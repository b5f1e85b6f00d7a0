package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	httputil "github.com/stridetally/server/pkg/infrastructure/http"
	"github.com/stridetally/server/pkg/infrastructure/metrics"
	"github.com/stridetally/server/pkg/infrastructure/oauth"
)

const (
	DefaultBaseURL  = "https://www.strava.com/api/v3"
	DefaultPageSize = 100
)

// SummaryActivity is the subset of the provider's activity listing we use.
type SummaryActivity struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Distance   float64   `json:"distance"`    // meters
	MovingTime int       `json:"moving_time"` // seconds
	StartDate  time.Time `json:"start_date"`  // UTC
	Type       string    `json:"type"`
	SportType  string    `json:"sport_type"`
}

// Kind returns the legacy activity type, falling back to sport type.
func (a SummaryActivity) Kind() string {
	if a.Type != "" {
		return a.Type
	}
	return a.SportType
}

// Client lists activities with a caller-supplied access token.
type Client struct {
	baseURL string
	base    http.RoundTripper
	timeout time.Duration
}

func NewClient(baseURL string, base http.RoundTripper, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{baseURL: baseURL, base: base, timeout: timeout}
}

// ListActivities fetches one page of the athlete's activities in
// [after, before).
func (c *Client) ListActivities(ctx context.Context, token string, after, before time.Time, page, perPage int) ([]SummaryActivity, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatInt(after.Unix(), 10))
	q.Set("before", strconv.FormatInt(before.Unix(), 10))
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/athlete/activities?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	hc := oauth.NewClient(oauth.StaticToken(token), c.base)
	hc.Timeout = c.timeout

	metrics.ObserveProviderRequest()
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if err := httputil.ParseErrorResponse(resp); err != nil {
		return nil, err
	}

	var out []SummaryActivity
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode activities: %w", err)
	}
	return out, nil
}
