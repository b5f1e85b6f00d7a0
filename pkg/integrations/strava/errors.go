package strava

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	httputil "github.com/stridetally/server/pkg/infrastructure/http"
	"github.com/stridetally/server/pkg/types"
)

var (
	// ErrCredentialExpired means the access token was rejected and a
	// refresh may recover.
	ErrCredentialExpired = errors.New("credential expired")
	// ErrPermissionDenied means the athlete did not grant the scope needed
	// to read activities. Refreshing cannot fix it.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrRateLimited means the provider's request budget is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrTransient covers network failures and provider 5xx responses.
	ErrTransient = errors.New("transient provider failure")
)

// FetchError is the failure value of one fetch. It matches its Kind with
// errors.Is and exposes the underlying *httputil.HTTPError via errors.As.
type FetchError struct {
	AthleteID string
	Kind      error
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch activities for athlete %s: %v: %v", e.AthleteID, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// FailureKind maps an error onto the run-summary taxonomy.
func FailureKind(err error) types.FailureKind {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return types.FailurePermissionDenied
	case errors.Is(err, ErrCredentialExpired):
		return types.FailureCredentialExpired
	case errors.Is(err, ErrRateLimited):
		return types.FailureRateLimited
	default:
		return types.FailureTransient
	}
}

// Retryable reports whether a failed athlete belongs on the serial retry
// list. Permission errors are terminal and a rate limit is only relieved
// by the inter-batch delay.
func Retryable(err error) bool {
	return !errors.Is(err, ErrPermissionDenied) && !errors.Is(err, ErrRateLimited)
}

// outcome is the metrics label for err.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(FailureKind(err))
}

type apiFault struct {
	Message string `json:"message"`
	Errors  []struct {
		Resource string `json:"resource"`
		Field    string `json:"field"`
		Code     string `json:"code"`
	} `json:"errors"`
}

// classify maps a provider error response onto the taxonomy.
func classify(httpErr *httputil.HTTPError) error {
	switch {
	case httpErr.StatusCode == http.StatusForbidden:
		return ErrPermissionDenied
	case httpErr.StatusCode == http.StatusUnauthorized:
		if scopeMissing(httpErr.Body) {
			return ErrPermissionDenied
		}
		return ErrCredentialExpired
	case httpErr.StatusCode == http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return ErrTransient
	}
}

// scopeMissing detects a 401 caused by an ungranted scope, e.g.
// {"field":"activity:read_permission","code":"missing"}.
func scopeMissing(body string) bool {
	var fault apiFault
	if err := json.Unmarshal([]byte(body), &fault); err == nil {
		for _, e := range fault.Errors {
			if strings.HasSuffix(e.Field, "_permission") || e.Code == "missing" {
				return true
			}
		}
		return false
	}
	return strings.Contains(body, "_permission")
}
