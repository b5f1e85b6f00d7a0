package httputil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestParseErrorResponse_Success(t *testing.T) {
	resp := &http.Response{
		StatusCode: 200,
		Body:       http.NoBody,
	}

	err := ParseErrorResponse(resp)
	if err != nil {
		t.Errorf("Expected nil error for 200 response, got: %v", err)
	}
}

func TestParseErrorResponse_Error(t *testing.T) {
	body := `{"message":"Authorization Error","errors":[{"resource":"Athlete","field":"access_token","code":"invalid"}]}`
	resp := &http.Response{
		StatusCode: 401,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    httptest.NewRequest("GET", "https://api.example.com/athlete/activities", nil),
	}

	err := ParseErrorResponse(resp)
	if err == nil {
		t.Fatal("Expected error for 401 response")
	}

	httpErr, ok := err.(*HTTPError)
	if !ok {
		t.Fatalf("Expected *HTTPError, got %T", err)
	}

	if httpErr.StatusCode != 401 {
		t.Errorf("Expected status 401, got %d", httpErr.StatusCode)
	}
	if httpErr.IsServerError() {
		t.Error("401 is not a server error")
	}
	if !strings.Contains(httpErr.Body, "access_token") {
		t.Errorf("Expected body to contain error detail, got: %s", httpErr.Body)
	}
	if !strings.Contains(httpErr.URL, "/athlete/activities") {
		t.Errorf("Expected URL to be recorded, got: %s", httpErr.URL)
	}
}

func TestParseErrorResponse_RetryAfter(t *testing.T) {
	tests := []struct {
		header string
		want   time.Duration
	}{
		{"", 0},
		{"120", 2 * time.Minute},
		{"Wed, 21 Oct 2015 07:28:00 GMT", 0},
		{"-5", 0},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("Retry-After", tt.header)
			}
			resp := &http.Response{
				StatusCode: 429,
				Header:     h,
				Body:       http.NoBody,
			}

			httpErr := ParseErrorResponse(resp).(*HTTPError)
			if httpErr.RetryAfter != tt.want {
				t.Errorf("RetryAfter = %v, want %v", httpErr.RetryAfter, tt.want)
			}
		})
	}
}

func TestParseErrorResponse_BodyRewrap(t *testing.T) {
	body := `{"error": "test"}`
	resp := &http.Response{
		StatusCode: 500,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    httptest.NewRequest("GET", "https://api.example.com/test", nil),
	}

	err := ParseErrorResponse(resp)
	if !err.(*HTTPError).IsServerError() {
		t.Error("500 should be a server error")
	}

	// Body should be re-wrapped and readable
	rewrappedBody := make([]byte, 100)
	n, _ := resp.Body.Read(rewrappedBody)
	if string(rewrappedBody[:n]) != body {
		t.Errorf("Body not properly re-wrapped, got: %s", string(rewrappedBody[:n]))
	}
}

func TestTruncate(t *testing.T) {
	short := "hello"
	if Truncate(short, 10) != "hello" {
		t.Error("Short string should not be truncated")
	}

	long := strings.Repeat("a", 600)
	truncated := Truncate(long, 500)
	if len(truncated) != 503 { // 500 + "..."
		t.Errorf("Expected length 503, got %d", len(truncated))
	}
	if !strings.HasSuffix(truncated, "...") {
		t.Error("Truncated string should end with ...")
	}
}
