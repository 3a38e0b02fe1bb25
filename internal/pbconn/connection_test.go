package pbconn

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pbembed/internal/retry"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func factoryFor(rt http.RoundTripper) TransportFactory {
	return func() http.RoundTripper { return rt }
}

func jsonResponse(r *http.Request, status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    r,
	}
}

func newTestConnection(rt http.RoundTripper) *Connection {
	return New("https://pb.example.test/api/", Options{
		Transport: factoryFor(rt),
		Retry:     retry.Policy{Retries: 2, BaseDelay: time.Millisecond},
	})
}

func TestConnection_GetSetsRawTokenAndKeepAlive(t *testing.T) {
	conn := newTestConnection(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %q, want GET", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "tok-123" {
			t.Fatalf("Authorization = %q, want raw token", got)
		}
		if got := r.Header.Get("Connection"); got != "keep-alive" {
			t.Fatalf("Connection = %q, want keep-alive", got)
		}
		return jsonResponse(r, http.StatusOK, `{"id":"rec123"}`), nil
	}))
	conn.SetAuthToken("tok-123")

	result, err := conn.Get(context.Background(), conn.Endpoint("collections", "tasks", "records", "rec123"))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !result.OK() || result.String() != `{"id":"rec123"}` {
		t.Fatalf("Get() = %+v", result)
	}
}

func TestConnection_EmptyBodyIsNotAFailure(t *testing.T) {
	conn := newTestConnection(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return jsonResponse(r, http.StatusNoContent, ""), nil
	}))
	result, err := conn.Delete(context.Background(), conn.Endpoint("collections", "tasks", "records", "x"))
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if result.StatusCode != http.StatusNoContent || len(result.Body) != 0 {
		t.Fatalf("Delete() = %+v", result)
	}
}

func TestConnection_HTTPErrorReturnsResultAndTypedError(t *testing.T) {
	attempts := 0
	conn := newTestConnection(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		attempts++
		return jsonResponse(r, http.StatusNotFound, `{"message":"missing"}`), nil
	}))
	result, err := conn.Get(context.Background(), conn.Endpoint("collections", "tasks", "records", "nope"))
	if !IsNotFound(err) {
		t.Fatalf("Get() error = %v, want not found", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (HTTP errors are not retried)", attempts)
	}
	if result.StatusCode != http.StatusNotFound || !strings.Contains(result.String(), "missing") {
		t.Fatalf("Get() result = %+v", result)
	}
}

func TestConnection_TransportFailureRetriesAndResendsBody(t *testing.T) {
	var bodies []string
	conn := newTestConnection(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		data, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(data))
		if len(bodies) < 3 {
			return nil, errors.New("connection reset by peer")
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Fatalf("Content-Type = %q", got)
		}
		return jsonResponse(r, http.StatusOK, `{"id":"new"}`), nil
	}))

	result, err := conn.Post(context.Background(), conn.Endpoint("collections", "tasks", "records"), []byte(`{"title":"a"}`))
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}
	if len(bodies) != 3 {
		t.Fatalf("attempts = %d, want 3", len(bodies))
	}
	for i, body := range bodies {
		if body != `{"title":"a"}` {
			t.Fatalf("attempt %d body = %q", i+1, body)
		}
	}
	if result.String() != `{"id":"new"}` {
		t.Fatalf("Post() = %+v", result)
	}
}

func TestConnection_TransportFailureExhaustsBudget(t *testing.T) {
	attempts := 0
	conn := newTestConnection(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		attempts++
		return nil, errors.New("no route to host")
	}))
	_, err := conn.Patch(context.Background(), conn.Endpoint("collections", "tasks", "records", "a"), []byte(`{}`))
	var transportErr *retry.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("Patch() error = %T %v, want *retry.TransportError", err, err)
	}
	if attempts != 3 || transportErr.Attempts != 3 {
		t.Fatalf("attempts = %d (reported %d), want 3", attempts, transportErr.Attempts)
	}
}

func TestConnection_RejectsUnsupportedScheme(t *testing.T) {
	conn := newTestConnection(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		t.Fatalf("unexpected request to %s", r.URL)
		return nil, nil
	}))
	if _, err := conn.Get(context.Background(), "ftp://pb.example.test/api/health"); !errors.Is(err, ErrUnsupportedScheme) {
		t.Fatalf("Get() error = %v, want ErrUnsupportedScheme", err)
	}
}

func TestConnection_EndpointEscapesSegments(t *testing.T) {
	conn := New("https://pb.example.test/api/", Options{})
	got := conn.Endpoint("collections", "my tasks", "records", "a/b")
	want := "https://pb.example.test/api/collections/my%20tasks/records/a%2Fb"
	if got != want {
		t.Fatalf("Endpoint() = %q, want %q", got, want)
	}
}

func TestConnection_ForkSharesTokenButNotTransport(t *testing.T) {
	built := 0
	factory := func() http.RoundTripper {
		built++
		return &http.Transport{}
	}
	primary := New("https://pb.example.test/api", Options{Transport: factory})
	primary.SetAuthToken("tok-A")

	fork := primary.Fork()
	if built != 2 {
		t.Fatalf("transports built = %d, want 2", built)
	}
	if fork.HTTPClient() == primary.HTTPClient() || fork.HTTPClient().Transport == primary.HTTPClient().Transport {
		t.Fatalf("fork shares the primary transport handle")
	}
	if fork.AuthToken() != "tok-A" || fork.BaseURL() != primary.BaseURL() {
		t.Fatalf("fork token=%q base=%q", fork.AuthToken(), fork.BaseURL())
	}

	fork.SetAuthToken("tok-B")
	if primary.AuthToken() != "tok-A" {
		t.Fatalf("primary token changed to %q after fork mutation", primary.AuthToken())
	}
	primary.SetAuthToken("tok-C")
	if fork.AuthToken() != "tok-B" {
		t.Fatalf("fork token changed to %q after primary mutation", fork.AuthToken())
	}
	fork.HTTPClient().Timeout = time.Minute
	if primary.HTTPClient().Timeout == time.Minute {
		t.Fatalf("fork client state leaked into primary")
	}
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":   "user1",
		"type": "auth",
		"exp":  exp.Unix(),
	}).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return token
}

func TestConnection_LoginPasswordStoresToken(t *testing.T) {
	exp := time.Unix(1_900_000_000, 0)
	token := signedToken(t, exp)
	conn := newTestConnection(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/api/collections/users/auth-with-password" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "" {
			t.Fatalf("login sent Authorization = %q", got)
		}
		if !r.Close || r.Header.Get("Connection") != "close" {
			t.Fatalf("login must close the connection (Close=%v header=%q)", r.Close, r.Header.Get("Connection"))
		}
		data, _ := io.ReadAll(r.Body)
		if string(data) != `{"identity":"dev@example.test","password":"s3cret"}` {
			t.Fatalf("login body = %s", data)
		}
		return jsonResponse(r, http.StatusOK, `{"token":"`+token+`","record":{"id":"user1","email":"dev@example.test"}}`), nil
	}))

	auth, err := conn.LoginPassword(context.Background(), "dev@example.test", "s3cret", "")
	if err != nil {
		t.Fatalf("LoginPassword() error = %v", err)
	}
	if conn.AuthToken() != token || auth.Token != token {
		t.Fatalf("stored token = %q, auth token = %q", conn.AuthToken(), auth.Token)
	}
	if auth.RecordID() != "user1" || auth.Empty() {
		t.Fatalf("auth = %+v", auth)
	}
	if !auth.ExpiresAt.Equal(exp) {
		t.Fatalf("ExpiresAt = %v, want %v", auth.ExpiresAt, exp)
	}
	if auth.Expired(exp.Add(-time.Minute)) || !auth.Expired(exp) {
		t.Fatalf("Expired() boundary wrong")
	}
	if !auth.ExpiresWithin(exp.Add(-time.Minute), 2*time.Minute) || auth.ExpiresWithin(exp.Add(-time.Hour), time.Minute) {
		t.Fatalf("ExpiresWithin() wrong")
	}
}

func TestConnection_LoginPasswordFailuresKeepPreviousToken(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr func(error) bool
	}{
		{
			name:    "malformed json",
			status:  http.StatusOK,
			body:    `{"token": "abc", "record": `,
			wantErr: func(err error) bool { return errors.Is(err, ErrInvalidJSON) },
		},
		{
			name:    "missing token",
			status:  http.StatusOK,
			body:    `{"record":{"id":"u"}}`,
			wantErr: func(err error) bool { return errors.Is(err, ErrMissingToken) },
		},
		{
			name:    "bad credentials",
			status:  http.StatusBadRequest,
			body:    `{"message":"Failed to authenticate."}`,
			wantErr: func(err error) bool { var s *HTTPStatusError; return errors.As(err, &s) && s.StatusCode == 400 },
		},
		{
			name:    "non-200 success",
			status:  http.StatusNoContent,
			body:    ``,
			wantErr: func(err error) bool { var s *HTTPStatusError; return errors.As(err, &s) && s.StatusCode == 204 },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newTestConnection(roundTripFunc(func(r *http.Request) (*http.Response, error) {
				return jsonResponse(r, tt.status, tt.body), nil
			}))
			conn.SetAuthToken("old-token")

			auth, err := conn.LoginPassword(context.Background(), "u", "p", "users")
			if err == nil || !tt.wantErr(err) {
				t.Fatalf("LoginPassword() error = %v", err)
			}
			if !auth.Empty() {
				t.Fatalf("LoginPassword() auth = %+v, want empty", auth)
			}
			if conn.AuthToken() != "old-token" {
				t.Fatalf("token = %q, want old-token", conn.AuthToken())
			}
		})
	}
}

func TestIsUnauthorized(t *testing.T) {
	if !IsUnauthorized(&HTTPStatusError{StatusCode: 401}) || !IsUnauthorized(&HTTPStatusError{StatusCode: 403}) {
		t.Fatalf("401/403 should be unauthorized")
	}
	if IsUnauthorized(&HTTPStatusError{StatusCode: 404}) || IsUnauthorized(errors.New("x")) {
		t.Fatalf("404/plain errors should not be unauthorized")
	}
}

func TestNew_ZeroRetryPolicyUsesDefaults(t *testing.T) {
	conn := New("https://pb.example.test/api", Options{})
	got := conn.RetryPolicy()
	if got.Retries != retry.DefaultRetries || got.BaseDelay != retry.DefaultBaseDelay {
		t.Fatalf("RetryPolicy() = %d retries / %v, want %d / %v", got.Retries, got.BaseDelay, retry.DefaultRetries, retry.DefaultBaseDelay)
	}
	if fork := conn.Fork().RetryPolicy(); fork.Retries != retry.DefaultRetries {
		t.Fatalf("fork RetryPolicy().Retries = %d, want %d", fork.Retries, retry.DefaultRetries)
	}

	explicit := New("https://pb.example.test/api", Options{Retry: retry.Policy{BaseDelay: time.Millisecond}})
	if got := explicit.RetryPolicy(); got.Retries != 0 {
		t.Fatalf("explicit RetryPolicy().Retries = %d, want 0", got.Retries)
	}
}

func TestConnection_OversizedBodyIsAnError(t *testing.T) {
	body := `{"items":["` + strings.Repeat("x", 64) + `"]}`
	conn := New("https://pb.example.test/api", Options{
		Transport: factoryFor(roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return jsonResponse(r, http.StatusOK, body), nil
		})),
		MaxResponseBytes: 16,
		Retry:            retry.Policy{Retries: 1, BaseDelay: time.Millisecond},
	})

	result, err := conn.Get(context.Background(), conn.Endpoint("collections", "tasks", "records"))
	if !errors.Is(err, ErrResponseTooLarge) {
		t.Fatalf("Get() error = %v, want ErrResponseTooLarge", err)
	}
	if len(result.Body) != 16 || result.String() != body[:16] || result.StatusCode != http.StatusOK {
		t.Fatalf("Get() = %d %q, want the first 16 bytes", result.StatusCode, result.String())
	}

	exact := New("https://pb.example.test/api", Options{
		Transport: factoryFor(roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return jsonResponse(r, http.StatusOK, body[:16]), nil
		})),
		MaxResponseBytes: 16,
	})
	if _, err := exact.Get(context.Background(), exact.Endpoint("health")); err != nil {
		t.Fatalf("Get() at the limit error = %v", err)
	}
}
