package pbconn

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pbembed/internal/logging"
)

type passwordCredentials struct {
	Identity string `json:"identity"`
	Password string `json:"password"`
}

type authResponse struct {
	Token  string          `json:"token"`
	Record json.RawMessage `json:"record"`
}

// AuthResult is the decoded auth-with-password response.
type AuthResult struct {
	Token  string
	Record json.RawMessage
	// Raw is the full response document.
	Raw json.RawMessage
	// ExpiresAt comes from the token's exp claim; zero when absent.
	ExpiresAt time.Time
}

func (a AuthResult) Empty() bool {
	return a.Token == "" && len(a.Raw) == 0
}

func (a AuthResult) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && !now.Before(a.ExpiresAt)
}

// ExpiresWithin reports whether the token expires before now+d.
func (a AuthResult) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !a.ExpiresAt.IsZero() && now.Add(d).After(a.ExpiresAt)
}

// RecordID returns the id of the authenticated record, if present.
func (a AuthResult) RecordID() string {
	var record struct {
		ID string `json:"id"`
	}
	if len(a.Record) == 0 || json.Unmarshal(a.Record, &record) != nil {
		return ""
	}
	return record.ID
}

// LoginPassword authenticates against a collection's password endpoint and
// stores the returned token on this connection. On any failure the previous
// token is kept and a zero AuthResult is returned.
func (c *Connection) LoginPassword(ctx context.Context, identity, password, collection string) (AuthResult, error) {
	collection = strings.TrimSpace(collection)
	if collection == "" {
		collection = "users"
	}
	endpoint := c.Endpoint("collections", collection, "auth-with-password")
	body, err := json.Marshal(passwordCredentials{Identity: identity, Password: password})
	if err != nil {
		return AuthResult{}, err
	}

	c.logger.Debug("authenticating",
		logging.Field("collection", collection),
		logging.Field("identity", identity),
	)
	// Auth requests never reuse a pooled socket.
	result, err := c.send(ctx, http.MethodPost, endpoint, body, requestMode{auth: false, keepAlive: false})
	if err != nil {
		return AuthResult{}, err
	}
	if result.StatusCode != http.StatusOK {
		return AuthResult{}, &HTTPStatusError{StatusCode: result.StatusCode, Status: result.Status, Body: result.Body}
	}

	var decoded authResponse
	if err := json.Unmarshal(result.Body, &decoded); err != nil {
		c.logger.Warn("invalid auth response",
			logging.Field("error", err),
			logging.Field("response", logging.FormatHTTPPayload(result.Body)),
		)
		return AuthResult{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	token := strings.TrimSpace(decoded.Token)
	if token == "" {
		return AuthResult{}, ErrMissingToken
	}

	auth := AuthResult{
		Token:     token,
		Record:    decoded.Record,
		Raw:       append(json.RawMessage(nil), result.Body...),
		ExpiresAt: tokenExpiry(token),
	}
	c.SetAuthToken(token)
	c.logger.Info("authenticated",
		logging.Field("collection", collection),
		logging.Field("record_id", auth.RecordID()),
		logging.Field("token", logging.RedactToken(token)),
		logging.Field("expires_at", auth.ExpiresAt),
	)
	return auth, nil
}

// tokenExpiry reads the exp claim without verifying the signature; the
// server is the only party that validates tokens.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
