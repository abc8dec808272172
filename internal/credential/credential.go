// ABOUTME: Channel access credential fetched from the identity endpoint
// ABOUTME: Raw JSON is kept verbatim; common token fields are lifted for convenience

package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrAuth matches every *AuthError.
var ErrAuth = errors.New("credential request rejected")

// ErrInvalidCredential is returned when a 200 response body is not a JSON object.
var ErrInvalidCredential = errors.New("invalid credential payload")

// AuthError reports a non-200 answer from the identity endpoint.
type AuthError struct {
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication token request returned HTTP status %d", e.StatusCode)
}

// Is lets errors.Is(err, ErrAuth) match.
func (e *AuthError) Is(target error) bool {
	return target == ErrAuth
}

// Credential is an access credential as returned by the identity endpoint.
// Values are never mutated after construction; the manager swaps whole
// pointers so readers always see a complete credential.
type Credential struct {
	Raw         json.RawMessage
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
	FetchedAt   time.Time
}

// tokenFields are the OAuth2 response fields we understand.
type tokenFields struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   json.Number `json:"expires_in"`
}

// Parse builds a Credential from a 200 response body.
func Parse(body []byte, fetchedAt time.Time) (*Credential, error) {
	var object map[string]json.RawMessage
	if err := json.Unmarshal(body, &object); err != nil || object == nil {
		return nil, fmt.Errorf("%w: body is not a JSON object", ErrInvalidCredential)
	}

	var fields tokenFields
	if err := json.Unmarshal(body, &fields); err != nil {
		// Unexpected field types leave the lifted fields empty; the raw
		// payload is still the credential.
		fields = tokenFields{}
	}

	c := &Credential{
		Raw:         append(json.RawMessage(nil), body...),
		AccessToken: fields.AccessToken,
		TokenType:   fields.TokenType,
		FetchedAt:   fetchedAt,
	}

	if exp, ok := jwtExpiry(fields.AccessToken); ok {
		c.ExpiresAt = exp
	} else if secs, err := fields.ExpiresIn.Int64(); err == nil && secs > 0 {
		c.ExpiresAt = fetchedAt.Add(time.Duration(secs) * time.Second)
	}
	return c, nil
}

// jwtExpiry reads the exp claim without verifying the signature. The token
// was just handed to us by the issuer over TLS; we only want its lifetime.
func jwtExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// Expired reports whether the credential's known expiry is at or before now.
// A credential without a known expiry never reports expired.
func (c *Credential) Expired(now time.Time) bool {
	if c == nil {
		return true
	}
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// AuthorizationHeader returns the value for an outbound Authorization header.
func (c *Credential) AuthorizationHeader() string {
	if c == nil || c.AccessToken == "" {
		return ""
	}
	tokenType := c.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return tokenType + " " + c.AccessToken
}

// LogValue keeps the token out of logs.
func (c *Credential) LogValue() slog.Value {
	if c == nil {
		return slog.StringValue("<none>")
	}
	attrs := []slog.Attr{
		slog.String("token_type", c.TokenType),
		slog.Bool("has_token", c.AccessToken != ""),
		slog.Time("fetched_at", c.FetchedAt),
	}
	if !c.ExpiresAt.IsZero() {
		attrs = append(attrs, slog.Time("expires_at", c.ExpiresAt))
	}
	return slog.GroupValue(attrs...)
}
