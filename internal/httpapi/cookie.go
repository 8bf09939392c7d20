package httpapi

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/passkey-rp/internal/platform/errors"
)

const sessionCookieName = "passkey_rp_session"

// cookieCodec signs and verifies the session cookie. The cookie carries only
// an opaque server-side session id; all ceremony state stays on the server.
type cookieCodec struct {
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

func newCookieCodec(secret string, ttl time.Duration) (*cookieCodec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, apperrors.New(apperrors.CodeInvalidRequest, "session secret is required")
	}
	return &cookieCodec{secret: []byte(secret), ttl: ttl, clock: time.Now}, nil
}

func (c *cookieCodec) issue(sessionID string) (string, error) {
	now := c.clock().UTC()
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeCryptoFailure, "sign session token", err)
	}
	return token, nil
}

func (c *cookieCodec) parse(value string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(value, &claims, func(*jwt.Token) (any, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(c.clock),
	)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInvalidRequest, "parse session token", err)
	}
	sessionID := strings.TrimSpace(claims.Subject)
	if sessionID == "" {
		return "", apperrors.New(apperrors.CodeInvalidRequest, "session token subject is empty")
	}
	return sessionID, nil
}
