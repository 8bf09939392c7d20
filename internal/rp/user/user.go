// Package user provides relying-party identity records.
package user

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/passkey-rp/internal/platform/errors"
	"github.com/louisbranch/passkey-rp/internal/platform/id"
)

// HandleSize is the byte length of the opaque protocol-level user handle.
// WebAuthn requires at least 16 bytes of entropy for user handles that stand
// in for usernames on the wire.
const HandleSize = 16

// ErrEmptyUsername indicates a missing username.
var ErrEmptyUsername = errors.New(errors.CodeInvalidRequest, "username is required")

// User represents an identity record.
//
// Handle is the protocol-level user identifier embedded in ceremony options.
// It is random, never derived from the username, and stable for the
// account's lifetime.
type User struct {
	ID        string
	Username  string
	Handle    []byte
	CreatedAt time.Time
}

// NormalizeUsername trims surrounding whitespace and rejects empty input.
func NormalizeUsername(username string) (string, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return "", ErrEmptyUsername
	}
	return username, nil
}

// New creates a durable user identity with a fresh random handle.
//
// This is the canonical point where an untrusted username becomes a stable
// identity; callers persist the result through the user store.
func New(username string, now func() time.Time, idGenerator func() (string, error)) (User, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeUsername(username)
	if err != nil {
		return User{}, err
	}

	userID, err := idGenerator()
	if err != nil {
		return User{}, fmt.Errorf("generate user id: %w", err)
	}

	handle := make([]byte, HandleSize)
	if _, err := rand.Read(handle); err != nil {
		return User{}, errors.Wrap(errors.CodeCryptoFailure, "generate user handle", err)
	}

	return User{
		ID:        userID,
		Username:  normalized,
		Handle:    handle,
		CreatedAt: now().UTC(),
	}, nil
}
