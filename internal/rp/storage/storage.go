// Package storage defines persistence contracts for the relying-party core.
//
// The durable store holds users and encrypted credential material only;
// ceremony challenges live in the caller session and never reach it.
package storage

import (
	"context"
	"time"

	"github.com/louisbranch/passkey-rp/internal/platform/errors"
	"github.com/louisbranch/passkey-rp/internal/rp/user"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeUnknownPrincipal, "record not found")

// UserStore persists user identity records.
type UserStore interface {
	PutUser(ctx context.Context, u user.User) error
	GetUser(ctx context.Context, userID string) (user.User, error)
	GetUserByUsername(ctx context.Context, username string) (user.User, error)
}

// CredentialRecord stores one registered authenticator for a user.
//
// CredentialIDHash is the only lookup key derived from the raw credential
// identifier; the identifier itself and the public key are stored as vault
// ciphertext and never appear in query predicates.
type CredentialRecord struct {
	CredentialIDHash []byte
	UserID           string
	CredentialIDEnc  []byte
	PublicKeyEnc     []byte
	SignCount        uint32
	Transports       []string
	DeviceType       string
	BackedUp         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// CredentialStore persists encrypted credential records.
type CredentialStore interface {
	// PutCredential upserts a record keyed by CredentialIDHash. A conflicting
	// hash replaces the existing row; re-registration of the same credential
	// overwrites stale metadata instead of erroring.
	PutCredential(ctx context.Context, record CredentialRecord) error
	GetCredentialByHash(ctx context.Context, credentialIDHash []byte) (CredentialRecord, error)
	ListCredentialsByUser(ctx context.Context, userID string) ([]CredentialRecord, error)
	// UpdateCredentialCounter persists an accepted signature counter and the
	// advisory device metadata reported with it.
	UpdateCredentialCounter(ctx context.Context, credentialIDHash []byte, signCount uint32, deviceType string, backedUp bool, updatedAt time.Time) error
}
