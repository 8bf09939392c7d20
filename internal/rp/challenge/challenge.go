// Package challenge issues and consumes single-use ceremony challenges.
package challenge

import (
	"crypto/rand"
	"encoding/base64"
	"strconv"
	"time"

	"github.com/louisbranch/passkey-rp/internal/platform/errors"
	"github.com/louisbranch/passkey-rp/internal/rp/session"
)

// Purpose identifies which ceremony a challenge belongs to. A challenge
// minted for one purpose never validates a finish request of the other.
type Purpose string

const (
	PurposeRegistration   Purpose = "registration"
	PurposeAuthentication Purpose = "authentication"
)

// Size is the challenge entropy in bytes. The protocol floor is 16; 32
// matches what mainstream relying-party libraries mint.
const Size = 32

// ErrExpiredOrMissing folds "never issued", "already consumed", and
// "expired" into one signal so callers cannot build an oracle from the
// difference.
var ErrExpiredOrMissing = errors.New(errors.CodeChallengeExpiredOrMissing, "challenge is expired or missing")

// Ledger mints and redeems session-scoped challenges. Validity is enforced
// at consume time; nothing sweeps expired entries in the background.
type Ledger struct {
	ttl   time.Duration
	clock func() time.Time
}

// NewLedger returns a ledger whose challenges are valid for ttl after issue.
func NewLedger(ttl time.Duration) *Ledger {
	return &Ledger{ttl: ttl, clock: time.Now}
}

func valueKey(purpose Purpose) string {
	return string(purpose) + "_challenge"
}

func issuedAtKey(purpose Purpose) string {
	return string(purpose) + "_challenge_issued_at"
}

// Issue generates a fresh random challenge, records it in the session with
// its issue time, and returns the value for embedding in ceremony options.
// Any prior unconsumed challenge of the same purpose is overwritten;
// last-issued wins.
func (l *Ledger) Issue(sess session.Session, purpose Purpose) ([]byte, error) {
	value := make([]byte, Size)
	if _, err := rand.Read(value); err != nil {
		return nil, errors.Wrap(errors.CodeCryptoFailure, "generate challenge", err)
	}
	sess.Set(valueKey(purpose), base64.RawURLEncoding.EncodeToString(value))
	sess.Set(issuedAtKey(purpose), strconv.FormatInt(l.clock().UTC().Unix(), 10))
	return value, nil
}

// Consume removes the stored challenge from the session and returns it only
// when present and within TTL. Removal is unconditional: the value is gone
// after this call whether or not verification later succeeds, which is what
// makes a challenge single-use even for malformed finish payloads.
func (l *Ledger) Consume(sess session.Session, purpose Purpose) ([]byte, error) {
	encoded, okValue := sess.Pop(valueKey(purpose))
	issuedRaw, okIssued := sess.Pop(issuedAtKey(purpose))
	if !okValue || !okIssued {
		return nil, ErrExpiredOrMissing
	}
	issuedAt, err := strconv.ParseInt(issuedRaw, 10, 64)
	if err != nil {
		return nil, ErrExpiredOrMissing
	}
	if l.clock().UTC().Sub(time.Unix(issuedAt, 0)) > l.ttl {
		return nil, ErrExpiredOrMissing
	}
	value, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrExpiredOrMissing
	}
	return value, nil
}
