// Package replay records accepted authenticator signature counters.
package replay

import (
	"context"
	"time"

	"github.com/louisbranch/passkey-rp/internal/rp/storage"
)

// Guard durably records the signature counter accepted by the most recent
// authentication ceremony so the next ceremony compares against it.
//
// The non-increase check itself belongs to the verification capability,
// which receives the last stored counter. Authenticators that always report
// zero never increment and are exempt by protocol convention.
type Guard struct {
	creds storage.CredentialStore
	clock func() time.Time
}

// NewGuard returns a guard writing through the given credential store.
func NewGuard(creds storage.CredentialStore) *Guard {
	return &Guard{creds: creds, clock: time.Now}
}

// Advance unconditionally persists the accepted counter and the advisory
// device metadata reported alongside it.
func (g *Guard) Advance(ctx context.Context, credentialIDHash []byte, signCount uint32, deviceType string, backedUp bool) error {
	return g.creds.UpdateCredentialCounter(ctx, credentialIDHash, signCount, deviceType, backedUp, g.clock().UTC())
}
