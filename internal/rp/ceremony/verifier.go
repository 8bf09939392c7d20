package ceremony

import "context"

// RegisteredCredential is the outcome of a successful registration
// verification: the raw authenticator data the relying party must persist.
type RegisteredCredential struct {
	CredentialID []byte
	PublicKey    []byte
	SignCount    uint32
	Transports   []string
	DeviceType   string
	BackedUp     bool
}

// StoredCredential is the decrypted record state handed to authentication
// verification for signature and counter checks.
type StoredCredential struct {
	CredentialID []byte
	PublicKey    []byte
	SignCount    uint32
}

// AssertionResult is the outcome of a successful authentication
// verification, carrying the counter and device metadata to record.
type AssertionResult struct {
	NewSignCount uint32
	DeviceType   string
	BackedUp     bool
}

// RegistrationVerifier validates an attestation response against the
// expected challenge and user handle. Implementations own all WebAuthn
// cryptographic checks, including origin and relying party id binding.
type RegistrationVerifier interface {
	VerifyRegistration(ctx context.Context, response []byte, expectedChallenge []byte, userHandle []byte) (RegisteredCredential, error)
}

// AuthenticationVerifier validates an assertion response against the
// expected challenge, user handle, and the stored credential state. A
// signature counter that fails to increase past the stored one must be
// reported as an error, not as a degraded success.
type AuthenticationVerifier interface {
	VerifyAuthentication(ctx context.Context, response []byte, expectedChallenge []byte, userHandle []byte, stored StoredCredential) (AssertionResult, error)
}
