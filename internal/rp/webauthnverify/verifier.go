// Package webauthnverify adapts go-webauthn as the ceremony verification
// capability.
//
// Challenge custody stays with the caller: session data handed to the
// library is synthesized per call from the challenge the ledger consumed,
// so the library never owns ceremony state.
package webauthnverify

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/louisbranch/passkey-rp/internal/platform/errors"
	"github.com/louisbranch/passkey-rp/internal/rp/ceremony"
)

// Device type labels derived from the backup-eligible authenticator flag.
// A credential that can sync between devices is multi-device by definition.
const (
	deviceTypeMultiDevice  = "multi_device"
	deviceTypeSingleDevice = "single_device"
)

// Config identifies the relying party to the WebAuthn library.
type Config struct {
	RPID      string
	RPName    string
	RPOrigins []string
}

// Verifier performs WebAuthn attestation and assertion verification.
type Verifier struct {
	webAuthn *webauthn.WebAuthn
}

// New builds a verifier for one relying party.
func New(cfg Config) (*Verifier, error) {
	if strings.TrimSpace(cfg.RPID) == "" {
		return nil, errors.New(errors.CodeInvalidRequest, "relying party id is required")
	}
	if len(cfg.RPOrigins) == 0 {
		return nil, errors.New(errors.CodeInvalidRequest, "at least one relying party origin is required")
	}
	rpName := cfg.RPName
	if strings.TrimSpace(rpName) == "" {
		rpName = cfg.RPID
	}
	webAuthn, err := webauthn.New(&webauthn.Config{
		RPDisplayName: rpName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, errors.Wrap(errors.CodeVerificationFailed, "configure webauthn", err)
	}
	return &Verifier{webAuthn: webAuthn}, nil
}

// VerifyRegistration validates an attestation response against the expected
// challenge and user handle, returning the credential material to persist.
func (v *Verifier) VerifyRegistration(_ context.Context, response, expectedChallenge, userHandle []byte) (ceremony.RegisteredCredential, error) {
	if v == nil || v.webAuthn == nil {
		return ceremony.RegisteredCredential{}, errors.New(errors.CodeVerificationFailed, "verifier is not configured")
	}
	parsed, err := protocol.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return ceremony.RegisteredCredential{}, errors.Wrap(errors.CodeVerificationFailed, "parse attestation response", err)
	}

	credential, err := v.webAuthn.CreateCredential(verifierUser{handle: userHandle}, sessionData(expectedChallenge, userHandle, nil), parsed)
	if err != nil {
		return ceremony.RegisteredCredential{}, errors.Wrap(errors.CodeVerificationFailed, "verify attestation", err)
	}

	return ceremony.RegisteredCredential{
		CredentialID: credential.ID,
		PublicKey:    credential.PublicKey,
		SignCount:    credential.Authenticator.SignCount,
		Transports:   transportStrings(credential.Transport),
		DeviceType:   deviceType(credential.Flags.BackupEligible),
		BackedUp:     credential.Flags.BackupState,
	}, nil
}

// VerifyAuthentication validates an assertion response against the expected
// challenge and the stored credential. A clone warning from the library,
// which is how it reports a signature counter that failed to increase, is a
// verification failure here, not a degraded success.
func (v *Verifier) VerifyAuthentication(_ context.Context, response, expectedChallenge, userHandle []byte, stored ceremony.StoredCredential) (ceremony.AssertionResult, error) {
	if v == nil || v.webAuthn == nil {
		return ceremony.AssertionResult{}, errors.New(errors.CodeVerificationFailed, "verifier is not configured")
	}
	parsed, err := protocol.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return ceremony.AssertionResult{}, errors.Wrap(errors.CodeVerificationFailed, "parse assertion response", err)
	}

	holder := verifierUser{
		handle: userHandle,
		credentials: []webauthn.Credential{{
			ID:            stored.CredentialID,
			PublicKey:     stored.PublicKey,
			Authenticator: webauthn.Authenticator{SignCount: stored.SignCount},
		}},
	}
	credential, err := v.webAuthn.ValidateLogin(holder, sessionData(expectedChallenge, userHandle, stored.CredentialID), parsed)
	if err != nil {
		return ceremony.AssertionResult{}, errors.Wrap(errors.CodeVerificationFailed, "verify assertion", err)
	}
	if credential.Authenticator.CloneWarning {
		return ceremony.AssertionResult{}, errors.New(errors.CodeVerificationFailed, "signature counter did not increase")
	}

	return ceremony.AssertionResult{
		NewSignCount: credential.Authenticator.SignCount,
		DeviceType:   deviceType(credential.Flags.BackupEligible),
		BackedUp:     credential.Flags.BackupState,
	}, nil
}

func sessionData(expectedChallenge, userHandle, allowedCredentialID []byte) webauthn.SessionData {
	session := webauthn.SessionData{
		Challenge:        base64.RawURLEncoding.EncodeToString(expectedChallenge),
		UserID:           userHandle,
		UserVerification: protocol.VerificationRequired,
	}
	if len(allowedCredentialID) > 0 {
		session.AllowedCredentialIDs = [][]byte{allowedCredentialID}
	}
	return session
}

func deviceType(backupEligible bool) string {
	if backupEligible {
		return deviceTypeMultiDevice
	}
	return deviceTypeSingleDevice
}

func transportStrings(transports []protocol.AuthenticatorTransport) []string {
	if len(transports) == 0 {
		return nil
	}
	values := make([]string, 0, len(transports))
	for _, transport := range transports {
		values = append(values, string(transport))
	}
	return values
}

// verifierUser satisfies the library's user interface for one ceremony. The
// handle doubles as name material because the library never surfaces either
// back to the client from this path.
type verifierUser struct {
	handle      []byte
	credentials []webauthn.Credential
}

func (u verifierUser) WebAuthnID() []byte {
	return u.handle
}

func (u verifierUser) WebAuthnName() string {
	return base64.RawURLEncoding.EncodeToString(u.handle)
}

func (u verifierUser) WebAuthnDisplayName() string {
	return u.WebAuthnName()
}

func (u verifierUser) WebAuthnIcon() string {
	return ""
}

func (u verifierUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}
