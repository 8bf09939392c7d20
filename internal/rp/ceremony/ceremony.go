// Package ceremony orchestrates WebAuthn registration and authentication.
//
// The orchestrator owns the order of operations across the challenge ledger,
// the credential vault, the replay guard, and the timing shield. It performs
// no WebAuthn cryptography itself; verification is an injected capability.
package ceremony

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/passkey-rp/internal/platform/errors"
	"github.com/louisbranch/passkey-rp/internal/platform/id"
	"github.com/louisbranch/passkey-rp/internal/rp/challenge"
	"github.com/louisbranch/passkey-rp/internal/rp/replay"
	"github.com/louisbranch/passkey-rp/internal/rp/session"
	"github.com/louisbranch/passkey-rp/internal/rp/storage"
	"github.com/louisbranch/passkey-rp/internal/rp/timing"
	"github.com/louisbranch/passkey-rp/internal/rp/user"
	"github.com/louisbranch/passkey-rp/internal/rp/vault"
)

// SessionIdentityKey is the session key holding the authenticated username
// once a ceremony completes. Collaborators read it to answer identity
// queries; the orchestrator is the only writer.
const SessionIdentityKey = "user"

const (
	pendingRegistrationUserKey   = "registration_user_id"
	pendingAuthenticationUserKey = "authentication_user_id"
)

// Params collects the orchestrator's collaborators and relying party
// identity. All fields are required unless noted.
type Params struct {
	RPID   string
	RPName string

	// ChallengeTTL is surfaced to clients as the ceremony timeout. The
	// ledger enforces the authoritative window server-side.
	ChallengeTTL time.Duration

	Users       storage.UserStore
	Credentials storage.CredentialStore
	Vault       *vault.Vault
	Ledger      *challenge.Ledger
	Shield      *timing.Shield
	Guard       *replay.Guard

	Registration   RegistrationVerifier
	Authentication AuthenticationVerifier
}

// Service runs registration and authentication ceremonies end to end.
type Service struct {
	rpID         string
	rpName       string
	challengeTTL time.Duration

	users  storage.UserStore
	creds  storage.CredentialStore
	vault  *vault.Vault
	ledger *challenge.Ledger
	shield *timing.Shield
	guard  *replay.Guard

	registration   RegistrationVerifier
	authentication AuthenticationVerifier

	clock       func() time.Time
	idGenerator func() (string, error)
	tracer      trace.Tracer
}

// New validates params and returns a ceremony service.
func New(p Params) (*Service, error) {
	if strings.TrimSpace(p.RPID) == "" {
		return nil, errors.New(errors.CodeInvalidRequest, "relying party id is required")
	}
	if p.Users == nil || p.Credentials == nil {
		return nil, errors.New(errors.CodeStorageFailure, "user and credential stores are required")
	}
	if p.Vault == nil {
		return nil, errors.New(errors.CodeCryptoFailure, "credential vault is required")
	}
	if p.Ledger == nil {
		return nil, errors.New(errors.CodeInvalidRequest, "challenge ledger is required")
	}
	if p.Guard == nil {
		return nil, errors.New(errors.CodeInvalidRequest, "replay guard is required")
	}
	if p.Registration == nil || p.Authentication == nil {
		return nil, errors.New(errors.CodeVerificationFailed, "verification capabilities are required")
	}
	rpName := p.RPName
	if strings.TrimSpace(rpName) == "" {
		rpName = p.RPID
	}
	return &Service{
		rpID:           p.RPID,
		rpName:         rpName,
		challengeTTL:   p.ChallengeTTL,
		users:          p.Users,
		creds:          p.Credentials,
		vault:          p.Vault,
		ledger:         p.Ledger,
		shield:         p.Shield,
		guard:          p.Guard,
		registration:   p.Registration,
		authentication: p.Authentication,
		clock:          time.Now,
		idGenerator:    id.NewID,
		tracer:         otel.Tracer("passkey-rp/ceremony"),
	}, nil
}

// StartRegistration resolves or creates the user for a username, issues a
// registration challenge into the session, and returns creation options.
// Existing credentials are surfaced as an exclude list so the authenticator
// refuses to mint a duplicate.
func (s *Service) StartRegistration(ctx context.Context, sess session.Session, username string) (*CreationOptions, error) {
	ctx, span := s.tracer.Start(ctx, "ceremony.start_registration")
	defer span.End()

	normalized, err := user.NormalizeUsername(username)
	if err != nil {
		return nil, err
	}

	u, err := s.users.GetUserByUsername(ctx, normalized)
	switch {
	case err == nil:
	case errors.CodeOf(err) == errors.CodeUnknownPrincipal:
		u, err = user.New(normalized, s.clock, s.idGenerator)
		if err != nil {
			return nil, err
		}
		if err := s.users.PutUser(ctx, u); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	exclude, err := s.credentialDescriptors(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if len(exclude) == 0 {
		// A brand-new account skips every decrypt a populated one pays for;
		// the decoy keeps its start latency in the same band.
		s.shield.Cover()
	}

	value, err := s.ledger.Issue(sess, challenge.PurposeRegistration)
	if err != nil {
		return nil, err
	}
	sess.Set(pendingRegistrationUserKey, u.ID)

	return &CreationOptions{
		RP: RelyingPartyEntity{ID: s.rpID, Name: s.rpName},
		User: UserEntity{
			ID:          base64.RawURLEncoding.EncodeToString(u.Handle),
			Name:        u.Username,
			DisplayName: u.Username,
		},
		Challenge:          base64.RawURLEncoding.EncodeToString(value),
		PubKeyCredParams:   defaultParameters(),
		Timeout:            s.challengeTTL.Milliseconds(),
		ExcludeCredentials: exclude,
		AuthenticatorSelection: &AuthenticatorSelection{
			AuthenticatorAttachment: attachmentPlatform,
			ResidentKey:             residentKeyPreferred,
			UserVerification:        verificationRequired,
		},
		Attestation: attestationNone,
	}, nil
}

// FinishRegistration consumes the pending challenge, verifies the
// attestation response, and persists the new credential through the vault.
// The challenge is consumed before the response is even parsed, so a
// malformed payload still burns it.
func (s *Service) FinishRegistration(ctx context.Context, sess session.Session, response []byte) (user.User, error) {
	ctx, span := s.tracer.Start(ctx, "ceremony.finish_registration")
	defer span.End()

	value, err := s.ledger.Consume(sess, challenge.PurposeRegistration)
	pendingUserID, hasPending := sess.Pop(pendingRegistrationUserKey)
	if err != nil {
		return user.User{}, err
	}
	if !hasPending {
		return user.User{}, challenge.ErrExpiredOrMissing
	}

	u, err := s.users.GetUser(ctx, pendingUserID)
	if err != nil {
		return user.User{}, err
	}

	registered, err := s.registration.VerifyRegistration(ctx, response, value, u.Handle)
	if err != nil {
		return user.User{}, asVerificationFailure(err)
	}

	if err := s.vault.SaveCredential(ctx, s.creds, vault.CredentialInput{
		OwnerUserID:  u.ID,
		CredentialID: registered.CredentialID,
		PublicKey:    registered.PublicKey,
		SignCount:    registered.SignCount,
		Transports:   registered.Transports,
		DeviceType:   registered.DeviceType,
		BackedUp:     registered.BackedUp,
	}, s.clock().UTC()); err != nil {
		return user.User{}, err
	}

	sess.Set(SessionIdentityKey, u.Username)
	return u, nil
}

// StartLogin issues an authentication challenge for a known user with at
// least one registered credential and returns request options whose allow
// list names the user's credentials.
func (s *Service) StartLogin(ctx context.Context, sess session.Session, username string) (*RequestOptions, error) {
	ctx, span := s.tracer.Start(ctx, "ceremony.start_login")
	defer span.End()

	normalized, err := user.NormalizeUsername(username)
	if err != nil {
		return nil, err
	}

	u, err := s.users.GetUserByUsername(ctx, normalized)
	if err != nil {
		if errors.CodeOf(err) == errors.CodeUnknownPrincipal {
			s.shield.Cover()
		}
		return nil, err
	}

	allow, err := s.credentialDescriptors(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if len(allow) == 0 {
		s.shield.Cover()
		return nil, errors.New(errors.CodeUnknownPrincipal, "no registered credentials")
	}

	value, err := s.ledger.Issue(sess, challenge.PurposeAuthentication)
	if err != nil {
		return nil, err
	}
	sess.Set(pendingAuthenticationUserKey, u.ID)

	return &RequestOptions{
		Challenge:        base64.RawURLEncoding.EncodeToString(value),
		Timeout:          s.challengeTTL.Milliseconds(),
		RPID:             s.rpID,
		AllowCredentials: allow,
		UserVerification: verificationRequired,
	}, nil
}

// FinishLogin consumes the pending challenge, verifies the assertion against
// the stored credential, records the accepted signature counter, and marks
// the session authenticated.
func (s *Service) FinishLogin(ctx context.Context, sess session.Session, response []byte) (user.User, error) {
	ctx, span := s.tracer.Start(ctx, "ceremony.finish_login")
	defer span.End()

	value, err := s.ledger.Consume(sess, challenge.PurposeAuthentication)
	pendingUserID, hasPending := sess.Pop(pendingAuthenticationUserKey)
	if err != nil {
		return user.User{}, err
	}
	if !hasPending {
		return user.User{}, challenge.ErrExpiredOrMissing
	}

	credentialID, err := credentialIDFromResponse(response)
	if err != nil {
		return user.User{}, err
	}

	record, err := s.creds.GetCredentialByHash(ctx, vault.HashCredentialID(credentialID))
	if err != nil {
		return user.User{}, err
	}
	if record.UserID != pendingUserID {
		return user.User{}, errors.New(errors.CodeVerificationFailed, "credential does not belong to the authenticating user")
	}

	u, err := s.users.GetUser(ctx, record.UserID)
	if err != nil {
		return user.User{}, err
	}

	publicKey, err := s.vault.Decrypt(record.PublicKeyEnc, record.UserID)
	if err != nil {
		return user.User{}, err
	}

	result, err := s.authentication.VerifyAuthentication(ctx, response, value, u.Handle, StoredCredential{
		CredentialID: credentialID,
		PublicKey:    publicKey,
		SignCount:    record.SignCount,
	})
	if err != nil {
		return user.User{}, asVerificationFailure(err)
	}

	if err := s.guard.Advance(ctx, record.CredentialIDHash, result.NewSignCount, result.DeviceType, result.BackedUp); err != nil {
		return user.User{}, err
	}

	sess.Set(SessionIdentityKey, u.Username)
	return u, nil
}

// credentialDescriptors decrypts every stored credential id for one user
// into wire descriptors. The raw ids exist only in vault ciphertext, so the
// list cannot be assembled without paying one decrypt per credential.
func (s *Service) credentialDescriptors(ctx context.Context, userID string) ([]CredentialDescriptor, error) {
	records, err := s.creds.ListCredentialsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	descriptors := make([]CredentialDescriptor, 0, len(records))
	for _, record := range records {
		credentialID, err := s.vault.Decrypt(record.CredentialIDEnc, record.UserID)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, CredentialDescriptor{
			Type:       publicKeyCredentialType,
			ID:         base64.RawURLEncoding.EncodeToString(credentialID),
			Transports: record.Transports,
		})
	}
	return descriptors, nil
}

// credentialIDFromResponse extracts the asserted credential id without
// trusting anything else in the payload; full parsing belongs to the
// verification capability.
func credentialIDFromResponse(response []byte) ([]byte, error) {
	var envelope struct {
		ID    string `json:"id"`
		RawID string `json:"rawId"`
	}
	if err := json.Unmarshal(response, &envelope); err != nil {
		return nil, errors.Wrap(errors.CodeVerificationFailed, "parse assertion response", err)
	}
	encoded := envelope.RawID
	if encoded == "" {
		encoded = envelope.ID
	}
	if encoded == "" {
		return nil, errors.New(errors.CodeVerificationFailed, "assertion response is missing a credential id")
	}
	credentialID, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(encoded, "="))
	if err != nil {
		return nil, errors.Wrap(errors.CodeVerificationFailed, "decode credential id", err)
	}
	return credentialID, nil
}

// asVerificationFailure folds uncoded verifier errors into the verification
// failure code while leaving already-classified errors untouched.
func asVerificationFailure(err error) error {
	if errors.CodeOf(err) != errors.CodeUnknown {
		return err
	}
	return errors.Wrap(errors.CodeVerificationFailed, "webauthn verification", err)
}
