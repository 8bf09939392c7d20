// Package vault encrypts credential material at rest.
//
// Every blob is sealed with AES-256-GCM under one process-wide key and bound
// to its owning user through the associated data, so a ciphertext moved to a
// different user row fails authentication instead of decrypting to a value
// that merely looks wrong.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"
	"time"

	"github.com/louisbranch/passkey-rp/internal/platform/errors"
	"github.com/louisbranch/passkey-rp/internal/rp/storage"
)

// KeySize is the required length of the symmetric credential key.
const KeySize = 32

const (
	nonceSize = 12
	// decoyBodySize approximates a sealed credential identifier so a decoy
	// open consumes comparable CPU to a real one.
	decoyBodySize = 48
)

// Vault seals and opens credential blobs for one relying party.
//
// The key must be stable across restarts for previously written ciphertext
// to remain readable; key loss means credential loss.
type Vault struct {
	aead cipher.AEAD
	rpID string
}

// New builds a vault from a raw 256-bit key and the relying party id the
// associated data is scoped to.
func New(key []byte, rpID string) (*Vault, error) {
	if len(key) != KeySize {
		return nil, errors.New(errors.CodeCryptoFailure, "credential key must be exactly 32 bytes")
	}
	if rpID == "" {
		return nil, errors.New(errors.CodeCryptoFailure, "relying party id is required")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(errors.CodeCryptoFailure, "new cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(errors.CodeCryptoFailure, "new gcm", err)
	}
	return &Vault{aead: aead, rpID: rpID}, nil
}

func (v *Vault) associatedData(ownerUserID string) []byte {
	return []byte(v.rpID + "|" + ownerUserID)
}

// Encrypt seals plaintext for one owner. The payload is nonce || ciphertext
// with a fresh random 12-byte nonce per call.
func (v *Vault) Encrypt(plaintext []byte, ownerUserID string) ([]byte, error) {
	if v == nil || v.aead == nil {
		return nil, errors.New(errors.CodeCryptoFailure, "vault is not configured")
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, errors.Wrap(errors.CodeCryptoFailure, "read nonce", err)
	}
	sealed := v.aead.Seal(nil, nonce, plaintext, v.associatedData(ownerUserID))
	return append(nonce, sealed...), nil
}

// Decrypt opens a previously sealed payload for one owner. It fails closed:
// any tag mismatch, including an owner id other than the one the blob was
// sealed for, yields no partial output.
func (v *Vault) Decrypt(blob []byte, ownerUserID string) ([]byte, error) {
	if v == nil || v.aead == nil {
		return nil, errors.New(errors.CodeCryptoFailure, "vault is not configured")
	}
	if len(blob) < nonceSize {
		return nil, errors.New(errors.CodeCryptoFailure, "credential blob is too short")
	}
	plaintext, err := v.aead.Open(nil, blob[:nonceSize], blob[nonceSize:], v.associatedData(ownerUserID))
	if err != nil {
		return nil, errors.Wrap(errors.CodeCryptoFailure, "open credential blob", err)
	}
	return plaintext, nil
}

// Decoy performs one doomed AEAD open against synthetic input of realistic
// size, discarding the expected failure. Ceremony starts that resolve no
// credentials run this so their latency tracks the real-decrypt path.
func (v *Vault) Decoy() {
	if v == nil || v.aead == nil {
		return
	}
	nonce := make([]byte, nonceSize)
	body := make([]byte, decoyBodySize)
	_, _ = rand.Read(nonce)
	_, _ = rand.Read(body)
	// Forging a valid tag from random bytes is not a practical concern; the
	// open exists purely to burn comparable work.
	_, _ = v.aead.Open(nil, nonce, body, []byte("pad"))
}

// HashCredentialID returns the deterministic lookup digest for a raw
// credential identifier.
func HashCredentialID(credentialID []byte) []byte {
	sum := sha256.Sum256(credentialID)
	return sum[:]
}

// CredentialInput describes one verified authenticator credential to store.
type CredentialInput struct {
	OwnerUserID  string
	CredentialID []byte
	PublicKey    []byte
	SignCount    uint32
	Transports   []string
	DeviceType   string
	BackedUp     bool
}

// SaveCredential hashes the raw credential identifier, seals the identifier
// and public key for the owner, and upserts the record keyed by that hash.
func (v *Vault) SaveCredential(ctx context.Context, creds storage.CredentialStore, input CredentialInput, now time.Time) error {
	credentialIDEnc, err := v.Encrypt(input.CredentialID, input.OwnerUserID)
	if err != nil {
		return err
	}
	publicKeyEnc, err := v.Encrypt(input.PublicKey, input.OwnerUserID)
	if err != nil {
		return err
	}
	return creds.PutCredential(ctx, storage.CredentialRecord{
		CredentialIDHash: HashCredentialID(input.CredentialID),
		UserID:           input.OwnerUserID,
		CredentialIDEnc:  credentialIDEnc,
		PublicKeyEnc:     publicKeyEnc,
		SignCount:        input.SignCount,
		Transports:       input.Transports,
		DeviceType:       input.DeviceType,
		BackedUp:         input.BackedUp,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
}
