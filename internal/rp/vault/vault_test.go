package vault

import (
	"bytes"
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/louisbranch/passkey-rp/internal/platform/errors"
	"github.com/louisbranch/passkey-rp/internal/rp/storage"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(testKey, "localhost")
	require.NoError(t, err)
	return v
}

func TestNewRequiresExactKeySize(t *testing.T) {
	_, err := New([]byte("short"), "localhost")
	assert.Error(t, err)
	assert.Equal(t, errors.CodeCryptoFailure, errors.CodeOf(err))

	_, err = New(testKey, "")
	assert.Error(t, err)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	v := newTestVault(t)
	plaintexts := [][]byte{
		[]byte("credential-id"),
		[]byte{0x00, 0xff, 0x10},
		bytes.Repeat([]byte{0xab}, 256),
	}
	for _, plaintext := range plaintexts {
		blob, err := v.Encrypt(plaintext, "user-1")
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, blob)

		opened, err := v.Decrypt(blob, "user-1")
		require.NoError(t, err)
		assert.Equal(t, plaintext, opened)
	}
}

func TestDecryptRejectsWrongOwner(t *testing.T) {
	v := newTestVault(t)
	blob, err := v.Encrypt([]byte("credential-id"), "user-1")
	require.NoError(t, err)

	opened, err := v.Decrypt(blob, "user-2")
	assert.Nil(t, opened)
	assert.Equal(t, errors.CodeCryptoFailure, errors.CodeOf(err))
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	v := newTestVault(t)
	blob, err := v.Encrypt([]byte("credential-id"), "user-1")
	require.NoError(t, err)

	blob[len(blob)-1] ^= 0x01
	_, err = v.Decrypt(blob, "user-1")
	assert.Equal(t, errors.CodeCryptoFailure, errors.CodeOf(err))
}

func TestDecryptRejectsShortBlob(t *testing.T) {
	v := newTestVault(t)
	_, err := v.Decrypt([]byte{0x01, 0x02}, "user-1")
	assert.Equal(t, errors.CodeCryptoFailure, errors.CodeOf(err))
}

func TestNoncesAreFreshPerCall(t *testing.T) {
	v := newTestVault(t)
	first, err := v.Encrypt([]byte("same"), "user-1")
	require.NoError(t, err)
	second, err := v.Encrypt([]byte("same"), "user-1")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.NotEqual(t, first[:12], second[:12])
}

func TestHashCredentialID(t *testing.T) {
	first := HashCredentialID([]byte("cred-a"))
	assert.Len(t, first, 32)
	assert.Equal(t, first, HashCredentialID([]byte("cred-a")))
	assert.NotEqual(t, first, HashCredentialID([]byte("cred-b")))
}

func TestDecoyDoesNotPanic(t *testing.T) {
	v := newTestVault(t)
	for i := 0; i < 8; i++ {
		v.Decoy()
	}
	var nilVault *Vault
	nilVault.Decoy()
}

type fakeCredentialStore struct {
	records map[string]storage.CredentialRecord
	putErr  error
}

func newFakeCredentialStore() *fakeCredentialStore {
	return &fakeCredentialStore{records: make(map[string]storage.CredentialRecord)}
}

func (s *fakeCredentialStore) PutCredential(_ context.Context, record storage.CredentialRecord) error {
	if s.putErr != nil {
		return s.putErr
	}
	s.records[hex.EncodeToString(record.CredentialIDHash)] = record
	return nil
}

func (s *fakeCredentialStore) GetCredentialByHash(_ context.Context, hash []byte) (storage.CredentialRecord, error) {
	record, ok := s.records[hex.EncodeToString(hash)]
	if !ok {
		return storage.CredentialRecord{}, storage.ErrNotFound
	}
	return record, nil
}

func (s *fakeCredentialStore) ListCredentialsByUser(_ context.Context, userID string) ([]storage.CredentialRecord, error) {
	var records []storage.CredentialRecord
	for _, record := range s.records {
		if record.UserID == userID {
			records = append(records, record)
		}
	}
	return records, nil
}

func (s *fakeCredentialStore) UpdateCredentialCounter(_ context.Context, hash []byte, signCount uint32, deviceType string, backedUp bool, updatedAt time.Time) error {
	key := hex.EncodeToString(hash)
	record, ok := s.records[key]
	if !ok {
		return storage.ErrNotFound
	}
	record.SignCount = signCount
	record.DeviceType = deviceType
	record.BackedUp = backedUp
	record.UpdatedAt = updatedAt
	s.records[key] = record
	return nil
}

func TestSaveCredentialEncryptsAndUpserts(t *testing.T) {
	v := newTestVault(t)
	creds := newFakeCredentialStore()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	input := CredentialInput{
		OwnerUserID:  "user-1",
		CredentialID: []byte("raw-credential-id"),
		PublicKey:    []byte("cose-public-key"),
		SignCount:    7,
		Transports:   []string{"internal"},
		DeviceType:   "multi_device",
		BackedUp:     true,
	}
	require.NoError(t, v.SaveCredential(context.Background(), creds, input, now))

	record, err := creds.GetCredentialByHash(context.Background(), HashCredentialID(input.CredentialID))
	require.NoError(t, err)
	assert.Equal(t, "user-1", record.UserID)
	assert.Equal(t, uint32(7), record.SignCount)
	assert.NotContains(t, string(record.CredentialIDEnc), "raw-credential-id")
	assert.NotContains(t, string(record.PublicKeyEnc), "cose-public-key")

	credentialID, err := v.Decrypt(record.CredentialIDEnc, "user-1")
	require.NoError(t, err)
	assert.Equal(t, input.CredentialID, credentialID)
	publicKey, err := v.Decrypt(record.PublicKeyEnc, "user-1")
	require.NoError(t, err)
	assert.Equal(t, input.PublicKey, publicKey)
}

func TestSaveCredentialReplacesSameCredentialID(t *testing.T) {
	v := newTestVault(t)
	creds := newFakeCredentialStore()
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first := CredentialInput{OwnerUserID: "user-1", CredentialID: []byte("cred"), PublicKey: []byte("key-1"), SignCount: 1}
	second := CredentialInput{OwnerUserID: "user-1", CredentialID: []byte("cred"), PublicKey: []byte("key-2"), SignCount: 2}
	require.NoError(t, v.SaveCredential(context.Background(), creds, first, now))
	require.NoError(t, v.SaveCredential(context.Background(), creds, second, now.Add(time.Minute)))

	assert.Len(t, creds.records, 1)
	record, err := creds.GetCredentialByHash(context.Background(), HashCredentialID([]byte("cred")))
	require.NoError(t, err)
	assert.Equal(t, uint32(2), record.SignCount)
	publicKey, err := v.Decrypt(record.PublicKeyEnc, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("key-2"), publicKey)
}
