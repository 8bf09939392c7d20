package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	apperrors "github.com/louisbranch/passkey-rp/internal/platform/errors"
	"github.com/louisbranch/passkey-rp/internal/rp/storage"
)

// PutCredential upserts a credential record keyed by its identifier hash.
// A conflicting hash replaces the row so a re-registration of the same
// credential overwrites stale metadata instead of erroring.
func (s *Store) PutCredential(ctx context.Context, record storage.CredentialRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return apperrors.New(apperrors.CodeStorageFailure, "storage is not configured")
	}
	if len(record.CredentialIDHash) == 0 {
		return apperrors.New(apperrors.CodeInvalidRequest, "credential id hash is required")
	}
	if strings.TrimSpace(record.UserID) == "" {
		return apperrors.New(apperrors.CodeInvalidRequest, "user id is required")
	}
	if len(record.CredentialIDEnc) == 0 || len(record.PublicKeyEnc) == 0 {
		return apperrors.New(apperrors.CodeInvalidRequest, "credential ciphertext is required")
	}

	transports, err := encodeTransports(record.Transports)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, "encode transports", err)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO credentials (
	credential_id_hash, user_id, credential_id_enc, public_key_enc,
	sign_count, transports, device_type, backed_up, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(credential_id_hash) DO UPDATE SET
	user_id = excluded.user_id,
	credential_id_enc = excluded.credential_id_enc,
	public_key_enc = excluded.public_key_enc,
	sign_count = excluded.sign_count,
	transports = excluded.transports,
	device_type = excluded.device_type,
	backed_up = excluded.backed_up,
	updated_at = excluded.updated_at
`,
		record.CredentialIDHash,
		record.UserID,
		record.CredentialIDEnc,
		record.PublicKeyEnc,
		int64(record.SignCount),
		transports,
		record.DeviceType,
		boolToInt(record.BackedUp),
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, "put credential", err)
	}
	return nil
}

// GetCredentialByHash fetches a credential record by identifier hash.
func (s *Store) GetCredentialByHash(ctx context.Context, credentialIDHash []byte) (storage.CredentialRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.CredentialRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.CredentialRecord{}, apperrors.New(apperrors.CodeStorageFailure, "storage is not configured")
	}
	if len(credentialIDHash) == 0 {
		return storage.CredentialRecord{}, apperrors.New(apperrors.CodeInvalidRequest, "credential id hash is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT credential_id_hash, user_id, credential_id_enc, public_key_enc,
       sign_count, transports, device_type, backed_up, created_at, updated_at
FROM credentials
WHERE credential_id_hash = ?
`, credentialIDHash)

	record, err := scanCredential(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.CredentialRecord{}, storage.ErrNotFound
		}
		return storage.CredentialRecord{}, err
	}
	return record, nil
}

// ListCredentialsByUser returns all credential records for one user.
func (s *Store) ListCredentialsByUser(ctx context.Context, userID string) ([]storage.CredentialRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, apperrors.New(apperrors.CodeStorageFailure, "storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.New(apperrors.CodeInvalidRequest, "user id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT credential_id_hash, user_id, credential_id_enc, public_key_enc,
       sign_count, transports, device_type, backed_up, created_at, updated_at
FROM credentials
WHERE user_id = ?
ORDER BY created_at
`, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, "list credentials", err)
	}
	defer func() { _ = rows.Close() }()

	var records []storage.CredentialRecord
	for rows.Next() {
		record, err := scanCredential(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, "list credentials", err)
	}
	return records, nil
}

// UpdateCredentialCounter persists an accepted signature counter and the
// advisory device metadata reported with it.
func (s *Store) UpdateCredentialCounter(ctx context.Context, credentialIDHash []byte, signCount uint32, deviceType string, backedUp bool, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return apperrors.New(apperrors.CodeStorageFailure, "storage is not configured")
	}
	if len(credentialIDHash) == 0 {
		return apperrors.New(apperrors.CodeInvalidRequest, "credential id hash is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE credentials
SET sign_count = ?, device_type = ?, backed_up = ?, updated_at = ?
WHERE credential_id_hash = ?
`,
		int64(signCount),
		deviceType,
		boolToInt(backedUp),
		toMillis(updatedAt),
		credentialIDHash,
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, "update credential counter", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, "update credential counter", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func boolToInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}

func scanCredential(scan func(dest ...any) error) (storage.CredentialRecord, error) {
	var (
		record        storage.CredentialRecord
		signCount     int64
		transportsRaw sql.NullString
		deviceType    sql.NullString
		backedUp      int64
		createdAt     int64
		updatedAt     int64
	)
	if err := scan(
		&record.CredentialIDHash,
		&record.UserID,
		&record.CredentialIDEnc,
		&record.PublicKeyEnc,
		&signCount,
		&transportsRaw,
		&deviceType,
		&backedUp,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.CredentialRecord{}, err
		}
		return storage.CredentialRecord{}, apperrors.Wrap(apperrors.CodeStorageFailure, "scan credential", err)
	}

	record.SignCount = uint32(signCount)
	if transportsRaw.Valid {
		transports, err := decodeTransports(transportsRaw.String)
		if err != nil {
			return storage.CredentialRecord{}, apperrors.Wrap(apperrors.CodeStorageFailure, "decode transports", err)
		}
		record.Transports = transports
	}
	if deviceType.Valid {
		record.DeviceType = deviceType.String
	}
	record.BackedUp = backedUp != 0
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}
