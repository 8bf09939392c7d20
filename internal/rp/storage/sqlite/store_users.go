package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	apperrors "github.com/louisbranch/passkey-rp/internal/platform/errors"
	"github.com/louisbranch/passkey-rp/internal/rp/storage"
	"github.com/louisbranch/passkey-rp/internal/rp/user"
)

// PutUser persists a user identity record. The row is insert-only in
// practice; an id conflict rewrites the same identity.
func (s *Store) PutUser(ctx context.Context, u user.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return apperrors.New(apperrors.CodeStorageFailure, "storage is not configured")
	}
	if strings.TrimSpace(u.ID) == "" {
		return apperrors.New(apperrors.CodeInvalidRequest, "user id is required")
	}
	if strings.TrimSpace(u.Username) == "" {
		return apperrors.New(apperrors.CodeInvalidRequest, "username is required")
	}
	if len(u.Handle) == 0 {
		return apperrors.New(apperrors.CodeInvalidRequest, "user handle is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO users (id, username, user_handle, created_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	username = excluded.username,
	user_handle = excluded.user_handle
`,
		u.ID,
		u.Username,
		u.Handle,
		toMillis(u.CreatedAt),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageFailure, "put user", err)
	}
	return nil
}

// GetUser fetches a user record by id.
func (s *Store) GetUser(ctx context.Context, userID string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return user.User{}, apperrors.New(apperrors.CodeStorageFailure, "storage is not configured")
	}
	if strings.TrimSpace(userID) == "" {
		return user.User{}, apperrors.New(apperrors.CodeInvalidRequest, "user id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, username, user_handle, created_at
FROM users
WHERE id = ?
`, userID)
	return scanUser(row)
}

// GetUserByUsername fetches a user record by its unique username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	if err := ctx.Err(); err != nil {
		return user.User{}, err
	}
	if s == nil || s.sqlDB == nil {
		return user.User{}, apperrors.New(apperrors.CodeStorageFailure, "storage is not configured")
	}
	if strings.TrimSpace(username) == "" {
		return user.User{}, apperrors.New(apperrors.CodeInvalidRequest, "username is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, username, user_handle, created_at
FROM users
WHERE username = ?
`, username)
	return scanUser(row)
}

func scanUser(row *sql.Row) (user.User, error) {
	var (
		u         user.User
		createdAt int64
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Handle, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return user.User{}, storage.ErrNotFound
		}
		return user.User{}, apperrors.Wrap(apperrors.CodeStorageFailure, "scan user", err)
	}
	u.CreatedAt = fromMillis(createdAt)
	return u, nil
}
