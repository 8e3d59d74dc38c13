package storage

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/hunterclarke/cosmos/lib/model"
)

// InsertAccount creates a new account. Returns model.ErrAlreadyExists if the
// email is already registered.
func (t *Tx) InsertAccount(ctx context.Context, email, displayName, avatarColor string, now time.Time) (model.Account, error) {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO accounts (email, display_name, avatar_color, created_at)
		VALUES (?, ?, ?, ?)
	`, email, displayName, avatarColor, now.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return model.Account{}, model.ErrAlreadyExists
		}
		return model.Account{}, errors.Wrap(err, "storage: insert account")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return model.Account{}, errors.Wrap(err, "storage: insert account: last insert id")
	}
	return model.Account{
		ID:          model.AccountID(id),
		Email:       email,
		DisplayName: displayName,
		AvatarColor: avatarColor,
		CreatedAt:   now,
	}, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && (contains(err.Error(), "UNIQUE constraint failed") || contains(err.Error(), "constraint failed"))
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

// ListAccounts returns every registered account, ordered by creation time.
func (d *DB) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, email, display_name, avatar_color, created_at
		FROM accounts ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "storage: list accounts")
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		var a model.Account
		var createdAtMs int64
		if err := rows.Scan(&a.ID, &a.Email, &a.DisplayName, &a.AvatarColor, &createdAtMs); err != nil {
			return nil, errors.Wrap(err, "storage: scan account")
		}
		a.CreatedAt = time.UnixMilli(createdAtMs)
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAccount fetches a single account by ID.
func (d *DB) GetAccount(ctx context.Context, id model.AccountID) (model.Account, error) {
	var a model.Account
	var createdAtMs int64
	err := d.db.QueryRowContext(ctx, `
		SELECT id, email, display_name, avatar_color, created_at
		FROM accounts WHERE id = ?
	`, id).Scan(&a.ID, &a.Email, &a.DisplayName, &a.AvatarColor, &createdAtMs)
	if err == sql.ErrNoRows {
		return model.Account{}, model.ErrNotFound
	}
	if err != nil {
		return model.Account{}, errors.Wrap(err, "storage: get account")
	}
	a.CreatedAt = time.UnixMilli(createdAtMs)
	return a, nil
}
