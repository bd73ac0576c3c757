package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/store"
)

func (d *DB) UpsertUser(ctx context.Context, user *store.User) (*store.User, error) {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO "user" (id, display_name, row_status, created_ts)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT(id) DO UPDATE SET display_name = EXCLUDED.display_name, row_status = EXCLUDED.row_status`,
		user.ID, user.DisplayName, string(user.RowStatus), user.CreatedTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upsert user")
	}
	return user, nil
}

func (d *DB) GetUser(ctx context.Context, id string) (*store.User, error) {
	user := &store.User{}
	var rowStatus string
	err := d.db.QueryRowContext(ctx,
		`SELECT id, display_name, row_status, created_ts FROM "user" WHERE id = $1`, id,
	).Scan(&user.ID, &user.DisplayName, &rowStatus, &user.CreatedTs)
	if err == sql.ErrNoRows {
		return nil, errkind.New(errkind.NotFound, "user not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get user")
	}
	user.RowStatus = store.RowStatus(rowStatus)
	return user, nil
}
