package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/store"
)

func (d *DB) CreateApproval(ctx context.Context, create *store.ApprovalRequest) (*store.ApprovalRequest, error) {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO approval (id, user_id, intent, state, result, attempts, created_ts, decided_ts, expires_ts)
		VALUES (`+placeholders(9)+`)`,
		create.ID, create.UserID, create.Intent, string(create.State), create.Result,
		create.Attempts, create.CreatedTs, create.DecidedTs, create.ExpiresTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create approval")
	}
	return create, nil
}

func (d *DB) ListApprovals(ctx context.Context, find *store.FindApproval) ([]*store.ApprovalRequest, error) {
	where, args := []string{"TRUE"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.State != nil {
		where, args = append(where, "state = "+placeholder(len(args)+1)), append(args, string(*find.State))
	}
	query := `SELECT id, user_id, intent, state, result, attempts, created_ts, decided_ts, expires_ts
		FROM approval WHERE ` + joinAnd(where) + " ORDER BY created_ts DESC"
	if find.Limit > 0 {
		query += limitOffset(find.Limit, 0)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list approvals")
	}
	defer rows.Close()

	list := []*store.ApprovalRequest{}
	for rows.Next() {
		a := &store.ApprovalRequest{}
		var state string
		if err := rows.Scan(&a.ID, &a.UserID, &a.Intent, &state, &a.Result, &a.Attempts, &a.CreatedTs, &a.DecidedTs, &a.ExpiresTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan approval")
		}
		a.State = store.ApprovalState(state)
		list = append(list, a)
	}
	return list, rows.Err()
}

// DecideApproval transitions the row only while it is still PENDING, so a
// second decision matches zero rows and is reported back as not applied.
func (d *DB) DecideApproval(ctx context.Context, decide *store.DecideApproval) (*store.ApprovalRequest, bool, error) {
	res, err := d.db.ExecContext(ctx, `
		UPDATE approval SET state = $1, result = $2, decided_ts = $3, attempts = attempts + 1
		WHERE id = $4 AND user_id = $5 AND state = 'PENDING'`,
		string(decide.State), decide.Result, decide.DecidedTs, decide.ID, decide.UserID,
	)
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to decide approval")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, errors.Wrap(err, "failed to read rows affected")
	}

	list, err := d.ListApprovals(ctx, &store.FindApproval{ID: &decide.ID, UserID: &decide.UserID})
	if err != nil {
		return nil, false, err
	}
	if len(list) == 0 {
		return nil, false, errkind.New(errkind.NotFound, "approval not found")
	}
	return list[0], affected > 0, nil
}

func (d *DB) SetApprovalResult(ctx context.Context, id string, result string) error {
	_, err := d.db.ExecContext(ctx, "UPDATE approval SET result = $1 WHERE id = $2", result, id)
	return errors.Wrap(err, "failed to set approval result")
}

func (d *DB) ExpireApprovals(ctx context.Context, nowMs int64) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		"UPDATE approval SET state = 'EXPIRED', decided_ts = $1 WHERE state = 'PENDING' AND expires_ts <= $2",
		nowMs, nowMs,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to expire approvals")
	}
	n, err := res.RowsAffected()
	if err != nil && err != sql.ErrNoRows {
		return 0, errors.Wrap(err, "failed to read rows affected")
	}
	return n, nil
}
