package sqlite

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hrygo/valet/store"
)

const reminderColumns = `id, user_id, source, event_id, lead_ms, fire_at, text, location, state, snooze_count, max_snooze, attempts, created_ts, updated_ts`

func (d *DB) CreateReminder(ctx context.Context, create *store.Reminder) (*store.Reminder, error) {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO reminder (`+reminderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		create.ID, create.UserID, string(create.Source), create.EventID, create.LeadMs,
		create.FireAt, create.Text, create.Location, string(create.State),
		create.SnoozeCount, create.MaxSnooze, create.Attempts, create.CreatedTs, create.UpdatedTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create reminder")
	}
	return create, nil
}

func (d *DB) ListReminders(ctx context.Context, find *store.FindReminder) ([]*store.Reminder, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}
	if find.State != nil {
		where, args = append(where, "state = ?"), append(args, string(*find.State))
	}
	if find.EventID != nil {
		where, args = append(where, "event_id = ?"), append(args, *find.EventID)
	}
	if find.LeadMs != nil {
		where, args = append(where, "lead_ms = ?"), append(args, *find.LeadMs)
	}
	query := "SELECT " + reminderColumns + " FROM reminder WHERE " + joinAnd(where) + " ORDER BY fire_at ASC"
	if find.Limit > 0 {
		query += limitOffset(find.Limit, 0)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list reminders")
	}
	defer rows.Close()

	list := []*store.Reminder{}
	for rows.Next() {
		r := &store.Reminder{}
		var source, state string
		if err := rows.Scan(&r.ID, &r.UserID, &source, &r.EventID, &r.LeadMs, &r.FireAt,
			&r.Text, &r.Location, &state, &r.SnoozeCount, &r.MaxSnooze, &r.Attempts,
			&r.CreatedTs, &r.UpdatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan reminder")
		}
		r.Source = store.ReminderSource(source)
		r.State = store.ReminderState(state)
		list = append(list, r)
	}
	return list, rows.Err()
}

func (d *DB) UpdateReminder(ctx context.Context, update *store.UpdateReminder) error {
	set, args := []string{"updated_ts = ?"}, []any{update.UpdatedTs}
	if update.State != nil {
		set, args = append(set, "state = ?"), append(args, string(*update.State))
	}
	if update.FireAt != nil {
		set, args = append(set, "fire_at = ?"), append(args, *update.FireAt)
	}
	if update.SnoozeCount != nil {
		set, args = append(set, "snooze_count = ?"), append(args, *update.SnoozeCount)
	}
	if update.Attempts != nil {
		set, args = append(set, "attempts = ?"), append(args, *update.Attempts)
	}
	args = append(args, update.ID)
	_, err := d.db.ExecContext(ctx, "UPDATE reminder SET "+joinComma(set)+" WHERE id = ?", args...)
	return errors.Wrap(err, "failed to update reminder")
}

// ClaimDueReminders flips due PENDING rows to SENT and returns them. The
// select and update share one transaction, so each reminder is claimed
// by at most one tick.
func (d *DB) ClaimDueReminders(ctx context.Context, nowMs int64) ([]*store.Reminder, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+reminderColumns+` FROM reminder
		WHERE state = 'PENDING' AND fire_at <= ? ORDER BY fire_at ASC`, nowMs)
	if err != nil {
		return nil, errors.Wrap(err, "failed to select due reminders")
	}

	claimed := []*store.Reminder{}
	for rows.Next() {
		r := &store.Reminder{}
		var source, state string
		if err := rows.Scan(&r.ID, &r.UserID, &source, &r.EventID, &r.LeadMs, &r.FireAt,
			&r.Text, &r.Location, &state, &r.SnoozeCount, &r.MaxSnooze, &r.Attempts,
			&r.CreatedTs, &r.UpdatedTs); err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "failed to scan reminder")
		}
		r.Source = store.ReminderSource(source)
		r.State = store.ReminderSent
		claimed = append(claimed, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, r := range claimed {
		if _, err := tx.ExecContext(ctx,
			"UPDATE reminder SET state = 'SENT', updated_ts = ? WHERE id = ? AND state = 'PENDING'",
			nowMs, r.ID,
		); err != nil {
			return nil, errors.Wrap(err, "failed to claim reminder")
		}
		r.UpdatedTs = nowMs
	}
	return claimed, errors.Wrap(tx.Commit(), "failed to commit claim")
}
