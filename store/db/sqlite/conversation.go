package sqlite

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hrygo/valet/store"
)

func (d *DB) CreateConversation(ctx context.Context, create *store.Conversation) (*store.Conversation, error) {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO conversation (id, user_id, title, created_ts, updated_ts)
		VALUES (?, ?, ?, ?, ?)`,
		create.ID, create.UserID, create.Title, create.CreatedTs, create.UpdatedTs,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create conversation")
	}
	return create, nil
}

func (d *DB) ListConversations(ctx context.Context, find *store.FindConversation) ([]*store.Conversation, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}
	query := "SELECT id, user_id, title, created_ts, updated_ts FROM conversation WHERE " + joinAnd(where) + " ORDER BY updated_ts DESC"
	if find.Limit > 0 {
		query += limitOffset(find.Limit, find.Offset)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list conversations")
	}
	defer rows.Close()

	list := []*store.Conversation{}
	for rows.Next() {
		c := &store.Conversation{}
		if err := rows.Scan(&c.ID, &c.UserID, &c.Title, &c.CreatedTs, &c.UpdatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan conversation")
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func (d *DB) DeleteConversation(ctx context.Context, delete *store.DeleteConversation) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM message WHERE conversation_id = ?", delete.ID); err != nil {
		return errors.Wrap(err, "failed to delete messages")
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM conversation WHERE id = ? AND user_id = ?", delete.ID, delete.UserID); err != nil {
		return errors.Wrap(err, "failed to delete conversation")
	}
	return tx.Commit()
}

// AppendMessage inserts the message and prunes rows beyond maxHistory,
// oldest first, inside one transaction so the bound holds for every
// committed state.
func (d *DB) AppendMessage(ctx context.Context, message *store.Message, maxHistory int) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO message (id, conversation_id, role, content, token_count, created_ts)
		VALUES (?, ?, ?, ?, ?, ?)`,
		message.ID, message.ConversationID, message.Role, message.Content, message.TokenCount, message.CreatedTs,
	); err != nil {
		return errors.Wrap(err, "failed to insert message")
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM message WHERE conversation_id = ? AND seq NOT IN (
			SELECT seq FROM message WHERE conversation_id = ? ORDER BY seq DESC LIMIT ?
		)`,
		message.ConversationID, message.ConversationID, maxHistory,
	); err != nil {
		return errors.Wrap(err, "failed to evict old messages")
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE conversation SET updated_ts = ? WHERE id = ?",
		message.CreatedTs, message.ConversationID,
	); err != nil {
		return errors.Wrap(err, "failed to touch conversation")
	}
	return tx.Commit()
}

func (d *DB) ListMessages(ctx context.Context, conversationID string) ([]*store.Message, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, token_count, created_ts
		FROM message WHERE conversation_id = ? ORDER BY seq ASC`,
		conversationID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	list := []*store.Message{}
	for rows.Next() {
		m := &store.Message{}
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.TokenCount, &m.CreatedTs); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		list = append(list, m)
	}
	return list, rows.Err()
}
