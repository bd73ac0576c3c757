package postgres

import (
	"context"
	"encoding/json"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"

	"github.com/hrygo/valet/store"
)

func (d *DB) CreateMemory(ctx context.Context, create *store.Memory) (*store.Memory, error) {
	tags, err := json.Marshal(create.Tags)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal tags")
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO memory (id, user_id, conversation_id, content, summary, type, importance, tags, vector, created_ts, accessed_ts, access_count)
		VALUES (`+placeholders(12)+`)`,
		create.ID, create.UserID, create.ConversationID, create.Content, create.Summary,
		string(create.Type), create.Importance, string(tags), pgvector.NewVector(create.Vector),
		create.CreatedTs, create.AccessedTs, create.AccessCount,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create memory")
	}
	return create, nil
}

func (d *DB) ListMemories(ctx context.Context, find *store.FindMemory) ([]*store.Memory, error) {
	where, args := []string{"TRUE"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *find.UserID)
	}
	if find.Type != nil {
		where, args = append(where, "type = "+placeholder(len(args)+1)), append(args, string(*find.Type))
	}
	query := `SELECT id, user_id, conversation_id, content, summary, type, importance, tags, vector, created_ts, accessed_ts, access_count
		FROM memory WHERE ` + joinAnd(where) + " ORDER BY created_ts DESC"
	if find.Limit > 0 {
		query += limitOffset(find.Limit, 0)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list memories")
	}
	defer rows.Close()

	list := []*store.Memory{}
	for rows.Next() {
		m, err := scanMemory(rows.Scan)
		if err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

type scanFunc func(dest ...any) error

func scanMemory(scan scanFunc) (*store.Memory, error) {
	m := &store.Memory{}
	var memType, tags string
	var vector pgvector.Vector
	if err := scan(&m.ID, &m.UserID, &m.ConversationID, &m.Content, &m.Summary, &memType,
		&m.Importance, &tags, &vector, &m.CreatedTs, &m.AccessedTs, &m.AccessCount); err != nil {
		return nil, errors.Wrap(err, "failed to scan memory")
	}
	m.Type = store.MemoryType(memType)
	if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal tags")
	}
	m.Vector = vector.Slice()
	return m, nil
}

func (d *DB) UpdateMemory(ctx context.Context, update *store.UpdateMemory) error {
	set, args := []string{}, []any{}
	if update.Content != nil {
		set, args = append(set, "content = "+placeholder(len(args)+1)), append(args, update.Content)
	}
	if update.Importance != nil {
		set, args = append(set, "importance = "+placeholder(len(args)+1)), append(args, *update.Importance)
	}
	if update.AccessedTs != nil {
		set, args = append(set, "accessed_ts = "+placeholder(len(args)+1)), append(args, *update.AccessedTs)
	}
	if update.AccessDelta != 0 {
		set, args = append(set, "access_count = access_count + "+placeholder(len(args)+1)), append(args, update.AccessDelta)
	}
	if len(set) == 0 {
		return nil
	}
	args = append(args, update.ID, update.UserID)
	_, err := d.db.ExecContext(ctx,
		"UPDATE memory SET "+joinComma(set)+
			" WHERE id = "+placeholder(len(args)-1)+" AND user_id = "+placeholder(len(args)), args...)
	return errors.Wrap(err, "failed to update memory")
}

func (d *DB) DeleteMemory(ctx context.Context, delete *store.DeleteMemory) (int64, error) {
	where, args := []string{"TRUE"}, []any{}
	if delete.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *delete.ID)
	}
	if delete.UserID != nil {
		where, args = append(where, "user_id = "+placeholder(len(args)+1)), append(args, *delete.UserID)
	}
	if delete.ImportanceBelow != nil {
		where, args = append(where, "importance < "+placeholder(len(args)+1)), append(args, *delete.ImportanceBelow)
	}
	res, err := d.db.ExecContext(ctx, "DELETE FROM memory WHERE "+joinAnd(where), args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete memories")
	}
	return res.RowsAffected()
}

// SearchMemories ranks the owner's memories by cosine similarity inside
// PostgreSQL. pgvector's <=> operator yields cosine distance, so the
// similarity is 1 - distance.
func (d *DB) SearchMemories(ctx context.Context, userID string, vec []float32, limit int) ([]*store.MemoryMatch, error) {
	query := `SELECT id, user_id, conversation_id, content, summary, type, importance, tags, vector, created_ts, accessed_ts, access_count,
			1 - (vector <=> $1) AS similarity
		FROM memory WHERE user_id = $2 AND vector IS NOT NULL
		ORDER BY vector <=> $1 ASC`
	if limit > 0 {
		query += limitOffset(limit, 0)
	}

	rows, err := d.db.QueryContext(ctx, query, pgvector.NewVector(vec), userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search memories")
	}
	defer rows.Close()

	matches := []*store.MemoryMatch{}
	for rows.Next() {
		m := &store.Memory{}
		var memType, tags string
		var vector pgvector.Vector
		var similarity float64
		if err := rows.Scan(&m.ID, &m.UserID, &m.ConversationID, &m.Content, &m.Summary, &memType,
			&m.Importance, &tags, &vector, &m.CreatedTs, &m.AccessedTs, &m.AccessCount, &similarity); err != nil {
			return nil, errors.Wrap(err, "failed to scan memory match")
		}
		m.Type = store.MemoryType(memType)
		if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal tags")
		}
		m.Vector = vector.Slice()
		matches = append(matches, &store.MemoryMatch{Memory: m, Similarity: similarity})
	}
	return matches, rows.Err()
}
