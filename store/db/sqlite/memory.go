package sqlite

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/hrygo/valet/store"
)

// Vectors are stored as little-endian float32 BLOBs; similarity search is
// computed in the application layer. Postgres uses pgvector instead.

func float32ArrayToBLOB(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:i*4+4], math.Float32bits(v))
	}
	return buf
}

func blobToFloat32Array(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, errors.Errorf("invalid vector BLOB length: %d", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4 : i*4+4]))
	}
	return vec, nil
}

// cosineSimilarity returns the cosine of the angle between a and b, or 0
// for mismatched or zero vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func (d *DB) CreateMemory(ctx context.Context, create *store.Memory) (*store.Memory, error) {
	tags, err := json.Marshal(create.Tags)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal tags")
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO memory (id, user_id, conversation_id, content, summary, type, importance, tags, vector, created_ts, accessed_ts, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		create.ID, create.UserID, create.ConversationID, create.Content, create.Summary,
		string(create.Type), create.Importance, string(tags), float32ArrayToBLOB(create.Vector),
		create.CreatedTs, create.AccessedTs, create.AccessCount,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create memory")
	}
	return create, nil
}

func (d *DB) ListMemories(ctx context.Context, find *store.FindMemory) ([]*store.Memory, error) {
	where, args := []string{"1 = 1"}, []any{}
	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *find.UserID)
	}
	if find.Type != nil {
		where, args = append(where, "type = ?"), append(args, string(*find.Type))
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
	var vecBlob []byte
	if err := scan(&m.ID, &m.UserID, &m.ConversationID, &m.Content, &m.Summary, &memType,
		&m.Importance, &tags, &vecBlob, &m.CreatedTs, &m.AccessedTs, &m.AccessCount); err != nil {
		return nil, errors.Wrap(err, "failed to scan memory")
	}
	m.Type = store.MemoryType(memType)
	if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal tags")
	}
	vec, err := blobToFloat32Array(vecBlob)
	if err != nil {
		return nil, err
	}
	m.Vector = vec
	return m, nil
}

func (d *DB) UpdateMemory(ctx context.Context, update *store.UpdateMemory) error {
	set, args := []string{}, []any{}
	if update.Content != nil {
		set, args = append(set, "content = ?"), append(args, update.Content)
	}
	if update.Importance != nil {
		set, args = append(set, "importance = ?"), append(args, *update.Importance)
	}
	if update.AccessedTs != nil {
		set, args = append(set, "accessed_ts = ?"), append(args, *update.AccessedTs)
	}
	if update.AccessDelta != 0 {
		set, args = append(set, "access_count = access_count + ?"), append(args, update.AccessDelta)
	}
	if len(set) == 0 {
		return nil
	}
	args = append(args, update.ID, update.UserID)
	_, err := d.db.ExecContext(ctx,
		"UPDATE memory SET "+joinComma(set)+" WHERE id = ? AND user_id = ?", args...)
	return errors.Wrap(err, "failed to update memory")
}

func (d *DB) DeleteMemory(ctx context.Context, delete *store.DeleteMemory) (int64, error) {
	where, args := []string{"1 = 1"}, []any{}
	if delete.ID != nil {
		where, args = append(where, "id = ?"), append(args, *delete.ID)
	}
	if delete.UserID != nil {
		where, args = append(where, "user_id = ?"), append(args, *delete.UserID)
	}
	if delete.ImportanceBelow != nil {
		where, args = append(where, "importance < ?"), append(args, *delete.ImportanceBelow)
	}
	res, err := d.db.ExecContext(ctx, "DELETE FROM memory WHERE "+joinAnd(where), args...)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete memories")
	}
	return res.RowsAffected()
}

// SearchMemories ranks the owner's memories by cosine similarity in the
// application layer. Fine for a personal install; the postgres driver
// pushes this into pgvector instead.
func (d *DB) SearchMemories(ctx context.Context, userID string, vec []float32, limit int) ([]*store.MemoryMatch, error) {
	memories, err := d.ListMemories(ctx, &store.FindMemory{UserID: &userID})
	if err != nil {
		return nil, err
	}
	matches := make([]*store.MemoryMatch, 0, len(memories))
	for _, m := range memories {
		matches = append(matches, &store.MemoryMatch{
			Memory:     m,
			Similarity: cosineSimilarity(vec, m.Vector),
		})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
