package store_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/valet/internal/idgen"
	"github.com/hrygo/valet/internal/profile"
	"github.com/hrygo/valet/store"
	"github.com/hrygo/valet/store/db/sqlite"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	p := &profile.Profile{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "valet.db")}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	require.NoError(t, driver.Migrate(context.Background()))
	st := store.New(driver, p)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestAppendMessageEvictsOldest(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	conv, err := st.CreateConversation(ctx, &store.Conversation{
		ID: idgen.New(), UserID: "alice", Title: "history bound",
	})
	require.NoError(t, err)

	total := store.MaxHistory + 5
	for i := 0; i < total; i++ {
		require.NoError(t, st.AppendMessage(ctx, &store.Message{
			ID:             idgen.New(),
			ConversationID: conv.ID,
			Role:           "user",
			Content:        fmt.Sprintf("turn %d", i),
			CreatedTs:      int64(1000 + i),
		}))
	}

	msgs, err := st.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, store.MaxHistory)
	// Oldest five are gone, order is preserved.
	assert.Equal(t, "turn 5", msgs[0].Content)
	assert.Equal(t, fmt.Sprintf("turn %d", total-1), msgs[len(msgs)-1].Content)
}

func TestDecideApprovalIsOneShot(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now().UnixMilli()

	created, err := st.CreateApproval(ctx, &store.ApprovalRequest{
		ID:        idgen.New(),
		UserID:    "alice",
		Intent:    []byte(`{"kind":"SEND_EMAIL"}`),
		State:     store.ApprovalPending,
		CreatedTs: now,
		ExpiresTs: now + time.Hour.Milliseconds(),
	})
	require.NoError(t, err)

	decided, applied, err := st.DecideApproval(ctx, &store.DecideApproval{
		ID: created.ID, UserID: "alice", State: store.ApprovalApproved, DecidedTs: now,
	})
	require.NoError(t, err)
	require.True(t, applied)
	assert.Equal(t, store.ApprovalApproved, decided.State)

	// Second transition must be refused and leave the row untouched.
	again, applied, err := st.DecideApproval(ctx, &store.DecideApproval{
		ID: created.ID, UserID: "alice", State: store.ApprovalDenied, DecidedTs: now + 1,
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, store.ApprovalApproved, again.State)
}

func TestExpireApprovalsSkipsDecidedRows(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now().UnixMilli()

	stale, err := st.CreateApproval(ctx, &store.ApprovalRequest{
		ID: idgen.New(), UserID: "alice", Intent: []byte(`{}`),
		State: store.ApprovalPending, CreatedTs: now - 10_000, ExpiresTs: now - 1,
	})
	require.NoError(t, err)
	fresh, err := st.CreateApproval(ctx, &store.ApprovalRequest{
		ID: idgen.New(), UserID: "alice", Intent: []byte(`{}`),
		State: store.ApprovalPending, CreatedTs: now, ExpiresTs: now + 10_000,
	})
	require.NoError(t, err)

	n, err := st.ExpireApprovals(ctx, now)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	list, err := st.ListApprovals(ctx, &store.FindApproval{ID: &stale.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, store.ApprovalExpired, list[0].State)

	list, err = st.ListApprovals(ctx, &store.FindApproval{ID: &fresh.ID})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, store.ApprovalPending, list[0].State)
}

func TestClaimDueRemindersClaimsOnce(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now().UnixMilli()

	due, err := st.CreateReminder(ctx, &store.Reminder{
		ID: idgen.New(), UserID: "alice", Source: store.SourceUser,
		Text: "due now", FireAt: now - 1, State: store.ReminderPending,
		CreatedTs: now, UpdatedTs: now,
	})
	require.NoError(t, err)
	_, err = st.CreateReminder(ctx, &store.Reminder{
		ID: idgen.New(), UserID: "alice", Source: store.SourceUser,
		Text: "later", FireAt: now + time.Hour.Milliseconds(), State: store.ReminderPending,
		CreatedTs: now, UpdatedTs: now,
	})
	require.NoError(t, err)

	claimed, err := st.ClaimDueReminders(ctx, now)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, due.ID, claimed[0].ID)
	assert.Equal(t, store.ReminderSent, claimed[0].State)

	// The transition happened inside the claim; a second pass sees nothing.
	claimed, err = st.ClaimDueReminders(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}
