package approval

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/valet/ai/command"
	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/internal/profile"
	"github.com/hrygo/valet/ports"
	"github.com/hrygo/valet/ports/porttest"
	"github.com/hrygo/valet/store"
	"github.com/hrygo/valet/store/db/sqlite"
)

type recordingExecutor struct {
	calls  []*command.Intent
	result string
	err    error
}

func (e *recordingExecutor) Execute(_ context.Context, _ ports.UserID, intent *command.Intent) (string, error) {
	e.calls = append(e.calls, intent)
	return e.result, e.err
}

func newTestService(t *testing.T) (*Service, *recordingExecutor, *porttest.FakeClock) {
	t.Helper()
	p := &profile.Profile{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "valet.db")}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	require.NoError(t, driver.Migrate(context.Background()))
	st := store.New(driver, p)
	t.Cleanup(func() { _ = st.Close() })

	exec := &recordingExecutor{result: "done"}
	clock := porttest.NewFakeClock(time.Unix(1_700_000_000, 0))
	return NewService(st, exec, clock, Options{TTL: time.Hour}), exec, clock
}

func sendMailIntent() *command.Intent {
	return &command.Intent{
		Kind:    command.KindSendEmail,
		DraftID: "draft-1",
	}
}

func TestEnqueueAndList(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	req, err := svc.Enqueue(ctx, "alice", sendMailIntent())
	require.NoError(t, err)
	assert.Equal(t, store.ApprovalPending, req.State)
	assert.Greater(t, req.ExpiresTs, req.CreatedTs)

	list, err := svc.List(ctx, "alice", nil, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, req.ID, list[0].ID)

	// Other principals never see it.
	list, err = svc.List(ctx, "bob", nil, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	// Conversational intents are refused outright.
	_, err = svc.Enqueue(ctx, "alice", &command.Intent{Kind: command.KindAsk, Query: "hi"})
	require.Error(t, err)
	assert.Equal(t, errkind.Validation, errkind.KindOf(err))
}

func TestDecide_ApproveRunsExecutorOnce(t *testing.T) {
	ctx := context.Background()
	svc, exec, _ := newTestService(t)

	req, err := svc.Enqueue(ctx, "alice", sendMailIntent())
	require.NoError(t, err)

	decided, err := svc.Decide(ctx, "alice", req.ID, DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, store.ApprovalApproved, decided.State)
	assert.Equal(t, "done", decided.Result)
	require.Len(t, exec.calls, 1)
	assert.Equal(t, command.KindSendEmail, exec.calls[0].Kind)

	// Any second decision conflicts and never reaches the executor.
	_, err = svc.Decide(ctx, "alice", req.ID, DecisionApprove)
	require.Error(t, err)
	assert.Equal(t, errkind.Conflict, errkind.KindOf(err))
	_, err = svc.Decide(ctx, "alice", req.ID, DecisionDeny)
	require.Error(t, err)
	assert.Equal(t, errkind.Conflict, errkind.KindOf(err))
	assert.Len(t, exec.calls, 1)
}

func TestDecide_DenyAndCancelSkipExecutor(t *testing.T) {
	ctx := context.Background()
	svc, exec, _ := newTestService(t)

	req, err := svc.Enqueue(ctx, "alice", sendMailIntent())
	require.NoError(t, err)
	decided, err := svc.Decide(ctx, "alice", req.ID, DecisionDeny)
	require.NoError(t, err)
	assert.Equal(t, store.ApprovalDenied, decided.State)

	req, err = svc.Enqueue(ctx, "alice", sendMailIntent())
	require.NoError(t, err)
	decided, err = svc.Decide(ctx, "alice", req.ID, DecisionCancel)
	require.NoError(t, err)
	assert.Equal(t, store.ApprovalCancelled, decided.State)

	assert.Empty(t, exec.calls)
}

func TestDecide_OwnershipIsNotFound(t *testing.T) {
	ctx := context.Background()
	svc, exec, _ := newTestService(t)

	req, err := svc.Enqueue(ctx, "alice", sendMailIntent())
	require.NoError(t, err)

	_, err = svc.Decide(ctx, "mallory", req.ID, DecisionApprove)
	require.Error(t, err)
	assert.Equal(t, errkind.NotFound, errkind.KindOf(err))
	assert.Empty(t, exec.calls)

	// The request itself is untouched.
	got, err := svc.Get(ctx, "alice", req.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ApprovalPending, got.State)
}

func TestDecide_ExpiredConflicts(t *testing.T) {
	ctx := context.Background()
	svc, exec, clock := newTestService(t)

	req, err := svc.Enqueue(ctx, "alice", sendMailIntent())
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	_, err = svc.Decide(ctx, "alice", req.ID, DecisionApprove)
	require.Error(t, err)
	assert.Equal(t, errkind.Conflict, errkind.KindOf(err))
	assert.Empty(t, exec.calls)

	got, err := svc.Get(ctx, "alice", req.ID)
	require.NoError(t, err)
	assert.Equal(t, store.ApprovalExpired, got.State)
}

func TestDecide_ExecutorFailureRecorded(t *testing.T) {
	ctx := context.Background()
	svc, exec, _ := newTestService(t)
	exec.err = errkind.New(errkind.UpstreamUnavailable, "mail backend down")

	req, err := svc.Enqueue(ctx, "alice", sendMailIntent())
	require.NoError(t, err)

	decided, err := svc.Decide(ctx, "alice", req.ID, DecisionApprove)
	require.NoError(t, err)
	assert.Equal(t, store.ApprovalApproved, decided.State)
	assert.Contains(t, decided.Result, "execution failed")
	assert.Contains(t, decided.Result, "mail backend down")
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t)

	_, err := svc.Enqueue(ctx, "alice", sendMailIntent())
	require.NoError(t, err)

	n, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.Advance(2 * time.Hour)
	n, err = svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
