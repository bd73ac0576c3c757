// Package approval implements the confirmation queue for side-effecting
// commands. Nothing that writes to an external collaborator executes
// until the owning user approves it; every request transitions out of
// PENDING exactly once.
package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/valet/ai/command"
	"github.com/hrygo/valet/internal/errkind"
	"github.com/hrygo/valet/internal/idgen"
	"github.com/hrygo/valet/ports"
	"github.com/hrygo/valet/store"
)

// Decision is the verb a user applies to a pending request.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionDeny    Decision = "DENY"
	DecisionCancel  Decision = "CANCEL"
)

// Executor runs an approved intent against the collaborator ports and
// returns a human-readable outcome for the approval record.
type Executor interface {
	Execute(ctx context.Context, principal ports.UserID, intent *command.Intent) (string, error)
}

// Options tunes the queue. Zero values take the defaults.
type Options struct {
	// TTL is how long a request stays decidable. Default 1h.
	TTL time.Duration
	// SweepEvery is the expiry sweeper interval. Default 1m.
	SweepEvery time.Duration
}

func (o *Options) fillDefaults() {
	if o.TTL <= 0 {
		o.TTL = time.Hour
	}
	if o.SweepEvery <= 0 {
		o.SweepEvery = time.Minute
	}
}

// Service is the durable approval queue over the relational store.
type Service struct {
	store *store.Store
	exec  Executor
	clock ports.Clock
	opts  Options
}

// NewService creates an approval queue backed by st, executing approved
// intents through exec.
func NewService(st *store.Store, exec Executor, clock ports.Clock, opts Options) *Service {
	opts.fillDefaults()
	return &Service{store: st, exec: exec, clock: clock, opts: opts}
}

// Enqueue persists a side-effecting intent as a PENDING request and
// returns it. Conversational intents never belong here.
func (s *Service) Enqueue(ctx context.Context, principal ports.UserID, intent *command.Intent) (*store.ApprovalRequest, error) {
	if !intent.SideEffecting() {
		return nil, errkind.Newf(errkind.Validation, "intent %s does not require approval", intent.Kind)
	}
	raw, err := json.Marshal(intent)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal intent")
	}

	now := s.clock.Now()
	return s.store.CreateApproval(ctx, &store.ApprovalRequest{
		ID:        idgen.New(),
		UserID:    string(principal),
		Intent:    raw,
		State:     store.ApprovalPending,
		CreatedTs: now.UnixMilli(),
		ExpiresTs: now.Add(s.opts.TTL).UnixMilli(),
	})
}

// List returns the principal's requests, optionally filtered by state,
// newest first.
func (s *Service) List(ctx context.Context, principal ports.UserID, state *store.ApprovalState, limit int) ([]*store.ApprovalRequest, error) {
	userID := string(principal)
	return s.store.ListApprovals(ctx, &store.FindApproval{
		UserID: &userID,
		State:  state,
		Limit:  limit,
	})
}

// Get returns one request owned by the principal.
func (s *Service) Get(ctx context.Context, principal ports.UserID, id string) (*store.ApprovalRequest, error) {
	userID := string(principal)
	list, err := s.store.ListApprovals(ctx, &store.FindApproval{ID: &id, UserID: &userID})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errkind.New(errkind.NotFound, "approval not found")
	}
	return list[0], nil
}

// Decide applies one decision to a pending request. A request that is
// no longer pending (decided, cancelled, or past its TTL) yields
// Conflict; a request the principal does not own yields NotFound. On
// Approve the executor runs synchronously and its outcome is recorded
// on the request.
func (s *Service) Decide(ctx context.Context, principal ports.UserID, id string, decision Decision) (*store.ApprovalRequest, error) {
	now := s.clock.Now()

	// Lazily expire stale rows first so a decision on an overdue request
	// conflicts instead of racing the sweeper.
	if _, err := s.store.ExpireApprovals(ctx, now.UnixMilli()); err != nil {
		return nil, err
	}

	var target store.ApprovalState
	switch decision {
	case DecisionApprove:
		target = store.ApprovalApproved
	case DecisionDeny:
		target = store.ApprovalDenied
	case DecisionCancel:
		target = store.ApprovalCancelled
	default:
		return nil, errkind.Newf(errkind.Validation, "unknown decision %q", decision)
	}

	row, applied, err := s.store.DecideApproval(ctx, &store.DecideApproval{
		ID:        id,
		UserID:    string(principal),
		State:     target,
		DecidedTs: now.UnixMilli(),
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, errkind.Newf(errkind.Conflict, "approval is %s, not pending", row.State)
	}
	if target != store.ApprovalApproved {
		return row, nil
	}

	// The conditional transition above guarantees at most one winner, so
	// the executor runs exactly once per request.
	intent := &command.Intent{}
	if err := json.Unmarshal(row.Intent, intent); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal intent")
	}
	result, execErr := s.exec.Execute(ctx, principal, intent)
	if execErr != nil {
		slog.Warn("approved command failed", "approval", id, "kind", intent.Kind, "error", execErr)
		result = fmt.Sprintf("execution failed: %v", execErr)
	}
	if err := s.store.SetApprovalResult(ctx, id, result); err != nil {
		return nil, err
	}
	row.Result = result
	return row, nil
}

// Sweep expires every pending request past its deadline.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	return s.store.ExpireApprovals(ctx, s.clock.Now().UnixMilli())
}

// RunSweeper expires stale requests periodically until ctx ends.
func (s *Service) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.opts.SweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				slog.Warn("approval sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("expired stale approvals", "count", n)
			}
		}
	}
}
