package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/corvid-labs/foreman/internal/events"
	"github.com/corvid-labs/foreman/internal/ferrors"
	"github.com/corvid-labs/foreman/internal/task"
)

// CreateGate inserts a pending gate for taskID and moves the task to
// waiting_approval, stamping approval_checkpoint with the gate's ID.
// A task may have at most one pending gate at a time.
func (q *Queue) CreateGate(ctx context.Context, taskID string, gateType task.GateType, title, description, reviewData string) (*task.ApprovalGate, error) {
	existing, err := q.backend.PendingGateForTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ferrors.ErrGatePending(taskID)
	}

	t, err := q.backend.LoadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	gate := &task.ApprovalGate{
		ID:          "gate_" + uuid.NewString(),
		TaskID:      taskID,
		Type:        gateType,
		Title:       title,
		Description: description,
		ReviewData:  reviewData,
		Status:      task.GatePending,
		CreatedAt:   time.Now(),
	}
	if err := q.backend.SaveGate(ctx, gate); err != nil {
		return nil, err
	}

	t.Status = task.StatusWaitingApproval
	t.ApprovalCheckpoint = gate.ID
	if err := q.backend.SaveTask(ctx, t); err != nil {
		return nil, err
	}
	if err := q.backend.AppendCheckpoint(ctx, task.Checkpoint{TaskID: taskID, Status: task.StatusWaitingApproval, RetryCount: t.RetryCount, CreatedAt: gate.CreatedAt}); err != nil {
		return nil, err
	}

	q.emit(events.EventTaskApprovalRequired, taskID, events.TaskApprovalRequiredData{GateID: gate.ID, GateType: string(gateType)})
	return gate, nil
}

// ApproveGate resolves a pending gate as approved and advances the
// task. A manual pre-execution gate returns the task to queued so the
// scheduler dispatches it; a review post-execution gate finalises the
// task directly to completed rather than re-running it.
func (q *Queue) ApproveGate(ctx context.Context, gateID, by, notes string) (*task.ApprovalGate, error) {
	gate, err := q.resolveGate(ctx, gateID, task.GateApproved, by, notes)
	if err != nil {
		return nil, err
	}

	switch gate.Type {
	case task.GateReview:
		if _, err := q.UpdateStatus(ctx, gate.TaskID, task.StatusCompleted, resultPayload(gate.ReviewData), ""); err != nil {
			return nil, err
		}
		q.emit(events.EventTaskCompleted, gate.TaskID, events.TaskCompletedData{Result: gate.ReviewData})
	default:
		if _, err := q.UpdateStatus(ctx, gate.TaskID, task.StatusQueued, "", ""); err != nil {
			return nil, err
		}
	}

	return gate, nil
}

// RejectGate resolves a pending gate as rejected and cancels the task.
func (q *Queue) RejectGate(ctx context.Context, gateID, by, notes string) (*task.ApprovalGate, error) {
	gate, err := q.resolveGate(ctx, gateID, task.GateRejected, by, notes)
	if err != nil {
		return nil, err
	}
	if _, err := q.UpdateStatus(ctx, gate.TaskID, task.StatusCancelled, "", "Rejected at approval gate"); err != nil {
		return nil, err
	}
	q.emit(events.EventTaskCancelled, gate.TaskID, nil)
	return gate, nil
}

func (q *Queue) resolveGate(ctx context.Context, gateID string, status task.GateStatus, by, notes string) (*task.ApprovalGate, error) {
	gate, err := q.backend.LoadGate(ctx, gateID)
	if err != nil {
		return nil, err
	}
	if gate.Status != task.GatePending {
		return nil, ferrors.ErrGateAlreadyResolved(gateID, string(gate.Status))
	}

	now := time.Now()
	gate.Status = status
	gate.ApprovedBy = by
	gate.Notes = notes
	gate.ResolvedAt = &now
	if err := q.backend.SaveGate(ctx, gate); err != nil {
		return nil, err
	}
	return gate, nil
}
