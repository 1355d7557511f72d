// Package storage persists tasks, approval gates, dependencies, and
// their supporting history to the embedded project store.
package storage

import (
	"context"

	"github.com/corvid-labs/foreman/internal/task"
)

// Backend is the persistence contract the queue engine, approval
// resolver, and supervisor depend on. A single implementation
// (DatabaseBackend) backs both the sqlite and postgres dialects via
// internal/db/driver.
type Backend interface {
	SaveTask(ctx context.Context, t *task.Task) error
	LoadTask(ctx context.Context, id string) (*task.Task, error)
	ListTasks(ctx context.Context, projectID string) ([]*task.Task, error)
	// ReadyTasks returns tasks in (pending, queued) for projectID,
	// ordered priority DESC, created_at ASC.
	ReadyTasks(ctx context.Context, projectID string) ([]*task.Task, error)
	// ChildrenOf returns tasks whose ParentID is taskID, created_at ASC.
	ChildrenOf(ctx context.Context, taskID string) ([]*task.Task, error)
	DeleteTask(ctx context.Context, id string) error

	SaveGate(ctx context.Context, g *task.ApprovalGate) error
	LoadGate(ctx context.Context, id string) (*task.ApprovalGate, error)
	PendingGateForTask(ctx context.Context, taskID string) (*task.ApprovalGate, error)
	ListGates(ctx context.Context, projectID string, status task.GateStatus) ([]*task.ApprovalGate, error)

	AddDependency(ctx context.Context, dep task.Dependency) error
	Dependencies(ctx context.Context, taskID string) ([]task.Dependency, error)
	ProjectDependencyEdges(ctx context.Context, projectID string) ([]task.Dependency, error)

	AppendCheckpoint(ctx context.Context, c task.Checkpoint) error
	TaskHistory(ctx context.Context, taskID string) ([]task.Checkpoint, error)

	AppendExecutionMetric(ctx context.Context, m task.ExecutionMetric) error
	ExecutionMetrics(ctx context.Context, taskID string) ([]task.ExecutionMetric, error)

	Close() error
}
