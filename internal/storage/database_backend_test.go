package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/foreman/internal/db"
	"github.com/corvid-labs/foreman/internal/db/driver"
	"github.com/corvid-labs/foreman/internal/task"
)

func newTestBackend(t *testing.T) *DatabaseBackend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "foreman.db")
	database, err := db.Open(context.Background(), driver.DialectSQLite, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return NewDatabaseBackend(database.Driver())
}

func sampleTask(id string) *task.Task {
	return &task.Task{
		ID:             id,
		ProjectID:      "proj_1",
		Title:          "do the thing",
		Description:    "a task",
		TaskType:       task.TypeCodeGeneration,
		AutonomyLevel:  task.AutonomyAuto,
		Status:         task.StatusPending,
		Priority:       50,
		MaxRetries:     3,
		InputRaw:       "{}",
		OutputRaw:      "{}",
		CreatedAt:      time.Now().UTC(),
	}
}

func TestSaveAndLoadTask(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	tsk := sampleTask("task_1")
	require.NoError(t, backend.SaveTask(ctx, tsk))

	loaded, err := backend.LoadTask(ctx, "task_1")
	require.NoError(t, err)
	require.Equal(t, tsk.Title, loaded.Title)
	require.Equal(t, task.StatusPending, loaded.Status)
}

func TestSaveTaskUpsert(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	tsk := sampleTask("task_2")
	require.NoError(t, backend.SaveTask(ctx, tsk))

	tsk.Status = task.StatusRunning
	require.NoError(t, backend.SaveTask(ctx, tsk))

	loaded, err := backend.LoadTask(ctx, "task_2")
	require.NoError(t, err)
	require.Equal(t, task.StatusRunning, loaded.Status)
}

func TestLoadTaskNotFound(t *testing.T) {
	backend := newTestBackend(t)
	_, err := backend.LoadTask(context.Background(), "missing")
	require.Error(t, err)
}

func TestReadyTasksOrdering(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	low := sampleTask("task_low")
	low.Priority = 10
	high := sampleTask("task_high")
	high.Priority = 90

	require.NoError(t, backend.SaveTask(ctx, low))
	require.NoError(t, backend.SaveTask(ctx, high))

	ready, err := backend.ReadyTasks(ctx, "proj_1")
	require.NoError(t, err)
	require.Len(t, ready, 2)
	require.Equal(t, "task_high", ready[0].ID)
}

func TestGateLifecycle(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	tsk := sampleTask("task_3")
	require.NoError(t, backend.SaveTask(ctx, tsk))

	gate := &task.ApprovalGate{
		ID:        "gate_1",
		TaskID:    tsk.ID,
		Type:      task.GateManual,
		Title:     "confirm",
		Status:    task.GatePending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, backend.SaveGate(ctx, gate))

	pending, err := backend.PendingGateForTask(ctx, tsk.ID)
	require.NoError(t, err)
	require.NotNil(t, pending)

	gate.Status = task.GateApproved
	gate.ApprovedBy = "alice"
	require.NoError(t, backend.SaveGate(ctx, gate))

	pending, err = backend.PendingGateForTask(ctx, tsk.ID)
	require.NoError(t, err)
	require.Nil(t, pending)
}

func TestDependenciesAndCheckpoints(t *testing.T) {
	ctx := context.Background()
	backend := newTestBackend(t)

	a := sampleTask("task_a")
	b := sampleTask("task_b")
	require.NoError(t, backend.SaveTask(ctx, a))
	require.NoError(t, backend.SaveTask(ctx, b))
	require.NoError(t, backend.AddDependency(ctx, task.Dependency{TaskID: b.ID, DependsOnTaskID: a.ID}))

	deps, err := backend.Dependencies(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	require.Equal(t, a.ID, deps[0].DependsOnTaskID)

	require.NoError(t, backend.AppendCheckpoint(ctx, task.Checkpoint{TaskID: a.ID, Status: task.StatusRunning, CreatedAt: time.Now().UTC()}))
	history, err := backend.TaskHistory(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
}
