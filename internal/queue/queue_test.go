package queue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/foreman/internal/classifier"
	"github.com/corvid-labs/foreman/internal/db"
	"github.com/corvid-labs/foreman/internal/db/driver"
	"github.com/corvid-labs/foreman/internal/events"
	"github.com/corvid-labs/foreman/internal/llmdriver"
	"github.com/corvid-labs/foreman/internal/storage"
	"github.com/corvid-labs/foreman/internal/task"
	"github.com/corvid-labs/foreman/internal/taskio"
)

var (
	errTimeout    = errors.New("request timed out waiting for upstream")
	errPermission = errors.New("permission denied writing to /etc/foreman")
)

func newTestQueue(t *testing.T, resp string) (*Queue, *llmdriver.FakeDriver) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "foreman.db")
	database, err := db.Open(context.Background(), driver.DialectSQLite, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	backend := storage.NewDatabaseBackend(database.Driver())
	fake := llmdriver.NewFakeDriver(resp)
	q := New("proj_1", t.TempDir(), backend, fake, classifier.New())
	return q, fake
}

func TestEnqueueSetsPendingAndEmits(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, "done")
	sub := q.Subscribe(events.GlobalTaskID)

	tsk, err := q.Enqueue(ctx, EnqueueInput{ProjectID: "proj_1", Title: "build thing", TaskType: task.TypeCodeGeneration})
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, tsk.Status)
	assert.Equal(t, 50, tsk.Priority)
	assert.Equal(t, 3, tsk.MaxRetries)

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventTaskQueued, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected task-queued event")
	}
}

func TestWouldCreateCycleDetectsBackEdge(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, "done")

	a, err := q.Enqueue(ctx, EnqueueInput{ProjectID: "proj_1", Title: "a"})
	require.NoError(t, err)
	b, err := q.Enqueue(ctx, EnqueueInput{ProjectID: "proj_1", Title: "b", DependsOn: []string{a.ID}})
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, EnqueueInput{ProjectID: "proj_1", Title: "c", DependsOn: []string{b.ID}})
	require.NoError(t, err)

	// a already depends (transitively) on nothing; attempting to make a
	// depend on b would close a cycle since b -> a already exists.
	edges, err := q.backend.ProjectDependencyEdges(ctx, "proj_1")
	require.NoError(t, err)
	assert.True(t, wouldCreateCycle(edges, a.ID, b.ID))
}

func TestCancelImmediatelyAfterEnqueue(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, "done")

	tsk, err := q.Enqueue(ctx, EnqueueInput{ProjectID: "proj_1", Title: "a"})
	require.NoError(t, err)

	ok, err := q.Cancel(ctx, tsk.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	loaded, err := q.Get(ctx, tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, loaded.Status)
	assert.Nil(t, loaded.StartedAt)
}

func TestCancelOnAlreadyTerminalIsNoop(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, "done")

	tsk, err := q.Enqueue(ctx, EnqueueInput{ProjectID: "proj_1", Title: "a"})
	require.NoError(t, err)
	_, err = q.Cancel(ctx, tsk.ID)
	require.NoError(t, err)

	ok, err := q.Cancel(ctx, tsk.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExecuteTaskCompletesOnAutoAutonomy(t *testing.T) {
	ctx := context.Background()
	q, fake := newTestQueue(t, "the work is done")
	_ = fake

	tsk, err := q.Enqueue(ctx, EnqueueInput{ProjectID: "proj_1", Title: "a", Autonomy: task.AutonomyAuto})
	require.NoError(t, err)

	q.executeTask(ctx, tsk)

	loaded, err := q.Get(ctx, tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, loaded.Status)
	assert.NotNil(t, loaded.CompletedAt)
}

func TestExecuteTaskCreatesReviewGateOnApprovalGatesAutonomy(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, "final output")

	tsk, err := q.Enqueue(ctx, EnqueueInput{ProjectID: "proj_1", Title: "a", Autonomy: task.AutonomyApprovalGates})
	require.NoError(t, err)

	q.executeTask(ctx, tsk)

	loaded, err := q.Get(ctx, tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusWaitingApproval, loaded.Status)

	gate, err := q.backend.PendingGateForTask(ctx, tsk.ID)
	require.NoError(t, err)
	require.NotNil(t, gate)
	assert.Equal(t, task.GateReview, gate.Type)
}

func TestApproveReviewGateFinalisesWithoutReexecution(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, "final output")

	tsk, err := q.Enqueue(ctx, EnqueueInput{ProjectID: "proj_1", Title: "a", Autonomy: task.AutonomyApprovalGates})
	require.NoError(t, err)
	q.executeTask(ctx, tsk)

	gate, err := q.backend.PendingGateForTask(ctx, tsk.ID)
	require.NoError(t, err)

	_, err = q.ApproveGate(ctx, gate.ID, "alice", "")
	require.NoError(t, err)

	loaded, err := q.Get(ctx, tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, loaded.Status)
}

func TestApproveManualGateRequeues(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, "done")

	tsk, err := q.Enqueue(ctx, EnqueueInput{ProjectID: "proj_1", Title: "a", Autonomy: task.AutonomySupervised})
	require.NoError(t, err)

	gate, err := q.CreateGate(ctx, tsk.ID, task.GateManual, "pre-exec", "", "")
	require.NoError(t, err)

	_, err = q.ApproveGate(ctx, gate.ID, "alice", "")
	require.NoError(t, err)

	loaded, err := q.Get(ctx, tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusQueued, loaded.Status)
}

func TestRejectGateCancelsTask(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, "done")

	tsk, err := q.Enqueue(ctx, EnqueueInput{ProjectID: "proj_1", Title: "a", Autonomy: task.AutonomySupervised})
	require.NoError(t, err)
	gate, err := q.CreateGate(ctx, tsk.ID, task.GateManual, "pre-exec", "", "")
	require.NoError(t, err)

	_, err = q.RejectGate(ctx, gate.ID, "alice", "nope")
	require.NoError(t, err)

	loaded, err := q.Get(ctx, tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, loaded.Status)
	assert.Equal(t, "Rejected at approval gate", loaded.ErrorMessage)
}

func TestApproveAlreadyResolvedGateFails(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, "done")

	tsk, err := q.Enqueue(ctx, EnqueueInput{ProjectID: "proj_1", Title: "a", Autonomy: task.AutonomySupervised})
	require.NoError(t, err)
	gate, err := q.CreateGate(ctx, tsk.ID, task.GateManual, "pre-exec", "", "")
	require.NoError(t, err)

	_, err = q.ApproveGate(ctx, gate.ID, "alice", "")
	require.NoError(t, err)

	_, err = q.RejectGate(ctx, gate.ID, "bob", "")
	assert.Error(t, err)
}

func TestSelectReadyTaskDivertsSupervisedPendingToGate(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, "done")

	_, err := q.Enqueue(ctx, EnqueueInput{ProjectID: "proj_1", Title: "a", Autonomy: task.AutonomySupervised})
	require.NoError(t, err)

	next, err := q.selectReadyTask(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestSelectReadyTaskSkipsUnmetDependencies(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, "done")

	a, err := q.Enqueue(ctx, EnqueueInput{ProjectID: "proj_1", Title: "a"})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, EnqueueInput{ProjectID: "proj_1", Title: "b", DependsOn: []string{a.ID}})
	require.NoError(t, err)

	next, err := q.selectReadyTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, a.ID, next.ID)
}

func TestExecuteTaskRetriesOnClassifiedTransientError(t *testing.T) {
	ctx := context.Background()
	q, fake := newTestQueue(t, "")
	fake.Respond = func(req llmdriver.Request) (string, error) {
		return "", errTimeout
	}

	tsk, err := q.Enqueue(ctx, EnqueueInput{ProjectID: "proj_1", Title: "a"})
	require.NoError(t, err)

	q.executeTask(ctx, tsk)

	loaded, err := q.Get(ctx, tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, loaded.Status)
	assert.Equal(t, 1, loaded.RetryCount)
	assert.Equal(t, 5, loaded.MaxRetries, "classifier raises a transient error's retry ceiling to 5")
	assert.LessOrEqual(t, loaded.RetryCount, loaded.MaxRetries)

	bag, err := taskio.Parse(loaded.InputRaw)
	require.NoError(t, err)
	assert.Len(t, bag.PreviousErrors, 1)
}

func TestExecuteTaskFailsOnStructuralError(t *testing.T) {
	ctx := context.Background()
	q, fake := newTestQueue(t, "")
	fake.Respond = func(req llmdriver.Request) (string, error) {
		return "", errPermission
	}

	tsk, err := q.Enqueue(ctx, EnqueueInput{ProjectID: "proj_1", Title: "a"})
	require.NoError(t, err)

	q.executeTask(ctx, tsk)

	loaded, err := q.Get(ctx, tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, loaded.Status)
}
