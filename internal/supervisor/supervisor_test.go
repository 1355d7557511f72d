package supervisor

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/foreman/internal/classifier"
	"github.com/corvid-labs/foreman/internal/db"
	"github.com/corvid-labs/foreman/internal/db/driver"
	"github.com/corvid-labs/foreman/internal/events"
	"github.com/corvid-labs/foreman/internal/llmdriver"
	"github.com/corvid-labs/foreman/internal/queue"
	"github.com/corvid-labs/foreman/internal/storage"
	"github.com/corvid-labs/foreman/internal/task"
)

func newTestSupervisor(t *testing.T, cfg Config) (*Supervisor, *queue.Queue, storage.Backend) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "foreman.db")
	database, err := db.Open(context.Background(), driver.DialectSQLite, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	backend := storage.NewDatabaseBackend(database.Driver())
	fake := llmdriver.NewFakeDriver("done, no issues found, looks complete and ready to ship as-is")
	pub := events.NewMemoryPublisher()
	q := queue.New(cfg.ProjectID, cfg.ProjectPath, backend, fake, classifier.New(), queue.WithPublisher(pub))

	cfg.ProjectID = "proj_1"
	reg := prometheus.NewRegistry()
	s := New(cfg, q, backend, pub, fake, WithRegisterer(reg))
	return s, q, backend
}

func TestWatchdogSweepCancelsStuckTaskAndReschedules(t *testing.T) {
	ctx := context.Background()
	s, q, backend := newTestSupervisor(t, Config{ProjectID: "proj_1", ProjectPath: t.TempDir()})

	tsk, err := q.Enqueue(ctx, queue.EnqueueInput{ProjectID: "proj_1", Title: "slow task", MaxRetries: 2})
	require.NoError(t, err)
	_, err = q.UpdateStatus(ctx, tsk.ID, task.StatusRunning, "", "")
	require.NoError(t, err)

	loaded, err := backend.LoadTask(ctx, tsk.ID)
	require.NoError(t, err)
	longAgo := time.Now().Add(-20 * time.Minute)
	loaded.StartedAt = &longAgo
	require.NoError(t, backend.SaveTask(ctx, loaded))

	require.NoError(t, s.watchdogSweep(ctx))

	after, err := backend.LoadTask(ctx, tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, after.Status)
	assert.Equal(t, 1, after.RetryCount)
}

func TestWatchdogSweepFailsWhenRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	s, q, backend := newTestSupervisor(t, Config{ProjectID: "proj_1", ProjectPath: t.TempDir()})

	tsk, err := q.Enqueue(ctx, queue.EnqueueInput{ProjectID: "proj_1", Title: "slow task", MaxRetries: 1})
	require.NoError(t, err)
	_, err = q.UpdateStatus(ctx, tsk.ID, task.StatusRunning, "", "")
	require.NoError(t, err)

	loaded, err := backend.LoadTask(ctx, tsk.ID)
	require.NoError(t, err)
	loaded.RetryCount = 1
	longAgo := time.Now().Add(-20 * time.Minute)
	loaded.StartedAt = &longAgo
	require.NoError(t, backend.SaveTask(ctx, loaded))

	require.NoError(t, s.watchdogSweep(ctx))

	after, err := backend.LoadTask(ctx, tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, after.Status)
}

func TestAutoApprovalSweepApprovesHighScoringGate(t *testing.T) {
	ctx := context.Background()
	s, q, backend := newTestSupervisor(t, Config{ProjectID: "proj_1", ProjectPath: t.TempDir(), AutoApproveThreshold: 60})

	tsk, err := q.Enqueue(ctx, queue.EnqueueInput{ProjectID: "proj_1", Title: "a", TaskType: task.TypeDocumentation})
	require.NoError(t, err)
	_, err = q.UpdateStatus(ctx, tsk.ID, task.StatusRunning, "", "")
	require.NoError(t, err)
	loaded, err := backend.LoadTask(ctx, tsk.ID)
	require.NoError(t, err)
	loaded.OutputRaw = `{"result":"# Overview\n\nThis document explains the feature in detail.\n\nSee the example below.\n```\nfoo()\n```"}`
	require.NoError(t, backend.SaveTask(ctx, loaded))

	_, err = q.CreateGate(ctx, tsk.ID, task.GateReview, "review", "", loaded.OutputRaw)
	require.NoError(t, err)

	require.NoError(t, s.autoApprovalSweep(ctx))

	after, err := backend.LoadTask(ctx, tsk.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Stats().TasksAutoApproved)
	_ = after
}

func TestAutoApprovalSweepComplianceGateApprovedByAI(t *testing.T) {
	ctx := context.Background()
	s, q, backend := newTestSupervisor(t, Config{ProjectID: "proj_1", ProjectPath: t.TempDir(), AutoApproveThreshold: 60})
	fake := s.driver.(*llmdriver.FakeDriver)
	fake.SchemaRespond = func(req llmdriver.Request, schema string) (any, error) {
		return map[string]any{"decision": "APPROVED", "reason": "meets policy", "questions": []string{}}, nil
	}

	tsk, err := q.Enqueue(ctx, queue.EnqueueInput{ProjectID: "proj_1", Title: "a", TaskType: task.TypeDocumentation})
	require.NoError(t, err)
	_, err = q.UpdateStatus(ctx, tsk.ID, task.StatusRunning, "", "")
	require.NoError(t, err)
	loaded, err := backend.LoadTask(ctx, tsk.ID)
	require.NoError(t, err)
	loaded.OutputRaw = `{"result":"# Overview\n\nThis document explains the feature in detail.\n\nSee the example below.\n```\nfoo()\n```"}`
	require.NoError(t, backend.SaveTask(ctx, loaded))

	_, err = q.CreateGate(ctx, tsk.ID, task.GateCompliance, "compliance", "must cite a policy section", loaded.OutputRaw)
	require.NoError(t, err)

	require.NoError(t, s.autoApprovalSweep(ctx))

	assert.Equal(t, int64(1), s.Stats().TasksAutoApproved)
}

func TestAutoApprovalSweepComplianceGateVetoedByAI(t *testing.T) {
	ctx := context.Background()
	s, q, backend := newTestSupervisor(t, Config{ProjectID: "proj_1", ProjectPath: t.TempDir(), AutoApproveThreshold: 60})
	fake := s.driver.(*llmdriver.FakeDriver)
	fake.SchemaRespond = func(req llmdriver.Request, schema string) (any, error) {
		return map[string]any{"decision": "NEEDS_CLARIFICATION", "reason": "", "questions": []string{"which policy section?"}}, nil
	}

	tsk, err := q.Enqueue(ctx, queue.EnqueueInput{ProjectID: "proj_1", Title: "a", TaskType: task.TypeDocumentation})
	require.NoError(t, err)
	_, err = q.UpdateStatus(ctx, tsk.ID, task.StatusRunning, "", "")
	require.NoError(t, err)
	loaded, err := backend.LoadTask(ctx, tsk.ID)
	require.NoError(t, err)
	loaded.OutputRaw = `{"result":"# Overview\n\nThis document explains the feature in detail.\n\nSee the example below.\n```\nfoo()\n```"}`
	require.NoError(t, backend.SaveTask(ctx, loaded))

	_, err = q.CreateGate(ctx, tsk.ID, task.GateCompliance, "compliance", "must cite a policy section", loaded.OutputRaw)
	require.NoError(t, err)

	require.NoError(t, s.autoApprovalSweep(ctx))

	assert.Equal(t, int64(0), s.Stats().TasksAutoApproved)
	assert.Equal(t, int64(1), s.Stats().TasksManualApproval)
}

func TestHasPendingWork(t *testing.T) {
	ctx := context.Background()
	s, q, _ := newTestSupervisor(t, Config{ProjectID: "proj_1", ProjectPath: t.TempDir()})

	has, err := s.hasPendingWork(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	_, err = q.Enqueue(ctx, queue.EnqueueInput{ProjectID: "proj_1", Title: "a"})
	require.NoError(t, err)

	has, err = s.hasPendingWork(ctx)
	require.NoError(t, err)
	assert.True(t, has)
}
