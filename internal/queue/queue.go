// Package queue implements the task queue engine: persistence-backed
// enqueue/scheduling, the execution state machine, and the approval
// gate lifecycle that pauses it.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/corvid-labs/foreman/internal/classifier"
	"github.com/corvid-labs/foreman/internal/events"
	"github.com/corvid-labs/foreman/internal/ferrors"
	"github.com/corvid-labs/foreman/internal/llmdriver"
	"github.com/corvid-labs/foreman/internal/storage"
	"github.com/corvid-labs/foreman/internal/task"
	"github.com/corvid-labs/foreman/internal/taskio"
)

const defaultMaxRetries = 3
const defaultPriority = 50
const idlePollInterval = time.Second

// EnqueueInput describes a new task.
type EnqueueInput struct {
	ProjectID    string
	ParentID     string
	Title        string
	Description  string
	TaskType     task.Type
	AgentPersona string
	Autonomy     task.AutonomyLevel
	Priority     int
	MaxRetries   int
	Input        taskio.Bag
	DependsOn    []string
}

// Option configures a Queue at construction time.
type Option func(*Queue)

// WithLogger overrides the queue's logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithPublisher overrides the queue's event publisher (defaults to a
// fresh in-memory publisher).
func WithPublisher(p events.Publisher) Option {
	return func(q *Queue) { q.publisher = p }
}

// Queue drives one project's task execution loop. The execution model
// is single-task-at-a-time per project, enforced by sem.
type Queue struct {
	projectID   string
	projectPath string
	backend     storage.Backend
	driver      llmdriver.Driver
	classifier  *classifier.Classifier
	publisher   events.Publisher
	logger      *slog.Logger

	sem *semaphore.Weighted

	mu      sync.Mutex
	running bool
	paused  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New builds a Queue for projectID backed by backend and driver.
func New(projectID, projectPath string, backend storage.Backend, driver llmdriver.Driver, clsfr *classifier.Classifier, opts ...Option) *Queue {
	q := &Queue{
		projectID:   projectID,
		projectPath: projectPath,
		backend:     backend,
		driver:      driver,
		classifier:  clsfr,
		publisher:   events.NewMemoryPublisher(),
		logger:      slog.Default(),
		sem:         semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Subscribe returns a channel of events for taskID, or events.GlobalTaskID
// for every event in the project.
func (q *Queue) Subscribe(taskID string) <-chan events.Event { return q.publisher.Subscribe(taskID) }

func (q *Queue) emit(eventType events.EventType, taskID string, data any) {
	q.publisher.Publish(events.NewEvent(eventType, taskID, data))
}

// Enqueue inserts a new task in status=pending, rejecting the call if
// any requested dependency would close a cycle in the project's
// dependency graph.
func (q *Queue) Enqueue(ctx context.Context, in EnqueueInput) (*task.Task, error) {
	priority := in.Priority
	if priority == 0 {
		priority = defaultPriority
	}
	maxRetries := in.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	autonomy := in.Autonomy
	if autonomy == "" {
		autonomy = task.AutonomyAuto
	}

	id := "task_" + uuid.NewString()
	inputRaw, err := in.Input.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal task input: %w", err)
	}

	if len(in.DependsOn) > 0 {
		edges, err := q.backend.ProjectDependencyEdges(ctx, in.ProjectID)
		if err != nil {
			return nil, err
		}
		for _, dep := range in.DependsOn {
			if wouldCreateCycle(edges, id, dep) {
				return nil, ferrors.ErrDependencyCycle(id, dep)
			}
			edges = append(edges, task.Dependency{TaskID: id, DependsOnTaskID: dep})
		}
	}

	t := &task.Task{
		ID:               id,
		ProjectID:        in.ProjectID,
		ParentID:         in.ParentID,
		Title:            in.Title,
		Description:      in.Description,
		TaskType:         in.TaskType,
		AgentPersona:     in.AgentPersona,
		AutonomyLevel:    autonomy,
		ApprovalRequired: autonomy.ApprovalRequired(),
		Status:           task.StatusPending,
		Priority:         priority,
		MaxRetries:       maxRetries,
		InputRaw:         inputRaw,
		OutputRaw:        "{}",
		CreatedAt:        time.Now(),
	}

	if err := q.backend.SaveTask(ctx, t); err != nil {
		return nil, err
	}
	for _, dep := range in.DependsOn {
		if err := q.backend.AddDependency(ctx, task.Dependency{TaskID: id, DependsOnTaskID: dep}); err != nil {
			return nil, err
		}
	}
	if err := q.backend.AppendCheckpoint(ctx, task.Checkpoint{TaskID: id, Status: task.StatusPending, CreatedAt: t.CreatedAt}); err != nil {
		return nil, err
	}

	q.emit(events.EventTaskQueued, id, nil)
	return t, nil
}

// wouldCreateCycle reports whether adding a taskID -> dependsOn edge
// would close a cycle, i.e. whether dependsOn already transitively
// depends on taskID.
func wouldCreateCycle(edges []task.Dependency, taskID, dependsOn string) bool {
	adj := make(map[string][]string, len(edges))
	for _, e := range edges {
		adj[e.TaskID] = append(adj[e.TaskID], e.DependsOnTaskID)
	}

	visited := make(map[string]bool)
	var dfs func(string) bool
	dfs = func(n string) bool {
		if n == taskID {
			return true
		}
		if visited[n] {
			return false
		}
		visited[n] = true
		for _, next := range adj[n] {
			if dfs(next) {
				return true
			}
		}
		return false
	}
	return dfs(dependsOn)
}

// Get returns a task by ID.
func (q *Queue) Get(ctx context.Context, id string) (*task.Task, error) {
	return q.backend.LoadTask(ctx, id)
}

// List returns every task in the project.
func (q *Queue) List(ctx context.Context) ([]*task.Task, error) {
	return q.backend.ListTasks(ctx, q.projectID)
}

// ListGates returns gates for the project in the given status.
func (q *Queue) ListGates(ctx context.Context, status task.GateStatus) ([]*task.ApprovalGate, error) {
	return q.backend.ListGates(ctx, q.projectID, status)
}

// Hierarchy loads id's position in its parent/child tree: the task
// itself, its parent (if ParentID is set), and its direct children.
func (q *Queue) Hierarchy(ctx context.Context, id string) (*task.Hierarchy, error) {
	t, err := q.backend.LoadTask(ctx, id)
	if err != nil {
		return nil, err
	}

	h := &task.Hierarchy{Task: t}
	if t.ParentID != "" {
		parent, err := q.backend.LoadTask(ctx, t.ParentID)
		if err != nil && !ferrors.IsNotFound(err) {
			return nil, err
		}
		h.Parent = parent
	}

	children, err := q.backend.ChildrenOf(ctx, id)
	if err != nil {
		return nil, err
	}
	h.Children = children

	return h, nil
}

// Reorder changes a task's priority.
func (q *Queue) Reorder(ctx context.Context, id string, priority int) (*task.Task, error) {
	t, err := q.backend.LoadTask(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Priority = priority
	return t, q.backend.SaveTask(ctx, t)
}

// UpdateAutonomyLevel changes a task's autonomy level and recomputes
// ApprovalRequired.
func (q *Queue) UpdateAutonomyLevel(ctx context.Context, id string, level task.AutonomyLevel) (*task.Task, error) {
	t, err := q.backend.LoadTask(ctx, id)
	if err != nil {
		return nil, err
	}
	t.AutonomyLevel = level
	t.ApprovalRequired = level.ApprovalRequired()
	return t, q.backend.SaveTask(ctx, t)
}

// UpdateStatus applies a status transition, stamping timestamps and
// writing a checkpoint row.
func (q *Queue) UpdateStatus(ctx context.Context, id string, status task.Status, outputRaw, errMsg string) (*task.Task, error) {
	t, err := q.backend.LoadTask(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if status == task.StatusRunning && t.StartedAt == nil {
		t.StartedAt = &now
	}
	if status.IsTerminal() && t.CompletedAt == nil {
		t.CompletedAt = &now
		t.ComputeActualDuration()
	}
	t.Status = status
	if outputRaw != "" {
		t.OutputRaw = outputRaw
	}
	if errMsg != "" {
		t.ErrorMessage = errMsg
	}

	if err := q.backend.SaveTask(ctx, t); err != nil {
		return nil, err
	}
	if err := q.backend.AppendCheckpoint(ctx, task.Checkpoint{TaskID: id, Status: status, RetryCount: t.RetryCount, CreatedAt: now}); err != nil {
		return nil, err
	}
	return t, nil
}

// Cancel requests cancellation of a task, forcing its terminal
// transition even if the driver reply is in flight.
func (q *Queue) Cancel(ctx context.Context, id string) (bool, error) {
	t, err := q.backend.LoadTask(ctx, id)
	if err != nil {
		return false, err
	}
	if t.Status.IsTerminal() {
		return false, nil
	}
	if t.Status == task.StatusRunning {
		q.driver.CancelCurrent()
	}
	if _, err := q.UpdateStatus(ctx, id, task.StatusCancelled, "", ""); err != nil {
		return false, err
	}
	q.emit(events.EventTaskCancelled, id, nil)
	return true, nil
}
