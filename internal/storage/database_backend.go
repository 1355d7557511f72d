package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/corvid-labs/foreman/internal/db/driver"
	"github.com/corvid-labs/foreman/internal/ferrors"
	"github.com/corvid-labs/foreman/internal/task"
)

const timeLayout = time.RFC3339Nano

// DatabaseBackend is the Backend implementation shared by the sqlite
// and postgres dialects, dispatching through driver.Driver so the SQL
// text only differs in placeholder style.
type DatabaseBackend struct {
	drv driver.Driver
}

// NewDatabaseBackend wraps an already-open, already-migrated driver.
func NewDatabaseBackend(drv driver.Driver) *DatabaseBackend {
	return &DatabaseBackend{drv: drv}
}

func (b *DatabaseBackend) ph(i int) string { return b.drv.Placeholder(i) }

func (b *DatabaseBackend) Close() error { return b.drv.Close() }

func fmtTime(t time.Time) string { return t.Format(timeLayout) }

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (b *DatabaseBackend) SaveTask(ctx context.Context, t *task.Task) error {
	q := fmt.Sprintf(`INSERT INTO task_queue (
		id, project_id, parent_id, title, description, task_type, agent_persona,
		autonomy_level, approval_required, status, priority, retry_count, max_retries,
		estimated_duration_s, actual_duration_s, input_data, output_data, error_message,
		approval_checkpoint, created_at, started_at, completed_at
	) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)
	%s (id) DO UPDATE SET
		title=%s, description=%s, task_type=%s, agent_persona=%s, autonomy_level=%s,
		approval_required=%s, status=%s, priority=%s, retry_count=%s, max_retries=%s,
		estimated_duration_s=%s, actual_duration_s=%s, input_data=%s, output_data=%s,
		error_message=%s, approval_checkpoint=%s, started_at=%s, completed_at=%s`,
		b.ph(1), b.ph(2), b.ph(3), b.ph(4), b.ph(5), b.ph(6), b.ph(7), b.ph(8), b.ph(9), b.ph(10),
		b.ph(11), b.ph(12), b.ph(13), b.ph(14), b.ph(15), b.ph(16), b.ph(17), b.ph(18), b.ph(19),
		b.ph(20), b.ph(21), b.ph(22), b.drv.UpsertConflict(),
		b.ph(23), b.ph(24), b.ph(25), b.ph(26), b.ph(27), b.ph(28), b.ph(29), b.ph(30), b.ph(31),
		b.ph(32), b.ph(33), b.ph(34), b.ph(35), b.ph(36), b.ph(37), b.ph(38), b.ph(39), b.ph(40))

	args := []any{
		t.ID, t.ProjectID, nullableString(t.ParentID), t.Title, t.Description, string(t.TaskType), t.AgentPersona,
		string(t.AutonomyLevel), t.ApprovalRequired, string(t.Status), t.Priority, t.RetryCount, t.MaxRetries,
		nullableInt64(t.EstimatedDurationS), nullableInt64(t.ActualDurationS), t.InputRaw, t.OutputRaw, nullableString(t.ErrorMessage),
		nullableString(t.ApprovalCheckpoint), fmtTime(t.CreatedAt), fmtTimePtr(t.StartedAt), fmtTimePtr(t.CompletedAt),
		t.Title, t.Description, string(t.TaskType), t.AgentPersona, string(t.AutonomyLevel),
		t.ApprovalRequired, string(t.Status), t.Priority, t.RetryCount, t.MaxRetries,
		nullableInt64(t.EstimatedDurationS), nullableInt64(t.ActualDurationS), t.InputRaw, t.OutputRaw,
		nullableString(t.ErrorMessage), nullableString(t.ApprovalCheckpoint), fmtTimePtr(t.StartedAt), fmtTimePtr(t.CompletedAt),
	}
	_, err := b.drv.Exec(ctx, q, args...)
	return err
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt64(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

const taskColumns = `id, project_id, parent_id, title, description, task_type, agent_persona,
	autonomy_level, approval_required, status, priority, retry_count, max_retries,
	estimated_duration_s, actual_duration_s, input_data, output_data, error_message,
	approval_checkpoint, created_at, started_at, completed_at`

func scanTask(row interface{ Scan(...any) error }) (*task.Task, error) {
	var t task.Task
	var parentID, errorMessage, approvalCheckpoint sql.NullString
	var estimated, actual sql.NullInt64
	var startedAt, completedAt sql.NullString
	var createdAt string
	var taskType, autonomyLevel, status string

	if err := row.Scan(
		&t.ID, &t.ProjectID, &parentID, &t.Title, &t.Description, &taskType, &t.AgentPersona,
		&autonomyLevel, &t.ApprovalRequired, &status, &t.Priority, &t.RetryCount, &t.MaxRetries,
		&estimated, &actual, &t.InputRaw, &t.OutputRaw, &errorMessage,
		&approvalCheckpoint, &createdAt, &startedAt, &completedAt,
	); err != nil {
		return nil, err
	}

	t.ParentID = parentID.String
	t.ErrorMessage = errorMessage.String
	t.ApprovalCheckpoint = approvalCheckpoint.String
	t.EstimatedDurationS = estimated.Int64
	t.ActualDurationS = actual.Int64
	t.TaskType = task.Type(taskType)
	t.AutonomyLevel = task.AutonomyLevel(autonomyLevel)
	t.Status = task.Status(status)

	created, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = created

	if t.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return nil, err
	}
	if t.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (b *DatabaseBackend) LoadTask(ctx context.Context, id string) (*task.Task, error) {
	q := fmt.Sprintf(`SELECT %s FROM task_queue WHERE id = %s`, taskColumns, b.ph(1))
	row := b.drv.QueryRow(ctx, q, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ferrors.ErrTaskNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (b *DatabaseBackend) queryTasks(ctx context.Context, query string, args ...any) ([]*task.Task, error) {
	rows, err := b.drv.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (b *DatabaseBackend) ListTasks(ctx context.Context, projectID string) ([]*task.Task, error) {
	q := fmt.Sprintf(`SELECT %s FROM task_queue WHERE project_id = %s ORDER BY created_at ASC`, taskColumns, b.ph(1))
	return b.queryTasks(ctx, q, projectID)
}

func (b *DatabaseBackend) ReadyTasks(ctx context.Context, projectID string) ([]*task.Task, error) {
	q := fmt.Sprintf(`SELECT %s FROM task_queue WHERE project_id = %s AND status IN ('pending', 'queued')
		ORDER BY priority DESC, created_at ASC`, taskColumns, b.ph(1))
	return b.queryTasks(ctx, q, projectID)
}

func (b *DatabaseBackend) ChildrenOf(ctx context.Context, taskID string) ([]*task.Task, error) {
	q := fmt.Sprintf(`SELECT %s FROM task_queue WHERE parent_id = %s ORDER BY created_at ASC`, taskColumns, b.ph(1))
	return b.queryTasks(ctx, q, taskID)
}

func (b *DatabaseBackend) DeleteTask(ctx context.Context, id string) error {
	q := fmt.Sprintf(`DELETE FROM task_queue WHERE id = %s`, b.ph(1))
	_, err := b.drv.Exec(ctx, q, id)
	return err
}

// --- approval gates ---

func (b *DatabaseBackend) SaveGate(ctx context.Context, g *task.ApprovalGate) error {
	q := fmt.Sprintf(`INSERT INTO approval_gates (
		id, task_id, gate_type, title, description, review_data, status, approved_by, notes, created_at, resolved_at
	) VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)
	%s (id) DO UPDATE SET status=%s, approved_by=%s, notes=%s, resolved_at=%s`,
		b.ph(1), b.ph(2), b.ph(3), b.ph(4), b.ph(5), b.ph(6), b.ph(7), b.ph(8), b.ph(9), b.ph(10), b.ph(11),
		b.drv.UpsertConflict(), b.ph(12), b.ph(13), b.ph(14), b.ph(15))

	args := []any{
		g.ID, g.TaskID, string(g.Type), g.Title, g.Description, g.ReviewData, string(g.Status),
		nullableString(g.ApprovedBy), nullableString(g.Notes), fmtTime(g.CreatedAt), fmtTimePtr(g.ResolvedAt),
		string(g.Status), nullableString(g.ApprovedBy), nullableString(g.Notes), fmtTimePtr(g.ResolvedAt),
	}
	_, err := b.drv.Exec(ctx, q, args...)
	return err
}

const gateColumns = `id, task_id, gate_type, title, description, review_data, status, approved_by, notes, created_at, resolved_at`

func scanGate(row interface{ Scan(...any) error }) (*task.ApprovalGate, error) {
	var g task.ApprovalGate
	var gateType, status string
	var approvedBy, notes, resolvedAt sql.NullString
	var createdAt string

	if err := row.Scan(&g.ID, &g.TaskID, &gateType, &g.Title, &g.Description, &g.ReviewData, &status, &approvedBy, &notes, &createdAt, &resolvedAt); err != nil {
		return nil, err
	}
	g.Type = task.GateType(gateType)
	g.Status = task.GateStatus(status)
	g.ApprovedBy = approvedBy.String
	g.Notes = notes.String

	created, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, err
	}
	g.CreatedAt = created
	if g.ResolvedAt, err = parseTimePtr(resolvedAt); err != nil {
		return nil, err
	}
	return &g, nil
}

func (b *DatabaseBackend) LoadGate(ctx context.Context, id string) (*task.ApprovalGate, error) {
	q := fmt.Sprintf(`SELECT %s FROM approval_gates WHERE id = %s`, gateColumns, b.ph(1))
	g, err := scanGate(b.drv.QueryRow(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ferrors.ErrGateNotFound(id)
	}
	return g, err
}

func (b *DatabaseBackend) PendingGateForTask(ctx context.Context, taskID string) (*task.ApprovalGate, error) {
	q := fmt.Sprintf(`SELECT %s FROM approval_gates WHERE task_id = %s AND status = 'pending' LIMIT 1`, gateColumns, b.ph(1))
	g, err := scanGate(b.drv.QueryRow(ctx, q, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return g, err
}

func (b *DatabaseBackend) ListGates(ctx context.Context, projectID string, status task.GateStatus) ([]*task.ApprovalGate, error) {
	q := fmt.Sprintf(`SELECT %s FROM approval_gates g
		JOIN task_queue t ON t.id = g.task_id
		WHERE t.project_id = %s AND g.status = %s
		ORDER BY g.created_at ASC`, gateColumnsPrefixed(), b.ph(1), b.ph(2))
	rows, err := b.drv.Query(ctx, q, projectID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*task.ApprovalGate
	for rows.Next() {
		g, err := scanGate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func gateColumnsPrefixed() string {
	return `g.id, g.task_id, g.gate_type, g.title, g.description, g.review_data, g.status, g.approved_by, g.notes, g.created_at, g.resolved_at`
}

// --- dependencies ---

func (b *DatabaseBackend) AddDependency(ctx context.Context, dep task.Dependency) error {
	q := fmt.Sprintf(`INSERT INTO task_dependencies (task_id, depends_on_task_id) VALUES (%s, %s)`, b.ph(1), b.ph(2))
	_, err := b.drv.Exec(ctx, q, dep.TaskID, dep.DependsOnTaskID)
	return err
}

func (b *DatabaseBackend) Dependencies(ctx context.Context, taskID string) ([]task.Dependency, error) {
	q := fmt.Sprintf(`SELECT task_id, depends_on_task_id FROM task_dependencies WHERE task_id = %s`, b.ph(1))
	return b.queryDependencies(ctx, q, taskID)
}

func (b *DatabaseBackend) ProjectDependencyEdges(ctx context.Context, projectID string) ([]task.Dependency, error) {
	q := fmt.Sprintf(`SELECT d.task_id, d.depends_on_task_id FROM task_dependencies d
		JOIN task_queue t ON t.id = d.task_id WHERE t.project_id = %s`, b.ph(1))
	return b.queryDependencies(ctx, q, projectID)
}

func (b *DatabaseBackend) queryDependencies(ctx context.Context, q string, args ...any) ([]task.Dependency, error) {
	rows, err := b.drv.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []task.Dependency
	for rows.Next() {
		var d task.Dependency
		if err := rows.Scan(&d.TaskID, &d.DependsOnTaskID); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// --- checkpoints & metrics ---

func (b *DatabaseBackend) AppendCheckpoint(ctx context.Context, c task.Checkpoint) error {
	q := fmt.Sprintf(`INSERT INTO task_checkpoints (task_id, status, retry_count, created_at) VALUES (%s, %s, %s, %s)`,
		b.ph(1), b.ph(2), b.ph(3), b.ph(4))
	_, err := b.drv.Exec(ctx, q, c.TaskID, string(c.Status), c.RetryCount, fmtTime(c.CreatedAt))
	return err
}

func (b *DatabaseBackend) TaskHistory(ctx context.Context, taskID string) ([]task.Checkpoint, error) {
	q := fmt.Sprintf(`SELECT task_id, status, retry_count, created_at FROM task_checkpoints WHERE task_id = %s ORDER BY created_at ASC`, b.ph(1))
	rows, err := b.drv.Query(ctx, q, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []task.Checkpoint
	for rows.Next() {
		var c task.Checkpoint
		var status, createdAt string
		if err := rows.Scan(&c.TaskID, &status, &c.RetryCount, &createdAt); err != nil {
			return nil, err
		}
		c.Status = task.Status(status)
		if c.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (b *DatabaseBackend) AppendExecutionMetric(ctx context.Context, m task.ExecutionMetric) error {
	q := fmt.Sprintf(`INSERT INTO task_execution_metrics (task_id, attempt, status, started_at, completed_at, duration_s)
		VALUES (%s, %s, %s, %s, %s, %s)`, b.ph(1), b.ph(2), b.ph(3), b.ph(4), b.ph(5), b.ph(6))
	_, err := b.drv.Exec(ctx, q, m.TaskID, m.Attempt, string(m.Status), fmtTimePtr(m.StartedAt), fmtTimePtr(m.CompletedAt), nullableInt64(m.DurationS))
	return err
}

func (b *DatabaseBackend) ExecutionMetrics(ctx context.Context, taskID string) ([]task.ExecutionMetric, error) {
	q := fmt.Sprintf(`SELECT task_id, attempt, status, started_at, completed_at, duration_s
		FROM task_execution_metrics WHERE task_id = %s ORDER BY attempt ASC`, b.ph(1))
	rows, err := b.drv.Query(ctx, q, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []task.ExecutionMetric
	for rows.Next() {
		var m task.ExecutionMetric
		var status string
		var startedAt, completedAt sql.NullString
		var duration sql.NullInt64
		if err := rows.Scan(&m.TaskID, &m.Attempt, &status, &startedAt, &completedAt, &duration); err != nil {
			return nil, err
		}
		m.Status = task.Status(status)
		m.DurationS = duration.Int64
		if m.StartedAt, err = parseTimePtr(startedAt); err != nil {
			return nil, err
		}
		if m.CompletedAt, err = parseTimePtr(completedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

var _ Backend = (*DatabaseBackend)(nil)
