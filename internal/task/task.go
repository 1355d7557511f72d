// Package task defines the core data model shared by the queue engine,
// the approval resolver, and the error classifier: tasks, their
// dependency edges, and the approval gates that pause them.
package task

import "time"

// Status is a task's position in the execution state machine.
type Status string

const (
	StatusPending          Status = "pending"
	StatusQueued           Status = "queued"
	StatusRunning          Status = "running"
	StatusWaitingApproval  Status = "waiting_approval"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusCancelled        Status = "cancelled"
)

// IsTerminal reports whether s is a sticky end state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// AutonomyLevel governs how much human oversight surrounds a task.
type AutonomyLevel string

const (
	AutonomyAuto          AutonomyLevel = "auto"
	AutonomySupervised    AutonomyLevel = "supervised"
	AutonomyApprovalGates AutonomyLevel = "approval_gates"
)

// ApprovalRequired derives Task.ApprovalRequired for a level.
func (a AutonomyLevel) ApprovalRequired() bool {
	return a != AutonomyAuto
}

// Type tags the kind of work a task represents, steering the Approval
// Resolver's type-specific quality checks.
type Type string

const (
	TypeCodeGeneration Type = "code-generation"
	TypeTesting        Type = "testing"
	TypeSecurityAudit  Type = "security-audit"
	TypeDeployment     Type = "deployment"
	TypeRefactoring    Type = "refactoring"
	TypeBugFix         Type = "bug-fix"
	TypeDocumentation  Type = "documentation"
	TypeDecomposition  Type = "decomposition"
	TypeCodeReview     Type = "code-review"
	TypeTechDecision   Type = "tech-decision"
)

// Task is a single unit of LLM-driven work.
type Task struct {
	ID       string
	ProjectID string
	ParentID  string

	Title        string
	Description  string
	TaskType     Type
	AgentPersona string

	AutonomyLevel    AutonomyLevel
	ApprovalRequired bool

	Status     Status
	Priority   int
	RetryCount int
	MaxRetries int

	EstimatedDurationS int64
	ActualDurationS    int64

	InputRaw  string
	OutputRaw string
	ErrorMessage string

	ApprovalCheckpoint string

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// IsReady reports whether t may be dispatched given the completion
// status of its blocking dependencies.
func (t *Task) IsReady(blockersCompleted bool) bool {
	return (t.Status == StatusPending || t.Status == StatusQueued) && blockersCompleted
}

// ComputeActualDuration sets ActualDurationS from StartedAt/CompletedAt.
func (t *Task) ComputeActualDuration() {
	if t.StartedAt != nil && t.CompletedAt != nil {
		t.ActualDurationS = int64(t.CompletedAt.Sub(*t.StartedAt).Seconds())
	}
}

// GateType distinguishes when in a task's lifecycle a gate pauses it.
type GateType string

const (
	GateManual     GateType = "manual"
	GateReview     GateType = "review"
	GateAutomatic  GateType = "automatic"
	GateCompliance GateType = "compliance"
)

// GateStatus is an approval gate's resolution state.
type GateStatus string

const (
	GatePending  GateStatus = "pending"
	GateApproved GateStatus = "approved"
	GateRejected GateStatus = "rejected"
)

// ApprovalGate pauses a task pending a decision.
type ApprovalGate struct {
	ID     string
	TaskID string

	Type        GateType
	Title       string
	Description string
	ReviewData  string

	Status     GateStatus
	ApprovedBy string
	Notes      string

	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// Dependency is a directed "blocks" edge: TaskID cannot run until
// DependsOnTaskID is completed.
type Dependency struct {
	TaskID          string
	DependsOnTaskID string
}

// Checkpoint is one persisted status transition, used to reconstruct a
// task's history without a general-purpose replay log.
type Checkpoint struct {
	TaskID     string
	Status     Status
	RetryCount int
	CreatedAt  time.Time
}

// Hierarchy is the read view over one task's position in its parent/child
// tree, reconstructed from ParentID rather than a separately stored tree.
type Hierarchy struct {
	Task     *Task
	Parent   *Task
	Children []*Task
}

// ExecutionMetric records one attempt (success or failure) of a task.
type ExecutionMetric struct {
	TaskID      string
	Attempt     int
	Status      Status
	StartedAt   *time.Time
	CompletedAt *time.Time
	DurationS   int64
}
