// Package events provides the typed event union and fan-out publishing
// infrastructure shared by the task queue and the autonomous supervisor.
package events

import "time"

// EventType identifies the shape of Event.Data.
type EventType string

const (
	// Task queue events.
	EventTaskQueued           EventType = "task-queued"
	EventTaskStarted          EventType = "task-started"
	EventTaskProgress         EventType = "task-progress"
	EventTaskCompleted        EventType = "task-completed"
	EventTaskFailed           EventType = "task-failed"
	EventTaskCancelled        EventType = "task-cancelled"
	EventTaskApprovalRequired EventType = "task-approval-required"
	EventQueuePaused          EventType = "queue-paused"
	EventQueueResumed         EventType = "queue-resumed"
	EventQueueStarted         EventType = "queue-started"
	EventQueueCompleted       EventType = "queue-completed"

	// Supervisor events.
	EventAutonomousStarted    EventType = "autonomous-started"
	EventAutonomousProgress   EventType = "autonomous-progress"
	EventAutonomousPaused     EventType = "autonomous-paused"
	EventAutonomousResumed    EventType = "autonomous-resumed"
	EventAutonomousStopped    EventType = "autonomous-stopped"
	EventAutonomousError      EventType = "autonomous-error"
	EventAutonomousIdleTimeout EventType = "autonomous-idle-timeout"
	EventTaskStuck            EventType = "task-stuck"
	EventTaskRetried          EventType = "task-retried"
	EventAutoApproved         EventType = "auto-approved"
	EventManualApprovalNeeded EventType = "manual-approval-required"
)

// Event is the envelope published for every task-queue and supervisor
// occurrence. TaskID is GlobalTaskID ("*") for project-scoped events that
// are not about a single task (e.g. queue-started).
type Event struct {
	Type EventType `json:"type"`
	// TaskID scopes per-task events; it is GlobalTaskID for
	// queue/supervisor-level events.
	TaskID string    `json:"task_id"`
	Data   any       `json:"data"`
	Time   time.Time `json:"time"`
}

// NewEvent builds an Event stamped with the current time.
func NewEvent(eventType EventType, taskID string, data any) Event {
	return Event{Type: eventType, TaskID: taskID, Data: data, Time: time.Now()}
}

// TaskProgressData carries an incremental chunk of LLM output.
type TaskProgressData struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
}

// TaskCompletedData carries the final result of a task run.
type TaskCompletedData struct {
	Result     string `json:"result"`
	DurationS  int64  `json:"duration_s"`
}

// TaskFailedData carries the terminal failure reason for a task.
type TaskFailedData struct {
	Error      string `json:"error"`
	RetryCount int    `json:"retry_count"`
}

// TaskApprovalRequiredData identifies the gate blocking a task.
type TaskApprovalRequiredData struct {
	GateID   string `json:"gate_id"`
	GateType string `json:"gate_type"`
}

// AutonomousProgressSnapshot mirrors the supervisor's running counters.
type AutonomousProgressSnapshot struct {
	TasksCompleted     int   `json:"tasks_completed"`
	TasksFailed        int   `json:"tasks_failed"`
	TasksAutoApproved  int   `json:"tasks_auto_approved"`
	TasksManualApproval int  `json:"tasks_manual_approval"`
	TotalRunTimeMs     int64 `json:"total_run_time_ms"`
}

// AutonomousErrorData carries a non-fatal supervisor loop error.
type AutonomousErrorData struct {
	Error string `json:"error"`
}

// TaskStuckData identifies a watchdog-flagged task and the elapsed time.
type TaskStuckData struct {
	ElapsedS int64 `json:"elapsed_s"`
}
