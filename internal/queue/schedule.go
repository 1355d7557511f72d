package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/corvid-labs/foreman/internal/classifier"
	"github.com/corvid-labs/foreman/internal/events"
	"github.com/corvid-labs/foreman/internal/ferrors"
	"github.com/corvid-labs/foreman/internal/llmdriver"
	"github.com/corvid-labs/foreman/internal/task"
	"github.com/corvid-labs/foreman/internal/taskio"
)

// StartQueueOpts configures a queue driver loop run.
type StartQueueOpts struct {
	ProjectPath string
}

// StartQueue runs the execution loop until Stop is called or the queue
// drains. It blocks the calling goroutine; callers that want the queue
// to run in the background should invoke it with `go`.
func (q *Queue) StartQueue(ctx context.Context, opts StartQueueOpts) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return ferrors.ErrQueueAlreadyRunning(q.projectID)
	}
	if opts.ProjectPath != "" {
		q.projectPath = opts.ProjectPath
	}
	q.running = true
	q.paused = false
	q.stopCh = make(chan struct{})
	q.doneCh = make(chan struct{})
	q.mu.Unlock()

	q.emit(events.EventQueueStarted, events.GlobalTaskID, nil)
	q.runExecutionLoop(ctx)

	q.mu.Lock()
	q.running = false
	close(q.doneCh)
	q.mu.Unlock()
	return nil
}

// Pause suspends dispatch of new tasks; the in-flight task (if any)
// continues to completion.
func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running && !q.paused {
		q.paused = true
		q.emit(events.EventQueuePaused, events.GlobalTaskID, nil)
	}
}

// Resume lifts a Pause.
func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running && q.paused {
		q.paused = false
		q.emit(events.EventQueueResumed, events.GlobalTaskID, nil)
	}
}

// Stop halts the execution loop after the current task (if any) settles.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	stopCh := q.stopCh
	doneCh := q.doneCh
	q.mu.Unlock()

	close(stopCh)
	<-doneCh
}

func (q *Queue) isPaused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

func (q *Queue) runExecutionLoop(ctx context.Context) {
	for {
		select {
		case <-q.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if q.isPaused() {
			time.Sleep(idlePollInterval)
			continue
		}

		next, err := q.selectReadyTask(ctx)
		if err != nil {
			q.logger.Error("select ready task", "error", err, "project", q.projectID)
			time.Sleep(idlePollInterval)
			continue
		}
		if next == nil {
			drained, err := q.isDrained(ctx)
			if err != nil {
				q.logger.Error("check drained", "error", err, "project", q.projectID)
				time.Sleep(idlePollInterval)
				continue
			}
			if drained {
				q.emit(events.EventQueueCompleted, events.GlobalTaskID, nil)
				return
			}
			time.Sleep(idlePollInterval)
			continue
		}

		if err := q.sem.Acquire(ctx, 1); err != nil {
			return
		}
		q.executeTask(ctx, next)
		q.sem.Release(1)
	}
}

func (q *Queue) isDrained(ctx context.Context) (bool, error) {
	tasks, err := q.backend.ListTasks(ctx, q.projectID)
	if err != nil {
		return false, err
	}
	for _, t := range tasks {
		if !t.Status.IsTerminal() {
			return false, nil
		}
	}
	return true, nil
}

// selectReadyTask implements the scheduling kernel: priority DESC,
// created_at ASC among dependency-ready (pending, queued) tasks. A
// supervised-autonomy pending task is diverted to a manual pre-gate
// instead of being dispatched, and the search continues.
func (q *Queue) selectReadyTask(ctx context.Context) (*task.Task, error) {
	candidates, err := q.backend.ReadyTasks(ctx, q.projectID)
	if err != nil {
		return nil, err
	}

	for _, t := range candidates {
		ready, err := q.dependenciesSatisfied(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		if !ready {
			continue
		}

		if t.AutonomyLevel == task.AutonomySupervised && t.Status == task.StatusPending {
			if _, err := q.CreateGate(ctx, t.ID, task.GateManual, "pre-execution approval: "+t.Title, "", ""); err != nil {
				return nil, err
			}
			continue
		}
		return t, nil
	}
	return nil, nil
}

func (q *Queue) dependenciesSatisfied(ctx context.Context, taskID string) (bool, error) {
	deps, err := q.backend.Dependencies(ctx, taskID)
	if err != nil {
		return false, err
	}
	for _, dep := range deps {
		blocker, err := q.backend.LoadTask(ctx, dep.DependsOnTaskID)
		if err != nil {
			return false, err
		}
		if blocker.Status != task.StatusCompleted {
			return false, nil
		}
	}
	return true, nil
}

// executeTask runs the full single-task pipeline: prompt construction,
// LLM dispatch, progress streaming, and terminal-status resolution.
func (q *Queue) executeTask(ctx context.Context, t *task.Task) {
	started, err := q.UpdateStatus(ctx, t.ID, task.StatusRunning, "", "")
	if err != nil {
		q.logger.Error("mark task running", "task", t.ID, "error", err)
		return
	}
	q.emit(events.EventTaskStarted, t.ID, nil)
	if err := q.backend.AppendExecutionMetric(ctx, task.ExecutionMetric{
		TaskID:    t.ID,
		Attempt:   started.RetryCount + 1,
		Status:    task.StatusRunning,
		StartedAt: started.StartedAt,
	}); err != nil {
		q.logger.Warn("append execution metric", "task", t.ID, "error", err)
	}

	in, err := taskio.Parse(t.InputRaw)
	if err != nil {
		q.failTask(ctx, t, fmt.Sprintf("corrupt input_data: %v", err))
		return
	}

	sessionID := "task_" + t.ID
	req := llmdriver.Request{
		SessionID:    sessionID,
		Prompt:       buildPrompt(t, in),
		ProjectPath:  q.projectPath,
		AgentPersona: t.AgentPersona,
	}

	if err := q.driver.Send(ctx, req); err != nil {
		q.handleExecutionError(ctx, t, in, err.Error())
		return
	}

	var output strings.Builder
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-q.driver.Events():
			if !ok {
				return
			}
			if ev.SessionID != sessionID {
				continue
			}
			switch ev.Kind {
			case llmdriver.EventContent:
				output.WriteString(ev.Content)
				q.emit(events.EventTaskProgress, t.ID, events.TaskProgressData{SessionID: sessionID, Content: ev.Content})
			case llmdriver.EventError:
				q.handleExecutionError(ctx, t, in, ev.Err.Error())
				return
			case llmdriver.EventComplete:
				q.completeTask(ctx, t, output.String())
				return
			}
		}
	}
}

// buildPrompt assembles the turn prompt per the prompt-construction
// rules: an explicit input_data.prompt wins outright, otherwise fall
// back to description/title, prefixed with any carried context and
// parent output.
func buildPrompt(t *task.Task, in taskio.Bag) string {
	base := in.Prompt
	if base == "" {
		base = t.Description
		if base == "" {
			base = t.Title
		}
	}

	var b strings.Builder
	if in.Context != "" {
		b.WriteString("Context:\n")
		b.WriteString(in.Context)
		b.WriteString("\n\n")
	}
	if in.ParentOutput != "" {
		b.WriteString("Previous output:\n")
		b.WriteString(in.ParentOutput)
		b.WriteString("\n\n")
	}
	b.WriteString("Task:\n")
	b.WriteString(base)
	return b.String()
}

func (q *Queue) completeTask(ctx context.Context, t *task.Task, output string) {
	if t.AutonomyLevel == task.AutonomyApprovalGates {
		if _, err := q.CreateGate(ctx, t.ID, task.GateReview, "review: "+t.Title, "", output); err != nil {
			q.logger.Error("create review gate", "task", t.ID, "error", err)
		}
		return
	}

	out := resultPayload(output)
	if _, err := q.UpdateStatus(ctx, t.ID, task.StatusCompleted, out, ""); err != nil {
		q.logger.Error("mark task completed", "task", t.ID, "error", err)
		return
	}
	q.emit(events.EventTaskCompleted, t.ID, events.TaskCompletedData{Result: output})
}

func resultPayload(output string) string {
	out, err := taskio.Bag{Result: output}.Marshal()
	if err != nil {
		return "{}"
	}
	return out
}

func (q *Queue) handleExecutionError(ctx context.Context, t *task.Task, in taskio.Bag, errText string) {
	result := q.classifier.Classify(errText, t.RetryCount, t.MaxRetries)

	switch result.Action {
	case classifier.ActionRetry, classifier.ActionRetryWithContext:
		enriched := in.WithRetry(errText, result.ContextEnrichment, "")
		raw, err := enriched.Marshal()
		if err != nil {
			raw = t.InputRaw
		}
		t.RetryCount++
		t.MaxRetries = result.MaxRetries
		t.InputRaw = raw
		t.ErrorMessage = errText
		t.Status = task.StatusPending
		if err := q.backend.SaveTask(ctx, t); err != nil {
			q.logger.Error("save retry state", "task", t.ID, "error", err)
			return
		}
		if err := q.backend.AppendCheckpoint(ctx, task.Checkpoint{TaskID: t.ID, Status: task.StatusPending, RetryCount: t.RetryCount, CreatedAt: time.Now()}); err != nil {
			q.logger.Error("append retry checkpoint", "task", t.ID, "error", err)
		}
		q.emit(events.EventTaskRetried, t.ID, events.TaskFailedData{Error: errText, RetryCount: t.RetryCount})
	default:
		q.failTask(ctx, t, errText)
	}
}

func (q *Queue) failTask(ctx context.Context, t *task.Task, errText string) {
	if _, err := q.UpdateStatus(ctx, t.ID, task.StatusFailed, "", errText); err != nil {
		q.logger.Error("mark task failed", "task", t.ID, "error", err)
		return
	}
	q.emit(events.EventTaskFailed, t.ID, events.TaskFailedData{Error: errText, RetryCount: t.RetryCount})
}
