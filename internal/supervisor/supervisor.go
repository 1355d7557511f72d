// Package supervisor implements the autonomous outer loop that drives
// a project's queue unattended: starting it when work appears,
// auto-approving gates that clear the quality bar, and watchdogging
// tasks that have stalled.
package supervisor

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/corvid-labs/foreman/internal/approval"
	"github.com/corvid-labs/foreman/internal/events"
	"github.com/corvid-labs/foreman/internal/ferrors"
	"github.com/corvid-labs/foreman/internal/llmdriver"
	"github.com/corvid-labs/foreman/internal/queue"
	"github.com/corvid-labs/foreman/internal/storage"
	"github.com/corvid-labs/foreman/internal/task"
	"github.com/corvid-labs/foreman/internal/taskio"
)

const (
	watchdogInterval   = 60 * time.Second
	monitorInterval    = 30 * time.Second
	watchdogFloor      = 10 * time.Minute
	defaultIdleMinutes = 30
)

// Config captures one project's supervisor configuration, loaded from
// .foreman/config.yaml by internal/config.
type Config struct {
	ProjectID            string
	ProjectPath          string
	DefaultAutonomy      task.AutonomyLevel
	CheckInterval        time.Duration
	AutoApproveThreshold int
	MaxIdleMinutes       int
	EnableAutoApproval   bool
}

// Supervisor drives one project's queue autonomously.
type Supervisor struct {
	cfg       Config
	q         *queue.Queue
	backend   storage.Backend
	publisher events.Publisher
	driver    llmdriver.Driver
	logger    *slog.Logger
	metrics   *metrics

	stats Stats

	mu           sync.Mutex
	running      bool
	lastActivity time.Time
	cancel       context.CancelFunc
}

// Option configures a Supervisor at construction time.
type Option func(*Supervisor)

// WithLogger overrides the supervisor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithRegisterer overrides the Prometheus registerer metrics are
// registered against (defaults to prometheus.DefaultRegisterer).
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Supervisor) { s.metrics = newMetrics(reg) }
}

// New builds a Supervisor for cfg.ProjectID, driving q and reading
// gates/tasks from backend. driver is used only for compliance gates'
// optional AI-assisted evaluation (§4.2.1); it may be nil if no
// compliance gate will ever be created for this project.
func New(cfg Config, q *queue.Queue, backend storage.Backend, publisher events.Publisher, driver llmdriver.Driver, opts ...Option) *Supervisor {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = 5 * time.Second
	}
	if cfg.MaxIdleMinutes <= 0 {
		cfg.MaxIdleMinutes = defaultIdleMinutes
	}
	s := &Supervisor{
		cfg:       cfg,
		q:         q,
		backend:   backend,
		publisher: publisher,
		driver:    driver,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = newMetrics(prometheus.DefaultRegisterer)
	}
	return s
}

// Stats returns a point-in-time snapshot of the running counters.
func (s *Supervisor) Stats() Stats { return s.stats.snapshot() }

// StartContinuous runs the main loop plus the watchdog and monitor
// sub-timers until ctx is cancelled or Stop is called. It blocks the
// calling goroutine.
func (s *Supervisor) StartContinuous(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ferrors.ErrSupervisorRunning(s.cfg.ProjectID)
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.lastActivity = time.Now()
	s.cancel = cancel
	s.mu.Unlock()

	s.publish(events.EventAutonomousStarted, nil)

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return s.mainLoop(gctx) })
	g.Go(func() error { return s.watchdogLoop(gctx) })
	g.Go(func() error { return s.monitorLoop(gctx) })
	g.Go(func() error { return s.countersLoop(gctx) })

	err := g.Wait()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.publish(events.EventAutonomousStopped, nil)
	return err
}

// Pause forwards to the underlying queue.
func (s *Supervisor) Pause() {
	s.q.Pause()
	s.publish(events.EventAutonomousPaused, nil)
}

// Resume forwards to the underlying queue.
func (s *Supervisor) Resume() {
	s.q.Resume()
	s.touch()
	s.publish(events.EventAutonomousResumed, nil)
}

// Stop tears down the main loop and both sub-timers.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.q.Stop()
}

func (s *Supervisor) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Supervisor) idleFor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastActivity)
}

func (s *Supervisor) publish(eventType events.EventType, data any) {
	s.publisher.Publish(events.NewEvent(eventType, events.GlobalTaskID, data))
}

func (s *Supervisor) mainLoop(ctx context.Context) error {
	interval := s.cfg.CheckInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := s.tick(ctx); err != nil {
			s.stats.recordError(err)
			s.publish(events.EventAutonomousError, events.AutonomousErrorData{Error: err.Error()})
			interval = 2 * interval
			ticker.Reset(interval)
			continue
		}
		if interval != s.cfg.CheckInterval {
			interval = s.cfg.CheckInterval
			ticker.Reset(interval)
		}
	}
}

func (s *Supervisor) tick(ctx context.Context) error {
	if s.cfg.EnableAutoApproval {
		if err := s.autoApprovalSweep(ctx); err != nil {
			return err
		}
	}

	hasPending, err := s.hasPendingWork(ctx)
	if err != nil {
		return err
	}
	if hasPending {
		s.touch()
		go func() {
			if err := s.q.StartQueue(ctx, queue.StartQueueOpts{ProjectPath: s.cfg.ProjectPath}); err != nil {
				s.logger.Warn("start queue", "project", s.cfg.ProjectID, "error", err)
			}
		}()
		return nil
	}

	if s.idleFor() > time.Duration(s.cfg.MaxIdleMinutes)*time.Minute {
		s.publish(events.EventAutonomousIdleTimeout, nil)
		s.Stop()
	}
	return nil
}

func (s *Supervisor) hasPendingWork(ctx context.Context) (bool, error) {
	tasks, err := s.backend.ListTasks(ctx, s.cfg.ProjectID)
	if err != nil {
		return false, err
	}
	for _, t := range tasks {
		if t.Status == task.StatusPending || t.Status == task.StatusQueued {
			return true, nil
		}
	}
	return false, nil
}

// autoApprovalSweep evaluates every pending gate against the Approval
// Resolver and auto-approves those that clear both the resolver's own
// bar and the project's configured threshold.
func (s *Supervisor) autoApprovalSweep(ctx context.Context) error {
	gates, err := s.backend.ListGates(ctx, s.cfg.ProjectID, task.GatePending)
	if err != nil {
		return err
	}

	for _, gate := range gates {
		t, err := s.backend.LoadTask(ctx, gate.TaskID)
		if err != nil {
			return err
		}

		out, err := taskio.Parse(t.OutputRaw)
		if err != nil {
			return err
		}
		assessment := approval.Assess(t.TaskType, out.Result)
		canApprove := assessment.CanAutoApprove && assessment.Score >= s.cfg.AutoApproveThreshold

		if gate.Type == task.GateCompliance && canApprove && s.driver != nil {
			decision, err := approval.EvaluateWithAI(ctx, s.driver, "gate_"+gate.ID, splitCriteria(gate.Description), out.Result)
			if err != nil {
				s.logger.Error("AI gate evaluation", "gate", gate.ID, "error", err)
				canApprove = false
			} else if decision.Decision != "APPROVED" {
				// REJECTED or NEEDS_CLARIFICATION both veto auto-approval;
				// the deterministic score never overrides the AI refusal.
				canApprove = false
			}
		}

		if canApprove {
			if _, err := s.q.ApproveGate(ctx, gate.ID, "supervisor-auto-approval", "auto-approved by sweep"); err != nil {
				return err
			}
			s.stats.incAutoApproved()
			s.touch()
			s.publish(events.EventAutoApproved, map[string]any{"gate_id": gate.ID, "task_id": gate.TaskID, "score": assessment.Score})
		} else {
			s.stats.incManualApproval()
			s.publish(events.EventManualApprovalNeeded, map[string]any{"gate_id": gate.ID, "task_id": gate.TaskID, "score": assessment.Score})
		}
	}
	return nil
}

// splitCriteria turns a gate's free-text description into one
// criterion per non-empty line for the AI evaluator's prompt.
func splitCriteria(description string) []string {
	var criteria []string
	for _, line := range strings.Split(description, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			criteria = append(criteria, line)
		}
	}
	return criteria
}

func (s *Supervisor) watchdogLoop(ctx context.Context) error {
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := s.watchdogSweep(ctx); err != nil {
			s.stats.recordError(err)
			s.publish(events.EventAutonomousError, events.AutonomousErrorData{Error: err.Error()})
		}
	}
}

func (s *Supervisor) watchdogSweep(ctx context.Context) error {
	tasks, err := s.backend.ListTasks(ctx, s.cfg.ProjectID)
	if err != nil {
		return err
	}

	for _, t := range tasks {
		if t.Status != task.StatusRunning || t.StartedAt == nil {
			continue
		}

		threshold := 2 * time.Duration(t.EstimatedDurationS) * time.Second
		if threshold < watchdogFloor {
			threshold = watchdogFloor
		}

		elapsed := time.Since(*t.StartedAt)
		if elapsed <= threshold {
			continue
		}

		s.publish(events.EventTaskStuck, events.TaskStuckData{ElapsedS: int64(elapsed.Seconds())})
		if _, err := s.q.Cancel(ctx, t.ID); err != nil {
			return err
		}

		if t.RetryCount < t.MaxRetries {
			in, err := taskio.Parse(t.InputRaw)
			if err != nil {
				return err
			}
			enriched := in.WithRetry("task exceeded watchdog deadline", "The previous attempt ran too long and was cancelled. Produce a more focused result.", "")
			raw, err := enriched.Marshal()
			if err != nil {
				return err
			}
			t.RetryCount++
			t.InputRaw = raw
			t.Status = task.StatusPending
			if err := s.backend.SaveTask(ctx, t); err != nil {
				return err
			}
			s.publish(events.EventTaskRetried, events.TaskFailedData{Error: "watchdog timeout", RetryCount: t.RetryCount})
		} else {
			if _, err := s.q.UpdateStatus(ctx, t.ID, task.StatusFailed, "", "watchdog timeout: retries exhausted"); err != nil {
				return err
			}
		}
	}
	return nil
}

// countersLoop subscribes to the queue's task events to keep
// TasksCompleted/TasksFailed current for the Monitor sub-timer to push.
func (s *Supervisor) countersLoop(ctx context.Context) error {
	sub := s.q.Subscribe(events.GlobalTaskID)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			switch ev.Type {
			case events.EventTaskCompleted:
				s.stats.incCompleted()
				s.touch()
			case events.EventTaskFailed:
				s.stats.incFailed()
				s.touch()
			case events.EventTaskStarted, events.EventTaskProgress, events.EventTaskRetried:
				s.touch()
			}
		}
	}
}

func (s *Supervisor) monitorLoop(ctx context.Context) error {
	ticker := time.NewTicker(monitorInterval)
	defer ticker.Stop()
	start := time.Now()
	prev := s.stats.snapshot()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		s.stats.mu.Lock()
		s.stats.TotalRunTimeMs = time.Since(start).Milliseconds()
		s.stats.mu.Unlock()

		cur := s.stats.snapshot()
		s.metrics.push(s.cfg.ProjectID, prev, cur)
		prev = cur

		s.publish(events.EventAutonomousProgress, events.AutonomousProgressSnapshot{
			TasksCompleted:      int(cur.TasksCompleted),
			TasksFailed:         int(cur.TasksFailed),
			TasksAutoApproved:   int(cur.TasksAutoApproved),
			TasksManualApproval: int(cur.TasksManualApproval),
			TotalRunTimeMs:      cur.TotalRunTimeMs,
		})
	}
}
