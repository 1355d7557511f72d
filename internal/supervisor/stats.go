package supervisor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Stats are the supervisor's running counters for one project, mirrored
// into the process's Prometheus registry by the Monitor sub-timer.
type Stats struct {
	mu sync.Mutex

	TasksCompleted      int64
	TasksFailed         int64
	TasksAutoApproved   int64
	TasksManualApproval int64
	TotalRunTimeMs      int64
	LastError           string
}

func (s *Stats) incCompleted() { s.mu.Lock(); s.TasksCompleted++; s.mu.Unlock() }
func (s *Stats) incFailed()    { s.mu.Lock(); s.TasksFailed++; s.mu.Unlock() }
func (s *Stats) incAutoApproved() {
	s.mu.Lock()
	s.TasksAutoApproved++
	s.mu.Unlock()
}
func (s *Stats) incManualApproval() {
	s.mu.Lock()
	s.TasksManualApproval++
	s.mu.Unlock()
}
func (s *Stats) recordError(err error) {
	s.mu.Lock()
	s.LastError = err.Error()
	s.mu.Unlock()
}

func (s *Stats) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		TasksCompleted:      s.TasksCompleted,
		TasksFailed:         s.TasksFailed,
		TasksAutoApproved:   s.TasksAutoApproved,
		TasksManualApproval: s.TasksManualApproval,
		TotalRunTimeMs:      s.TotalRunTimeMs,
		LastError:           s.LastError,
	}
}

// metrics bundles the process-global Prometheus collectors the Monitor
// sub-timer pushes each project's Stats snapshot into.
type metrics struct {
	completed      *prometheus.CounterVec
	failed         *prometheus.CounterVec
	autoApproved   *prometheus.CounterVec
	manualApproval *prometheus.CounterVec
	runTimeMs      *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foreman_tasks_completed_total",
			Help: "Tasks that reached status=completed, by project.",
		}, []string{"project"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foreman_tasks_failed_total",
			Help: "Tasks that reached status=failed, by project.",
		}, []string{"project"}),
		autoApproved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foreman_gates_auto_approved_total",
			Help: "Approval gates resolved by the auto-approval sweep, by project.",
		}, []string{"project"}),
		manualApproval: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "foreman_gates_manual_approval_total",
			Help: "Approval gates left pending for a human, by project.",
		}, []string{"project"}),
		runTimeMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "foreman_supervisor_run_time_ms",
			Help: "Cumulative wall-clock time the supervisor has been active, by project.",
		}, []string{"project"}),
	}
	reg.MustRegister(m.completed, m.failed, m.autoApproved, m.manualApproval, m.runTimeMs)
	return m
}

// push adds the delta between two snapshots to project's counters.
func (m *metrics) push(project string, prev, cur Stats) {
	if d := cur.TasksCompleted - prev.TasksCompleted; d > 0 {
		m.completed.WithLabelValues(project).Add(float64(d))
	}
	if d := cur.TasksFailed - prev.TasksFailed; d > 0 {
		m.failed.WithLabelValues(project).Add(float64(d))
	}
	if d := cur.TasksAutoApproved - prev.TasksAutoApproved; d > 0 {
		m.autoApproved.WithLabelValues(project).Add(float64(d))
	}
	if d := cur.TasksManualApproval - prev.TasksManualApproval; d > 0 {
		m.manualApproval.WithLabelValues(project).Add(float64(d))
	}
	m.runTimeMs.WithLabelValues(project).Set(float64(cur.TotalRunTimeMs))
}
