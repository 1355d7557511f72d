// Package cli implements the foreman command-line interface.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/corvid-labs/foreman/internal/classifier"
	"github.com/corvid-labs/foreman/internal/config"
	"github.com/corvid-labs/foreman/internal/db"
	"github.com/corvid-labs/foreman/internal/db/driver"
	"github.com/corvid-labs/foreman/internal/events"
	"github.com/corvid-labs/foreman/internal/llmdriver"
	"github.com/corvid-labs/foreman/internal/queue"
	"github.com/corvid-labs/foreman/internal/storage"
	"github.com/corvid-labs/foreman/internal/supervisor"
)

var (
	cfgFile     string
	projectPath string
	jsonOut     bool
	verbose     bool
)

// Command group IDs
const (
	groupCore       = "core"
	groupTask       = "task"
	groupGate       = "gate"
	groupQueue      = "queue"
	groupSupervisor = "supervisor"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Autonomous task queue and supervisor for Claude-driven work",
	Long: `foreman queues units of LLM-driven work, executes them one at a time per
project, and pauses at approval gates according to each task's autonomy
level.

Quick start:
  foreman project init              Initialize foreman in current project
  foreman task enqueue "Fix bug"     Queue a new task
  foreman queue start                Run the queue until it drains
  foreman supervisor start           Run unattended: starts the queue when
                                      work appears and auto-approves gates
                                      that clear the quality bar`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it. Errors
// render via printError before being returned so main can set the exit code.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		printError(err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .foreman/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&projectPath, "project", ".", "project directory")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show error codes and causes")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupCore, Title: "Core Commands:"},
		&cobra.Group{ID: groupTask, Title: "Task Management:"},
		&cobra.Group{ID: groupGate, Title: "Approval Gates:"},
		&cobra.Group{ID: groupQueue, Title: "Queue Control:"},
		&cobra.Group{ID: groupSupervisor, Title: "Supervisor:"},
	)

	addCmd(newProjectCmd(), groupCore)
	addCmd(newTaskCmd(), groupTask)
	addCmd(newGateCmd(), groupGate)
	addCmd(newQueueCmd(), groupQueue)
	addCmd(newSupervisorCmd(), groupSupervisor)
}

func addCmd(cmd *cobra.Command, groupID string) {
	cmd.GroupID = groupID
	rootCmd.AddCommand(cmd)
}

// app bundles the wiring a command needs to reach the queue/supervisor:
// config, the project store, and the collaborators built from it.
type app struct {
	cfg        *config.Config
	database   *db.DB
	backend    storage.Backend
	driver     llmdriver.Driver
	publisher  events.Publisher
	classifier *classifier.Classifier
	queue      *queue.Queue
}

// openApp loads the project config and wires the backend, LLM driver,
// classifier and queue for projectPath. Callers must call close().
func openApp(ctx context.Context) (*app, error) {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		return nil, fmt.Errorf("resolve project path: %w", err)
	}
	if err := config.RequireInitAt(abs); err != nil {
		return nil, err
	}

	cfg, err := config.Load(abs)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	dialect, err := driver.ParseDialect(cfg.Dialect)
	if err != nil {
		return nil, fmt.Errorf("parse dialect: %w", err)
	}
	dbPath := cfg.DBPath
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(abs, dbPath)
	}
	database, err := db.Open(ctx, dialect, dbPath)
	if err != nil {
		return nil, fmt.Errorf("open project store: %w", err)
	}

	backend := storage.NewDatabaseBackend(database.Driver())
	pub := events.NewMemoryPublisher()

	var drv llmdriver.Driver
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		drv = llmdriver.NewAnthropicDriver(llmdriver.AnthropicConfig{
			APIKey: apiKey,
			Model:  cfg.LLMModel,
			MaxRPS: 2,
		})
	} else {
		drv = llmdriver.NewFakeDriver("")
	}

	clsfr := classifier.New()
	q := queue.New(cfg.ProjectID, abs, backend, drv, clsfr, queue.WithPublisher(pub))

	return &app{
		cfg:        cfg,
		database:   database,
		backend:    backend,
		driver:     drv,
		publisher:  pub,
		classifier: clsfr,
		queue:      q,
	}, nil
}

func (a *app) close() {
	_ = a.database.Close()
}

func (a *app) newSupervisor() *supervisor.Supervisor {
	return supervisor.New(supervisor.Config{
		ProjectID:            a.cfg.ProjectID,
		ProjectPath:          a.cfg.ProjectPath,
		DefaultAutonomy:      a.cfg.DefaultAutonomyLevel,
		CheckInterval:        a.cfg.CheckInterval(),
		AutoApproveThreshold: a.cfg.AutoApproveThreshold,
		MaxIdleMinutes:       a.cfg.MaxIdleMinutes,
		EnableAutoApproval:   a.cfg.EnableAutoApproval,
	}, a.queue, a.backend, a.publisher, a.driver)
}
