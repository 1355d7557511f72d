package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newSupervisorCmd creates the supervisor command group.
func newSupervisorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "supervisor",
		Short: "Run the project unattended",
	}
	cmd.AddCommand(newSupervisorStartSubCmd(), newSupervisorStopSubCmd())
	return cmd
}

// newSupervisorStartSubCmd creates the "supervisor start" command.
func newSupervisorStartSubCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the autonomous outer loop until interrupted",
		Long: `Drive a project's queue unattended.

Starts the queue whenever pending work appears, sweeps pending approval
gates through the Approval Resolver and auto-approves the ones that clear
the project's configured score threshold, and watchdogs tasks that have
run far past their estimate, cancelling and retrying (or failing) them.
Stops itself after the project has been idle for longer than
max_idle_minutes.

Examples:
  foreman supervisor start
  foreman --project ./my-app supervisor start

See also:
  foreman queue start   - runs the queue a single time, without the
                          auto-approval sweep or watchdog`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			if err := checkNotRunning(app.cfg.ProjectPath); err != nil {
				return err
			}
			if err := acquirePIDFile(app.cfg.ProjectPath); err != nil {
				return fmt.Errorf("acquire pid file: %w", err)
			}
			defer releasePIDFile(app.cfg.ProjectPath)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sup := app.newSupervisor()
			fmt.Printf("▶ Starting supervisor for project %q (pid %d)\n", app.cfg.ProjectID, os.Getpid())
			if err := sup.StartContinuous(ctx); err != nil {
				return fmt.Errorf("run supervisor: %w", err)
			}
			stats := sup.Stats()
			fmt.Println(ok("Supervisor stopped: %d completed, %d failed, %d auto-approved",
				stats.TasksCompleted, stats.TasksFailed, stats.TasksAutoApproved))
			return nil
		},
	}
}

// newSupervisorStopSubCmd creates the "supervisor stop" command.
func newSupervisorStopSubCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Signal a running supervisor process to stop",
		Long: `Send SIGTERM to the supervisor process recorded for this project.

The supervisor writes its PID to .foreman/supervisor.pid while running.
This command reads that file and signals the process; it does not wait
for it to exit.

See also:
  foreman supervisor start   - run the supervisor in the foreground`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			if err := stopRunningSupervisor(app.cfg.ProjectPath); err != nil {
				return err
			}
			fmt.Println(ok("Stop signal sent to supervisor for project %q", app.cfg.ProjectID))
			return nil
		},
	}
}
