package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/corvid-labs/foreman/internal/queue"
)

// newQueueCmd creates the queue command group.
func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Control the project's task queue",
	}
	cmd.AddCommand(newQueueStartSubCmd(), newQueuePauseSubCmd(), newQueueResumeSubCmd(), newQueueStopSubCmd())
	return cmd
}

// newQueueStartSubCmd creates the "queue start" command.
func newQueueStartSubCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the queue until it drains or is interrupted",
		Long: `Run the single-task-at-a-time execution loop for the project.

Dispatches the highest-priority dependency-ready task, waits for it to
settle (completed, failed, cancelled, or paused at a gate), and repeats
until every task is completed, failed or cancelled; while a task waits at
a gate the loop keeps polling. Ctrl-C stops the loop at once; a task still
running at that moment is left in status running.

Examples:
  foreman queue start
  foreman --project ./my-app queue start

See also:
  foreman supervisor start   - runs the queue unattended, restarting it
                               whenever new work appears`,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Printf("▶ Starting queue for project %q\n", app.cfg.ProjectID)
			if err := app.queue.StartQueue(ctx, queue.StartQueueOpts{ProjectPath: app.cfg.ProjectPath}); err != nil {
				return fmt.Errorf("start queue: %w", err)
			}
			fmt.Println("✅ Queue drained")
			return nil
		},
	}
}

func newQueuePauseSubCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause dispatch of new tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()
			app.queue.Pause()
			fmt.Println("⏸ Queue paused")
			return nil
		},
	}
}

func newQueueResumeSubCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()
			app.queue.Resume()
			fmt.Println("▶ Queue resumed")
			return nil
		},
	}
}

func newQueueStopSubCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the queue after the current task settles",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()
			app.queue.Stop()
			fmt.Println("⏹ Queue stopped")
			return nil
		},
	}
}
