package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corvid-labs/foreman/internal/queue"
	"github.com/corvid-labs/foreman/internal/task"
	"github.com/corvid-labs/foreman/internal/taskio"
)

// newTaskCmd creates the task command group.
func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Enqueue and inspect tasks",
	}
	cmd.AddCommand(
		newTaskEnqueueCmd(),
		newTaskListCmd(),
		newTaskShowCmd(),
		newTaskCancelCmd(),
		newTaskReorderCmd(),
		newTaskHistoryCmd(),
		newTaskHierarchyCmd(),
	)
	return cmd
}

// newTaskEnqueueCmd creates the "task enqueue" command.
func newTaskEnqueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue <title>",
		Short: "Queue a new task",
		Long: `Queue a new unit of LLM-driven work.

The task starts in status=pending. Whether it is dispatched automatically,
paused at a pre-execution gate, or dispatched and then paused for review
afterwards depends on its autonomy level:

  auto            dispatches immediately, no gates
  supervised      pauses at a manual gate before dispatch
  approval_gates  dispatches immediately, pauses at a review gate after

Examples:
  foreman task enqueue "Fix login bug"
  foreman task enqueue "Add retry logic" --type bug-fix --autonomy approval_gates
  foreman task enqueue "Deploy v2" --depends-on task_abc,task_def --priority 90

See also:
  foreman queue start    - run the queue until it drains
  foreman gate list      - see tasks waiting at a gate`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			description, _ := cmd.Flags().GetString("description")
			taskType, _ := cmd.Flags().GetString("type")
			autonomy, _ := cmd.Flags().GetString("autonomy")
			priority, _ := cmd.Flags().GetInt("priority")
			dependsOn, _ := cmd.Flags().GetStringSlice("depends-on")
			prompt, _ := cmd.Flags().GetString("prompt")

			t, err := app.queue.Enqueue(cmd.Context(), queue.EnqueueInput{
				ProjectID:   app.cfg.ProjectID,
				Title:       strings.Join(args, " "),
				Description: description,
				TaskType:    task.Type(taskType),
				Autonomy:    task.AutonomyLevel(autonomy),
				Priority:    priority,
				DependsOn:   dependsOn,
				Input:       taskio.Bag{Prompt: prompt},
			})
			if err != nil {
				return fmt.Errorf("enqueue task: %w", err)
			}

			fmt.Println(ok("Queued task %s: %q", t.ID, t.Title))
			fmt.Printf("   Status: %s  Autonomy: %s  Priority: %d\n", t.Status, t.AutonomyLevel, t.Priority)
			return nil
		},
	}
	cmd.Flags().String("description", "", "longer task description")
	cmd.Flags().String("type", "", "task type (code-generation, bug-fix, testing, documentation, ...)")
	cmd.Flags().String("autonomy", string(task.AutonomyAuto), "autonomy level: auto, supervised, approval_gates")
	cmd.Flags().Int("priority", 50, "scheduling priority, higher runs first")
	cmd.Flags().StringSlice("depends-on", nil, "comma-separated task IDs this task depends on")
	cmd.Flags().String("prompt", "", "explicit prompt, overriding description/title")
	return cmd
}

// newTaskListCmd creates the "task list" command.
func newTaskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tasks in the project",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			tasks, err := app.queue.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}
			if len(tasks) == 0 {
				fmt.Println("No tasks queued.")
				return nil
			}
			titleWidth := terminalWidth() - 40
			if titleWidth < 10 {
				titleWidth = 10
			}
			for _, t := range tasks {
				title := t.Title
				if len(title) > titleWidth {
					title = title[:titleWidth-1] + "…"
				}
				fmt.Printf("%s  [%-16s] pri=%-3d  %s\n", t.ID, t.Status, t.Priority, title)
			}
			return nil
		},
	}
}

// newTaskShowCmd creates the "task show" command.
func newTaskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task's full detail",
		Long: `Show a task's full detail.

With --metrics, also prints one line per execution attempt, drawn from the
task's persisted execution metrics rather than its current row. An attempt
is recorded when it starts, so its status reads running and its duration
0s; the attempt's outcome is not recorded there.

See also:
  foreman task history <task-id>   - the task's status-transition timeline`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			t, err := app.queue.Get(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("load task: %w", err)
			}

			fmt.Printf("ID:           %s\n", t.ID)
			fmt.Printf("Title:        %s\n", t.Title)
			fmt.Printf("Status:       %s\n", t.Status)
			fmt.Printf("Autonomy:     %s\n", t.AutonomyLevel)
			fmt.Printf("Priority:     %d\n", t.Priority)
			fmt.Printf("Retries:      %d/%d\n", t.RetryCount, t.MaxRetries)
			if t.ErrorMessage != "" {
				fmt.Printf("Last error:   %s\n", t.ErrorMessage)
			}
			if t.ApprovalCheckpoint != "" {
				fmt.Printf("Pending gate: %s\n", t.ApprovalCheckpoint)
			}

			showMetrics, _ := cmd.Flags().GetBool("metrics")
			if showMetrics {
				metrics, err := app.backend.ExecutionMetrics(cmd.Context(), t.ID)
				if err != nil {
					return fmt.Errorf("load execution metrics: %w", err)
				}
				if len(metrics) == 0 {
					fmt.Println("\nNo recorded execution attempts.")
					return nil
				}
				fmt.Println("\nAttempt  Status           Duration")
				for _, m := range metrics {
					fmt.Printf("%-7d  %-15s  %ds\n", m.Attempt, m.Status, m.DurationS)
				}
			}
			return nil
		},
	}
	cmd.Flags().Bool("metrics", false, "also show past execution attempts")
	return cmd
}

// newTaskHistoryCmd creates the "task history" command.
func newTaskHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <task-id>",
		Short: "Show a task's status-transition timeline",
		Long: `Print every recorded status transition for a task, oldest first.

Each line is a checkpoint written whenever the task's status changed,
including the retry count at that point. This reconstructs a task's history
without a general-purpose replay log.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			checkpoints, err := app.backend.TaskHistory(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("load task history: %w", err)
			}
			if len(checkpoints) == 0 {
				fmt.Println("No recorded history.")
				return nil
			}
			for _, c := range checkpoints {
				fmt.Printf("%s  %-16s retry=%d\n", c.CreatedAt.Format("2006-01-02 15:04:05"), c.Status, c.RetryCount)
			}
			return nil
		},
	}
}

// newTaskHierarchyCmd creates the "task hierarchy" command.
func newTaskHierarchyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hierarchy <task-id>",
		Short: "Show a task's parent and children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			h, err := app.queue.Hierarchy(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("load task hierarchy: %w", err)
			}

			if h.Parent != nil {
				fmt.Printf("Parent:   %s  %q\n", h.Parent.ID, h.Parent.Title)
			} else {
				fmt.Println("Parent:   (none)")
			}
			fmt.Printf("Task:     %s  %q\n", h.Task.ID, h.Task.Title)
			if len(h.Children) == 0 {
				fmt.Println("Children: (none)")
				return nil
			}
			fmt.Println("Children:")
			for _, c := range h.Children {
				fmt.Printf("  %s  [%-16s] %q\n", c.ID, c.Status, c.Title)
			}
			return nil
		},
	}
}

// newTaskCancelCmd creates the "task cancel" command.
func newTaskCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a queued or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			cancelled, err := app.queue.Cancel(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("cancel task: %w", err)
			}
			if !cancelled {
				fmt.Printf("Task %s already in a terminal state, nothing to cancel\n", args[0])
				return nil
			}
			fmt.Println(ok("Task %s cancelled", args[0]))
			return nil
		},
	}
}

// newTaskReorderCmd creates the "task reorder" command.
func newTaskReorderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reorder <task-id> <priority>",
		Short: "Change a task's scheduling priority",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			priority, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("parse priority: %w", err)
			}

			t, err := app.queue.Reorder(cmd.Context(), args[0], priority)
			if err != nil {
				return fmt.Errorf("reorder task: %w", err)
			}
			fmt.Println(ok("Task %s priority set to %d", t.ID, t.Priority))
			return nil
		},
	}
}
