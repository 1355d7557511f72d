package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/corvid-labs/foreman/internal/task"
)

// newGateCmd creates the gate command group.
func newGateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Review and resolve approval gates",
	}
	cmd.AddCommand(newGateListSubCmd(), newGateApproveSubCmd(), newGateRejectSubCmd())
	return cmd
}

func newGateListSubCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending approval gates",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			gates, err := app.queue.ListGates(cmd.Context(), task.GatePending)
			if err != nil {
				return fmt.Errorf("list gates: %w", err)
			}
			if len(gates) == 0 {
				fmt.Println("No gates pending.")
				return nil
			}
			for _, g := range gates {
				fmt.Printf("%s  task=%s  [%s]  %s\n", g.ID, g.TaskID, g.Type, g.Title)
			}
			return nil
		},
	}
}

func newGateApproveSubCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <gate-id>",
		Short: "Approve a pending gate and let the task continue",
		Long: `Approve a gate that is pausing a task.

A manual (pre-execution) gate returns the task to queued so the scheduler
dispatches it. A review (post-execution) gate finalises the task directly
to completed using the output that was already produced; it does not
re-run the task.

Examples:
  foreman gate approve gate_abc123
  foreman gate approve gate_abc123 --notes "looks correct"

See also:
  foreman gate reject   - reject a gate and cancel its task
  foreman gate list     - see gates waiting on a decision`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			notes, _ := cmd.Flags().GetString("notes")
			gate, err := app.queue.ApproveGate(cmd.Context(), args[0], "cli-user", notes)
			if err != nil {
				return fmt.Errorf("approve gate: %w", err)
			}
			fmt.Println(ok("Gate %s approved (task %s)", gate.ID, gate.TaskID))
			return nil
		},
	}
	cmd.Flags().String("notes", "", "approval notes")
	return cmd
}

func newGateRejectSubCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reject <gate-id>",
		Short: "Reject a pending gate and cancel its task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.close()

			notes, _ := cmd.Flags().GetString("notes")
			if notes == "" {
				notes = "rejected by user"
			}
			gate, err := app.queue.RejectGate(cmd.Context(), args[0], "cli-user", notes)
			if err != nil {
				return fmt.Errorf("reject gate: %w", err)
			}
			fmt.Println(fail("Gate %s rejected (task %s): %s", gate.ID, gate.TaskID, notes))
			return nil
		},
	}
	cmd.Flags().String("notes", "", "rejection reason")
	return cmd
}
