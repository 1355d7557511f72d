package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/corvid-labs/foreman/internal/config"
	"github.com/corvid-labs/foreman/internal/db"
	"github.com/corvid-labs/foreman/internal/db/driver"
)

// newProjectCmd creates the project command group.
func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage the foreman project in the current directory",
	}
	cmd.AddCommand(newProjectInitCmd())
	return cmd
}

// newProjectInitCmd creates the "project init" command.
func newProjectInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize foreman in the current project",
		Long: `Initialize foreman in the current directory.

Creates .foreman/config.yaml with the built-in defaults and opens (creating
if absent) the embedded sqlite store the queue and approval gates persist
to.

When to use:
  • Once, the first time foreman is used in a project

Examples:
  foreman project init                    # Initialize with defaults
  foreman project init --force            # Reinitialize, keeping task history`,
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")

			abs, err := filepath.Abs(projectPath)
			if err != nil {
				return fmt.Errorf("resolve project path: %w", err)
			}

			if config.IsInitializedAt(abs) && !force {
				return fmt.Errorf("foreman already initialized at %s (use --force to reinitialize config)", abs)
			}

			foremanDir := filepath.Join(abs, config.ForemanDir)
			if err := os.MkdirAll(foremanDir, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", config.ForemanDir, err)
			}

			cfg := config.Default()
			cfg.ProjectID = filepath.Base(abs)
			cfg.ProjectPath = abs

			configPath := filepath.Join(foremanDir, "config.yaml")
			if _, err := os.Stat(configPath); os.IsNotExist(err) || force {
				out, err := yaml.Marshal(cfg)
				if err != nil {
					return fmt.Errorf("marshal config: %w", err)
				}
				if err := os.WriteFile(configPath, out, 0o644); err != nil {
					return fmt.Errorf("write config: %w", err)
				}
			}

			dialect, err := driver.ParseDialect(cfg.Dialect)
			if err != nil {
				return fmt.Errorf("parse dialect: %w", err)
			}
			database, err := db.Open(context.Background(), dialect, filepath.Join(abs, cfg.DBPath))
			if err != nil {
				return fmt.Errorf("open project store: %w", err)
			}
			defer func() { _ = database.Close() }()

			fmt.Println(ok("Initialized foreman project %q at %s", cfg.ProjectID, abs))
			fmt.Printf("   Config: %s\n", configPath)
			fmt.Printf("   Store:  %s\n", filepath.Join(abs, cfg.DBPath))
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "reinitialize an already-initialized project")
	return cmd
}
