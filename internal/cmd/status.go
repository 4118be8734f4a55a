package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/aimaestro/meshhost/internal/tui/status"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Watch this mesh's peer health and session rollup",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	if _, err := tea.NewProgram(status.New(a.mesh)).Run(); err != nil {
		return fmt.Errorf("status tui: %w", err)
	}
	return nil
}
