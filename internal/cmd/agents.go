package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aimaestro/meshhost/internal/registry"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List and inspect agents registered on this host",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every agent registered on this host",
	RunE:  runAgentsList,
}

var agentsShowCmd = &cobra.Command{
	Use:   "show <agent-id>",
	Short: "Show one agent's full record",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentsShow,
}

func init() {
	agentsCmd.AddCommand(agentsListCmd, agentsShowCmd)
	rootCmd.AddCommand(agentsCmd)
}

func runAgentsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	agents, err := registry.New(cfg.Server.DataDir)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tALIAS\tTEAM")
	for _, a := range agents.List() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.ID, a.Name, a.Alias, a.Team)
	}
	return tw.Flush()
}

func runAgentsShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	agents, err := registry.New(cfg.Server.DataDir)
	if err != nil {
		return err
	}
	a, ok := agents.Get(args[0])
	if !ok {
		return fmt.Errorf("agent %s not found", args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%+v\n", a)
	return nil
}
