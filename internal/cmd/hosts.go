package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/aimaestro/meshhost/internal/hostsconfig"
)

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "List and manage known mesh hosts",
}

var hostsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every host known to this mesh",
	RunE:  runHostsList,
}

var hostsAddURL string
var hostsAddName string

var hostsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a remote peer host",
	RunE:  runHostsAdd,
}

var hostsRemoveCmd = &cobra.Command{
	Use:   "remove <host-id>",
	Short: "Remove a host from this mesh's known-hosts list",
	Args:  cobra.ExactArgs(1),
	RunE:  runHostsRemove,
}

func init() {
	hostsAddCmd.Flags().StringVar(&hostsAddURL, "url", "", "base URL of the peer host (required)")
	hostsAddCmd.Flags().StringVar(&hostsAddName, "name", "", "human-readable name for this host")
	hostsAddCmd.MarkFlagRequired("url")

	hostsCmd.AddCommand(hostsListCmd, hostsAddCmd, hostsRemoveCmd)
	rootCmd.AddCommand(hostsCmd)
}

func runHostsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := hostsconfig.NewStore(cfg.Server.DataDir)
	hosts, err := store.List()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tURL")
	for _, h := range hosts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", h.ID, h.Name, h.Type, h.URL)
	}
	return tw.Flush()
}

func runHostsAdd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := hostsconfig.NewStore(cfg.Server.DataDir)
	h := hostsconfig.Host{
		ID:      uuid.NewString(),
		Name:    hostsAddName,
		Type:    hostsconfig.TypeRemote,
		URL:     hostsAddURL,
		Enabled: true,
	}
	if err := store.AddHost(h); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "added host %s (%s)\n", h.ID, h.URL)
	return nil
}

func runHostsRemove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store := hostsconfig.NewStore(cfg.Server.DataDir)
	if err := store.RemoveHost(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed host %s\n", args[0])
	return nil
}
