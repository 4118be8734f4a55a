package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aimaestro/meshhost/internal/registry"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Revoke or rotate an agent's API key",
}

var keysRevokeCmd = &cobra.Command{
	Use:   "revoke <agent-id>",
	Short: "Revoke an agent's API key",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRevoke,
}

var keysRotateCmd = &cobra.Command{
	Use:   "rotate <agent-id>",
	Short: "Rotate an agent's API key, invalidating the old one",
	Args:  cobra.ExactArgs(1),
	RunE:  runKeysRotate,
}

func init() {
	keysCmd.AddCommand(keysRevokeCmd, keysRotateCmd)
	rootCmd.AddCommand(keysCmd)
}

func runKeysRevoke(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	keys := registry.NewKeyStore(cfg.Server.DataDir)
	if err := keys.Revoke(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "revoked key for agent %s\n", args[0])
	return nil
}

func runKeysRotate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	agents, err := registry.New(cfg.Server.DataDir)
	if err != nil {
		return err
	}
	agent, ok := agents.Get(args[0])
	if !ok || agent.AMPIdentity == nil {
		return fmt.Errorf("agent %s not found or not AMP-registered", args[0])
	}
	keys := registry.NewKeyStore(cfg.Server.DataDir)
	token, _, err := keys.Rotate(agent.ID, agent.AMPIdentity.Tenant, agent.AMPIdentity.AMPAddress)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "new API key for %s: %s\n", args[0], token)
	return nil
}
