// Package cmd provides the meshhost operator CLI: serve the host,
// manage hosts/peers, manage agents, rotate keys, and inspect mesh
// status, following the teacher's internal/cmd package layout (one file
// per command, all registering onto a shared rootCmd in init()).
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aimaestro/meshhost/internal/config"
)

// Version is the meshhost CLI's reported version.
const Version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:     "meshhost",
	Short:   "meshhost - Agent Messaging Protocol mesh core",
	Version: Version,
	Long: `meshhost runs one host of an AMP mesh: agent registry, message
routing, peer discovery, and relay queuing for agents that are offline.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to mesh.toml (default: <data-dir>/mesh.toml)")
}

// Execute runs the root command and returns a process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

// loadConfig assembles this invocation's Config from --config (or its
// default path once the data dir is known) and the environment.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	path := configPath
	if path == "" {
		path = cfg.Server.DataDir + "/mesh.toml"
	}
	return config.Load(path)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
