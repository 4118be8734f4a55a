// Command meshhost runs one host of an Agent Messaging Protocol mesh.
package main

import (
	"os"

	"github.com/aimaestro/meshhost/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
