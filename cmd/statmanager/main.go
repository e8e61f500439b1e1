// Command statmanager inspects and maintains the fleet's Redis counters
// and runs the per-host heartbeat agent.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
