package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Verify connectivity to the target",
	Long: `Ping opens a connection (and, for routed targets, performs a
rediscovery round trip) and reports how long it took.

Examples:
  graphbolt-cli ping --uri bolt://localhost:7687
  graphbolt-cli ping --uri neo4j://localhost:7687 --user neo4j --password secret`,
	RunE: runPing,
}

func runPing(cmd *cobra.Command, args []string) error {
	d, _, err := buildDriver(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Now()
	if err := d.VerifyConnectivity(ctx); err != nil {
		return err
	}
	fmt.Printf("OK (%s)\n", time.Since(start).Round(time.Millisecond))
	return nil
}
