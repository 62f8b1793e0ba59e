package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var routesCmd = &cobra.Command{
	Use:   "routes",
	Short: "Print the routing table for a routed (neo4j://) target",
	Long: `Routes rediscovers (if necessary) and prints the router, reader, and
writer addresses currently known for a database, along with when the table
expires.

Examples:
  graphbolt-cli routes --uri neo4j://localhost:7687
  graphbolt-cli routes --uri neo4j://localhost:7687 --database movies`,
	RunE: runRoutes,
}

func runRoutes(cmd *cobra.Command, args []string) error {
	d, database, err := buildDriver(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	table, err := d.RoutingSnapshot(ctx, database)
	if err != nil {
		return err
	}

	fmt.Printf("database: %s\n", table.Database)
	fmt.Printf("expires:  %s\n", table.ExpiresAt.Format(time.RFC3339))
	fmt.Printf("routers:  %v\n", table.Routers.All())
	fmt.Printf("readers:  %v\n", table.Readers.All())
	fmt.Printf("writers:  %v\n", table.Writers.All())
	return nil
}
