package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/graphbolt/pkg/bolt"
	"github.com/cuemby/graphbolt/pkg/session"
)

var runCmd = &cobra.Command{
	Use:   "run <cypher>",
	Short: "Run a single query and print the records returned",
	Long: `Run opens an auto-commit session, runs the given query, and prints
each record's fields followed by the query summary counters.

Examples:
  graphbolt-cli run "RETURN 1 AS n"
  graphbolt-cli run --write "CREATE (n:Person {name: 'Ada'}) RETURN n"`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().Bool("write", false, "Route the query to a writer (default: reader)")
}

func runRun(cmd *cobra.Command, args []string) error {
	d, database, err := buildDriver(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	write, _ := cmd.Flags().GetBool("write")
	mode := bolt.AccessModeRead
	if write {
		mode = bolt.AccessModeWrite
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	s := d.NewSession(session.Config{AccessMode: mode, DatabaseName: database})
	defer s.Close(ctx)

	result, err := s.Run(ctx, args[0], nil)
	if err != nil {
		return err
	}

	keys := result.Keys()
	fmt.Println(strings.Join(keys, "\t"))

	records, err := result.Collect(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		cols := make([]string, len(rec))
		for i, v := range rec {
			cols[i] = fmt.Sprintf("%v", v)
		}
		fmt.Println(strings.Join(cols, "\t"))
	}

	summary, err := result.Summary(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("\n%d record(s), bookmark=%s\n", len(records), s.LastBookmark())
	if counters, ok := summary["stats"]; ok {
		fmt.Printf("counters: %v\n", counters)
	}
	return nil
}
