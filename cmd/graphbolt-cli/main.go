package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/graphbolt/pkg/log"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "graphbolt-cli",
	Short: "graphbolt-cli is a diagnostic client for the Bolt protocol driver",
	Long: `graphbolt-cli exercises a graphbolt driver from the command line:
verify connectivity, run a single query, and inspect the routing table of a
routed (neo4j://) target.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"graphbolt-cli version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("uri", "bolt://localhost:7687", "Connection URI (bolt, bolt+s, bolt+ssc, neo4j, neo4j+s, neo4j+ssc)")
	rootCmd.PersistentFlags().String("user", "", "Basic auth username")
	rootCmd.PersistentFlags().String("password", "", "Basic auth password")
	rootCmd.PersistentFlags().String("database", "", "Database name (empty: the server's default database)")
	rootCmd.PersistentFlags().String("config", "", "YAML config file overriding connection defaults")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(routesCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(level),
		JSONOutput: jsonOut,
	})
}
