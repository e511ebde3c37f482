package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dyluth/collective/internal/printer"
	"github.com/dyluth/collective/pkg/blackboard"
)

var (
	version string
	commit  string
	date    string
)

var (
	redisURL     string
	instanceName string
)

var rootCmd = &cobra.Command{
	Use:   "collective",
	Short: "Collective - insight exchange and consensus engine",
	Long: `Collective connects autonomous nodes that share insights, guard their
boundaries with trust, and merge what they learn into consensus through
iterative dynamics.

The CLI talks to the Redis instance the nodes share: it posts insights,
inspects the insight timeline and consensus ledger, and reads or sets the
collective's shared goal. 'collective init' writes a starter node config.

Connection settings come from --redis-url/--instance or the REDIS_URL and
COLLECTIVE_INSTANCE environment variables.`,
	Version: version,
	// Show help rather than silently succeeding on a bare invocation.
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the root command.
func Execute() error {
	// Errors are printed by the printer package.
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI.
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis-url", envOr("REDIS_URL", "redis://localhost:6379"), "Redis URL shared by the nodes")
	rootCmd.PersistentFlags().StringVarP(&instanceName, "instance", "n", envOr("COLLECTIVE_INSTANCE", "default"), "Collective instance name")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// connect opens a blackboard client for the selected instance and verifies
// Redis is reachable. Failures are printed for the user.
func connect(ctx context.Context) (*blackboard.Client, error) {
	client, err := blackboard.NewClientFromURL(redisURL, instanceName)
	if err != nil {
		return nil, printer.Error(
			"invalid Redis URL",
			err.Error(),
			[]string{"Use a URL like redis://localhost:6379/0"},
		)
	}

	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, printer.ErrorWithContext(
			"Redis connection failed",
			fmt.Sprintf("Could not connect to Redis at %s", redisURL),
			map[string]string{"Instance": instanceName, "Error": err.Error()},
			[]string{
				"Check that Redis is running and reachable",
				"Point the CLI at it:\n  collective --redis-url redis://host:6379 ...",
			},
		)
	}

	return client, nil
}
