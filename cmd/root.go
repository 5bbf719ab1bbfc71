package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/jcoop32/applied/cmd/flags"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "applied",
	Short: "applied automates job discovery and application submission",
	Long: `applied automates job discovery and application submission.
It dispatches research and apply tasks to local or remote automation
agents and streams their progress back to the requesting chat session.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.SetArgs([]string{"server"})
		cmd.Execute()
	},
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func init() {
	// Flags win over env, env wins over defaults.
	godotenv.Load()

	RootCmd.PersistentFlags().StringVarP(&flags.DatabaseFile, "database", "d", envOr("APPLIED_DB_FILE", "applied.db"), "SQLite database file")
	RootCmd.PersistentFlags().StringVar(&flags.DatabaseType, "db-type", envOr("APPLIED_DB_TYPE", "sqlite"), "Database type: sqlite or mysql")
	RootCmd.PersistentFlags().StringVar(&flags.DatabaseHost, "db-host", envOr("APPLIED_DB_HOST", "localhost"), "MySQL host")
	RootCmd.PersistentFlags().StringVar(&flags.DatabasePort, "db-port", envOr("APPLIED_DB_PORT", "3306"), "MySQL port")
	RootCmd.PersistentFlags().StringVar(&flags.DatabaseUser, "db-user", envOr("APPLIED_DB_USER", "root"), "MySQL user")
	RootCmd.PersistentFlags().StringVar(&flags.DatabasePass, "db-pass", envOr("APPLIED_DB_PASS", ""), "MySQL password")
	RootCmd.PersistentFlags().StringVar(&flags.DatabaseName, "db-name", envOr("APPLIED_DB_NAME", "applied"), "MySQL database name")

	RootCmd.PersistentFlags().StringVar(&flags.JWTSecret, "jwt-secret", os.Getenv("APPLIED_JWT_SECRET"), "Secret verifying bearer tokens")
	RootCmd.PersistentFlags().StringVar(&flags.WorkerSecret, "worker-secret", os.Getenv("WORKER_SECRET"), "Shared secret for the worker surface")
}
