package cli

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"instarelay/migrations"
)

var migrateDB string

var migrateCmd = &cobra.Command{
	Use:   "migrate <command>",
	Short: "Manage the database schema",
	Long: `Commands:
  up          Migrate to the latest version
  up-one      Migrate one version up
  down        Roll back one version
  status      Show migration status
  version     Show current version
  reset       Roll back all migrations`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"up", "up-one", "down", "status", "version", "reset"},
	RunE:      migrateAction,
}

func init() {
	migrateCmd.Flags().StringVar(&migrateDB, "db", envOrDefault("DATABASE_PATH", "./data/relay.db"), "path to sqlite database")
	rootCmd.AddCommand(migrateCmd)
}

func migrateAction(_ *cobra.Command, args []string) error {
	db, err := sql.Open("sqlite", migrateDB)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := migrations.Setup(); err != nil {
		return err
	}
	return runMigration(db, args[0])
}

func runMigration(db *sql.DB, command string) error {
	var err error
	switch command {
	case "up":
		err = goose.Up(db, ".")
	case "up-one":
		err = goose.UpByOne(db, ".")
	case "down":
		err = goose.Down(db, ".")
	case "status":
		err = goose.Status(db, ".")
	case "version":
		err = goose.Version(db, ".")
	case "reset":
		err = goose.Reset(db, ".")
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", command, err)
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
