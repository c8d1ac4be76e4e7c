package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vigilsec/vigil/internal/config"
	"github.com/vigilsec/vigil/internal/db"
	"github.com/vigilsec/vigil/internal/logging"
)

const dbCommandTimeout = 60 * time.Second

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the database schema",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	Run:   runDBMigrate,
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show schema migration status",
	Run:   runDBStatus,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbMigrateCmd)
	dbCmd.AddCommand(dbStatusCmd)
}

func connectForDBCommand(ctx context.Context) *db.DB {
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	dbConfig := cfg.GetDatabaseConfig()
	database, err := db.Connect(ctx, &dbConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to database: %v\n", err)
		os.Exit(1)
	}
	return database
}

func runDBMigrate(_ *cobra.Command, _ []string) {
	ctx, cancel := context.WithTimeout(context.Background(), dbCommandTimeout)
	defer cancel()

	database := connectForDBCommand(ctx)
	defer func() { _ = database.Close() }()

	migrator := db.NewMigrator(database, logging.Default())
	if err := migrator.Up(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error running migrations: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Database schema is up to date")
}

func runDBStatus(_ *cobra.Command, _ []string) {
	ctx, cancel := context.WithTimeout(context.Background(), dbCommandTimeout)
	defer cancel()

	database := connectForDBCommand(ctx)
	defer func() { _ = database.Close() }()

	migrator := db.NewMigrator(database, logging.Default())
	statuses, err := migrator.Status(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading migration status: %v\n", err)
		os.Exit(1)
	}

	for _, status := range statuses {
		if status.Applied {
			fmt.Printf("applied  %s (%s)\n", status.Name, status.AppliedAt.Format("2006-01-02 15:04:05"))
		} else {
			fmt.Printf("pending  %s\n", status.Name)
		}
	}
}
