package db

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vigilsec/vigil/internal/logging"
)

//go:embed *.sql
var migrationFiles embed.FS

// Migration is one applied schema migration.
type Migration struct {
	ID        int       `db:"id"`
	Name      string    `db:"name"`
	AppliedAt time.Time `db:"applied_at"`
	Checksum  string    `db:"checksum"`
}

// MigrationStatus pairs a migration file with its applied state.
type MigrationStatus struct {
	Name      string
	Applied   bool
	AppliedAt time.Time
}

// Migrator applies the embedded schema migrations in lexical order. Each
// migration runs in its own transaction and is recorded with a content
// checksum, so a file that changed after being applied is detected.
type Migrator struct {
	db     *DB
	logger *logging.Logger
}

// NewMigrator creates a migrator. A nil logger falls back to the package
// default.
func NewMigrator(database *DB, logger *logging.Logger) *Migrator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Migrator{db: database, logger: logger.WithComponent("db.migrate")}
}

// Up applies all pending migrations. A previously applied migration whose
// embedded content no longer matches its recorded checksum fails the run.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	files, err := migrationFileNames()
	if err != nil {
		return err
	}

	for _, file := range files {
		name := migrationName(file)
		content, err := migrationFiles.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}
		checksum := migrationChecksum(content)

		if prior, exists := applied[name]; exists {
			if prior.Checksum != checksum {
				return fmt.Errorf("migration %s changed after being applied (checksum %s, recorded %s)",
					name, checksum, prior.Checksum)
			}
			continue
		}

		m.logger.Info("applying migration", "migration", name)
		if err := m.applyMigration(ctx, name, string(content), checksum); err != nil {
			return fmt.Errorf("migration %s failed: %w", name, err)
		}
		m.logger.Info("migration applied", "migration", name)
	}

	return nil
}

// Status returns every embedded migration with its applied state, in
// lexical order.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}

	applied, err := m.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	files, err := migrationFileNames()
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(files))
	for _, file := range files {
		name := migrationName(file)
		status := MigrationStatus{Name: name}
		if migration, exists := applied[name]; exists {
			status.Applied = true
			status.AppliedAt = migration.AppliedAt
		}
		statuses = append(statuses, status)
	}

	return statuses, nil
}

// ensureMigrationsTable creates the tracking table if it doesn't exist.
func (m *Migrator) ensureMigrationsTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ DEFAULT NOW(),
			checksum VARCHAR(64) NOT NULL
		)`

	if _, err := m.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	return nil
}

// appliedMigrations returns the applied migrations keyed by name.
func (m *Migrator) appliedMigrations(ctx context.Context) (map[string]Migration, error) {
	var migrations []Migration
	query := `SELECT id, name, applied_at, checksum FROM schema_migrations ORDER BY id`

	if err := m.db.SelectContext(ctx, &migrations, query); err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	applied := make(map[string]Migration, len(migrations))
	for _, migration := range migrations {
		applied[migration.Name] = migration
	}

	return applied, nil
}

// applyMigration executes one migration and records it, transactionally.
func (m *Migrator) applyMigration(ctx context.Context, name, content, checksum string) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, content); err != nil {
		return fmt.Errorf("failed to execute migration: %w", err)
	}

	insertQuery := `INSERT INTO schema_migrations (name, checksum) VALUES ($1, $2)`
	if _, err := tx.ExecContext(ctx, insertQuery, name, checksum); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	return nil
}

// migrationFileNames returns the embedded migration files in lexical order.
func migrationFileNames() ([]string, error) {
	var files []string

	err := fs.WalkDir(migrationFiles, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".sql") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read migration files: %w", err)
	}

	sort.Strings(files)
	return files, nil
}

// migrationName strips the directory and .sql suffix from a file path.
func migrationName(file string) string {
	return strings.TrimSuffix(filepath.Base(file), ".sql")
}

// migrationChecksum is the SHA-256 hex digest of migration content.
func migrationChecksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ConnectAndMigrate connects to the database and brings the schema up to
// date before returning the connection.
func ConnectAndMigrate(ctx context.Context, config *Config, logger *logging.Logger) (*DB, error) {
	database, err := Connect(ctx, config)
	if err != nil {
		return nil, err
	}

	migrator := NewMigrator(database, logger)
	if err := migrator.Up(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return database, nil
}
