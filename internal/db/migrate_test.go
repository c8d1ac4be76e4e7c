package db

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFilesEmbedded(t *testing.T) {
	files, err := migrationFileNames()
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, "001_initial_schema", migrationName(files[0]))
	assert.IsIncreasing(t, files, "migrations apply in lexical order")
}

func TestMigratorUpAppliesPendingMigrations(t *testing.T) {
	database, mock := newMockDB(t)
	migrator := NewMigrator(database, nil)

	content, err := migrationFiles.ReadFile("001_initial_schema.sql")
	require.NoError(t, err)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id, name, applied_at, checksum FROM schema_migrations ORDER BY id`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "applied_at", "checksum"}))
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS endpoint_groups`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO schema_migrations \(name, checksum\) VALUES \(\$1, \$2\)`).
		WithArgs("001_initial_schema", migrationChecksum(content)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, migrator.Up(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigratorUpSkipsApplied(t *testing.T) {
	database, mock := newMockDB(t)
	migrator := NewMigrator(database, nil)

	content, err := migrationFiles.ReadFile("001_initial_schema.sql")
	require.NoError(t, err)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id, name, applied_at, checksum FROM schema_migrations ORDER BY id`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "applied_at", "checksum"}).
			AddRow(1, "001_initial_schema", time.Now().UTC(), migrationChecksum(content)))

	require.NoError(t, migrator.Up(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigratorUpDetectsChecksumDrift(t *testing.T) {
	database, mock := newMockDB(t)
	migrator := NewMigrator(database, nil)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id, name, applied_at, checksum FROM schema_migrations ORDER BY id`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "applied_at", "checksum"}).
			AddRow(1, "001_initial_schema", time.Now().UTC(), "deadbeef"))

	err := migrator.Up(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "changed after being applied")
}

func TestMigratorStatus(t *testing.T) {
	database, mock := newMockDB(t)
	migrator := NewMigrator(database, nil)

	applied := time.Now().UTC()
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT id, name, applied_at, checksum FROM schema_migrations ORDER BY id`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "applied_at", "checksum"}).
			AddRow(1, "001_initial_schema", applied, "abc"))

	statuses, err := migrator.Status(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, statuses)
	assert.Equal(t, "001_initial_schema", statuses[0].Name)
	assert.True(t, statuses[0].Applied)
	assert.Equal(t, applied, statuses[0].AppliedAt)
}
