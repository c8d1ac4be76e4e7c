// Package db provides database connectivity and data models for vigil.
// It wraps PostgreSQL access behind per-entity repositories and returns
// sanitized errors that never expose SQL details or credentials.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vigilsec/vigil/internal/errors"
	"github.com/vigilsec/vigil/internal/metrics"
)

// sanitizeDBError converts raw database errors into safe, sanitized errors
// that don't expose internal SQL details or credentials to API clients.
// The original error is preserved in the Cause field for internal debugging.
func sanitizeDBError(operation string, err error) error {
	if err == nil {
		return nil
	}

	if err == sql.ErrNoRows {
		return errors.NewDatabaseError(errors.CodeNotFound, "Resource not found")
	}

	// Check for PostgreSQL-specific errors
	if pqErr, ok := err.(*pq.Error); ok {
		var dbErr *errors.DatabaseError
		switch pqErr.Code {
		case "23505": // unique_violation
			dbErr = errors.NewDatabaseError(errors.CodeConflict, "Resource already exists")
		case "23503": // foreign_key_violation
			dbErr = errors.NewDatabaseError(errors.CodeInvalidParameters, "Referenced resource does not exist")
		case "23502": // not_null_violation
			dbErr = errors.NewDatabaseError(errors.CodeInvalidParameters, "Required field is missing")
		case "23514": // check_violation
			dbErr = errors.NewDatabaseError(errors.CodeInvalidParameters, "Data validation failed")
		case "57014": // query_canceled
			dbErr = errors.NewDatabaseError(errors.CodeCanceled, "Database operation was canceled")
		case "57P01": // admin_shutdown
			dbErr = errors.NewDatabaseError(errors.CodeDatabaseConnection, "Database connection lost")
		case "08000", "08003", "08006": // connection errors
			dbErr = errors.NewDatabaseError(errors.CodeDatabaseConnection, "Database connection error")
		default:
			msg := fmt.Sprintf("Database operation failed: %s", operation)
			dbErr = errors.NewDatabaseError(errors.CodeDatabaseQuery, msg)
		}
		dbErr.Operation = operation
		dbErr.Cause = err
		return dbErr
	}

	// For all other errors, return a generic sanitized error without details
	dbErr := errors.NewDatabaseError(errors.CodeDatabaseQuery, fmt.Sprintf("Database operation failed: %s", operation))
	dbErr.Operation = operation
	dbErr.Cause = err
	return dbErr
}

const (
	// Default database configuration values.
	defaultPostgresPort    = 5432
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5
	defaultConnMaxIdleTime = 5
)

// DB wraps sqlx.DB with additional functionality.
type DB struct {
	*sqlx.DB

	metrics *metrics.Metrics
}

// Config holds database configuration.
type Config struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port"`
	Database        string        `yaml:"database" json:"database"`
	Username        string        `yaml:"username" json:"username"`
	Password        string        `yaml:"password" json:"password"`
	SSLMode         string        `yaml:"ssl_mode" json:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// DefaultConfig returns the default database configuration.
// Database name, username, and password must be explicitly configured.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            defaultPostgresPort,
		Database:        "", // Must be configured
		Username:        "", // Must be configured
		Password:        "", // Must be configured
		SSLMode:         "disable",
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime * time.Minute,
		ConnMaxIdleTime: defaultConnMaxIdleTime * time.Minute,
	}
}

// Connect establishes a connection to PostgreSQL.
// Returns sanitized errors that don't leak credentials or DSN details.
func Connect(ctx context.Context, config *Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		config.Host, config.Port, config.Database,
		config.Username, config.Password, config.SSLMode,
	)

	database, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		// Sanitized error without DSN to prevent credential leakage in logs
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseConnection, "Failed to connect to database", err)
	}

	database.SetMaxOpenConns(config.MaxOpenConns)
	database.SetMaxIdleConns(config.MaxIdleConns)
	database.SetConnMaxLifetime(config.ConnMaxLifetime)
	database.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := database.PingContext(ctx); err != nil {
		if closeErr := database.Close(); closeErr != nil {
			log.Printf("Failed to close database connection after ping failure")
		}
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseConnection, "Failed to verify database connection", err)
	}

	return &DB{DB: database}, nil
}

// SetMetrics attaches metrics collectors to the connection. Queries run
// before this is called are not recorded.
func (d *DB) SetMetrics(m *metrics.Metrics) {
	d.metrics = m
}

// observe records one query against the database collectors.
func (d *DB) observe(operation string, start time.Time, err error) {
	if d.metrics == nil {
		return
	}
	d.metrics.RecordDatabaseQuery(operation, time.Since(start), err == nil)
	d.metrics.SetActiveConnections(d.Stats().OpenConnections)
}

// The query methods below shadow the embedded sqlx methods so every
// repository call is timed without each call site knowing about metrics.

// GetContext runs a single-row query and records its timing.
func (d *DB) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	start := time.Now()
	err := d.DB.GetContext(ctx, dest, query, args...)
	d.observe("get", start, err)
	return err
}

// SelectContext runs a multi-row query and records its timing.
func (d *DB) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	start := time.Now()
	err := d.DB.SelectContext(ctx, dest, query, args...)
	d.observe("select", start, err)
	return err
}

// ExecContext runs a statement and records its timing.
func (d *DB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	start := time.Now()
	result, err := d.DB.ExecContext(ctx, query, args...)
	d.observe("exec", start, err)
	return result, err
}

// NamedQueryContext runs a named query and records its timing.
func (d *DB) NamedQueryContext(ctx context.Context, query string, arg interface{}) (*sqlx.Rows, error) {
	start := time.Now()
	rows, err := d.DB.NamedQueryContext(ctx, query, arg)
	d.observe("named_query", start, err)
	return rows, err
}

// EndpointRepository handles endpoint operations. All lookups are scoped
// to an account; an id owned by another account reads as not found.
type EndpointRepository struct {
	db *DB
}

// NewEndpointRepository creates a new endpoint repository.
func NewEndpointRepository(db *DB) *EndpointRepository {
	return &EndpointRepository{db: db}
}

// Create creates a new endpoint.
func (r *EndpointRepository) Create(ctx context.Context, endpoint *Endpoint) error {
	query := `
		INSERT INTO endpoints (id, account_id, name, address, address_type, group_id, description, is_active)
		VALUES (:id, :account_id, :name, :address, :address_type, :group_id, :description, :is_active)
		RETURNING created_at, updated_at`

	if endpoint.ID == uuid.Nil {
		endpoint.ID = uuid.New()
	}

	rows, err := r.db.NamedQueryContext(ctx, query, endpoint)
	if err != nil {
		return sanitizeDBError("create endpoint", err)
	}
	defer closeRows(rows)

	if rows.Next() {
		if err := rows.Scan(&endpoint.CreatedAt, &endpoint.UpdatedAt); err != nil {
			return sanitizeDBError("scan created endpoint", err)
		}
	}

	return nil
}

// GetByID retrieves an endpoint owned by the account.
func (r *EndpointRepository) GetByID(ctx context.Context, accountID, id uuid.UUID) (*Endpoint, error) {
	var endpoint Endpoint
	query := `SELECT * FROM endpoints WHERE id = $1 AND account_id = $2`

	if err := r.db.GetContext(ctx, &endpoint, query, id, accountID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFound("endpoint", id)
		}
		return nil, sanitizeDBError("get endpoint", err)
	}

	return &endpoint, nil
}

// GetByIDs retrieves the subset of the given endpoints owned by the
// account. Callers compare lengths to detect missing or foreign ids.
func (r *EndpointRepository) GetByIDs(ctx context.Context, accountID uuid.UUID, ids []uuid.UUID) ([]*Endpoint, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var endpoints []*Endpoint
	query := `SELECT * FROM endpoints WHERE account_id = $1 AND id = ANY($2)`

	if err := r.db.SelectContext(ctx, &endpoints, query, accountID, pq.Array(ids)); err != nil {
		return nil, sanitizeDBError("get endpoints by ids", err)
	}

	return endpoints, nil
}

// List retrieves endpoints for an account with pagination.
func (r *EndpointRepository) List(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*Endpoint, error) {
	var endpoints []*Endpoint
	query := `SELECT * FROM endpoints WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	if err := r.db.SelectContext(ctx, &endpoints, query, accountID, limit, offset); err != nil {
		return nil, sanitizeDBError("list endpoints", err)
	}

	return endpoints, nil
}

// Update updates an endpoint owned by the account.
func (r *EndpointRepository) Update(ctx context.Context, endpoint *Endpoint) error {
	query := `
		UPDATE endpoints
		SET name = :name, address = :address, address_type = :address_type,
		    group_id = :group_id, description = :description, is_active = :is_active,
		    updated_at = NOW()
		WHERE id = :id AND account_id = :account_id
		RETURNING updated_at`

	rows, err := r.db.NamedQueryContext(ctx, query, endpoint)
	if err != nil {
		return sanitizeDBError("update endpoint", err)
	}
	defer closeRows(rows)

	if !rows.Next() {
		return errors.NewNotFound("endpoint", endpoint.ID)
	}
	if err := rows.Scan(&endpoint.UpdatedAt); err != nil {
		return sanitizeDBError("scan updated endpoint", err)
	}

	return nil
}

// Delete deletes an endpoint owned by the account.
func (r *EndpointRepository) Delete(ctx context.Context, accountID, id uuid.UUID) error {
	query := `DELETE FROM endpoints WHERE id = $1 AND account_id = $2`

	result, err := r.db.ExecContext(ctx, query, id, accountID)
	if err != nil {
		return sanitizeDBError("delete endpoint", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return sanitizeDBError("get rows affected", err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("endpoint", id)
	}

	return nil
}

// EndpointGroupRepository handles endpoint group operations.
type EndpointGroupRepository struct {
	db *DB
}

// NewEndpointGroupRepository creates a new endpoint group repository.
func NewEndpointGroupRepository(db *DB) *EndpointGroupRepository {
	return &EndpointGroupRepository{db: db}
}

// Create creates a new endpoint group.
func (r *EndpointGroupRepository) Create(ctx context.Context, group *EndpointGroup) error {
	query := `
		INSERT INTO endpoint_groups (id, account_id, name, description)
		VALUES (:id, :account_id, :name, :description)
		RETURNING created_at, updated_at`

	if group.ID == uuid.Nil {
		group.ID = uuid.New()
	}

	rows, err := r.db.NamedQueryContext(ctx, query, group)
	if err != nil {
		return sanitizeDBError("create endpoint group", err)
	}
	defer closeRows(rows)

	if rows.Next() {
		if err := rows.Scan(&group.CreatedAt, &group.UpdatedAt); err != nil {
			return sanitizeDBError("scan created endpoint group", err)
		}
	}

	return nil
}

// GetByID retrieves an endpoint group owned by the account.
func (r *EndpointGroupRepository) GetByID(ctx context.Context, accountID, id uuid.UUID) (*EndpointGroup, error) {
	var group EndpointGroup
	query := `SELECT * FROM endpoint_groups WHERE id = $1 AND account_id = $2`

	if err := r.db.GetContext(ctx, &group, query, id, accountID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFound("endpoint group", id)
		}
		return nil, sanitizeDBError("get endpoint group", err)
	}

	return &group, nil
}

// List retrieves endpoint groups for an account with pagination.
func (r *EndpointGroupRepository) List(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*EndpointGroup, error) {
	var groups []*EndpointGroup
	query := `SELECT * FROM endpoint_groups WHERE account_id = $1 ORDER BY name LIMIT $2 OFFSET $3`

	if err := r.db.SelectContext(ctx, &groups, query, accountID, limit, offset); err != nil {
		return nil, sanitizeDBError("list endpoint groups", err)
	}

	return groups, nil
}

// Update updates an endpoint group owned by the account.
func (r *EndpointGroupRepository) Update(ctx context.Context, group *EndpointGroup) error {
	query := `
		UPDATE endpoint_groups
		SET name = :name, description = :description, updated_at = NOW()
		WHERE id = :id AND account_id = :account_id
		RETURNING updated_at`

	rows, err := r.db.NamedQueryContext(ctx, query, group)
	if err != nil {
		return sanitizeDBError("update endpoint group", err)
	}
	defer closeRows(rows)

	if !rows.Next() {
		return errors.NewNotFound("endpoint group", group.ID)
	}
	if err := rows.Scan(&group.UpdatedAt); err != nil {
		return sanitizeDBError("scan updated endpoint group", err)
	}

	return nil
}

// Delete deletes an endpoint group owned by the account. Endpoints keep a
// weak reference; their group_id is cleared by the foreign key action.
func (r *EndpointGroupRepository) Delete(ctx context.Context, accountID, id uuid.UUID) error {
	query := `DELETE FROM endpoint_groups WHERE id = $1 AND account_id = $2`

	result, err := r.db.ExecContext(ctx, query, id, accountID)
	if err != nil {
		return sanitizeDBError("delete endpoint group", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return sanitizeDBError("get rows affected", err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("endpoint group", id)
	}

	return nil
}

// JobFilter narrows job listings.
type JobFilter struct {
	Status string
	Type   string
	Limit  int
	Offset int
}

// ScanJobRepository handles scan job lifecycle persistence.
type ScanJobRepository struct {
	db *DB
}

// NewScanJobRepository creates a new scan job repository.
func NewScanJobRepository(db *DB) *ScanJobRepository {
	return &ScanJobRepository{db: db}
}

// Create persists a new scan job.
func (r *ScanJobRepository) Create(ctx context.Context, job *ScanJob) error {
	query := `
		INSERT INTO scan_jobs (id, account_id, name, type, params, target_ids, status, schedule_id)
		VALUES (:id, :account_id, :name, :type, :params, :target_ids, :status, :schedule_id)
		RETURNING created_at`

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = JobStatusPending
	}

	rows, err := r.db.NamedQueryContext(ctx, query, job)
	if err != nil {
		return sanitizeDBError("create scan job", err)
	}
	defer closeRows(rows)

	if rows.Next() {
		if err := rows.Scan(&job.CreatedAt); err != nil {
			return sanitizeDBError("scan created scan job", err)
		}
	}

	return nil
}

// GetByID retrieves a scan job owned by the account.
func (r *ScanJobRepository) GetByID(ctx context.Context, accountID, id uuid.UUID) (*ScanJob, error) {
	var job ScanJob
	query := `SELECT * FROM scan_jobs WHERE id = $1 AND account_id = $2`

	if err := r.db.GetContext(ctx, &job, query, id, accountID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFound("scan job", id)
		}
		return nil, sanitizeDBError("get scan job", err)
	}

	return &job, nil
}

// List retrieves jobs for an account, optionally filtered by status and
// type, newest first.
func (r *ScanJobRepository) List(ctx context.Context, accountID uuid.UUID, filter JobFilter) ([]*ScanJob, error) {
	query := `SELECT * FROM scan_jobs WHERE account_id = $1`
	args := []interface{}{accountID}

	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}

	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	var jobs []*ScanJob
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, sanitizeDBError("list scan jobs", err)
	}

	return jobs, nil
}

// UpdateStatus records a job status transition. started_at is stamped on
// the first transition to running, completed_at on any terminal status.
func (r *ScanJobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string, failureReason *string) error {
	query := `
		UPDATE scan_jobs
		SET status = $2,
		    failure_reason = $3,
		    started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN NOW() ELSE started_at END,
		    completed_at = CASE WHEN $2 IN ('completed', 'failed', 'cancelled') THEN NOW() ELSE completed_at END
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id, status, failureReason)
	if err != nil {
		return sanitizeDBError("update scan job status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return sanitizeDBError("get rows affected", err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("scan job", id)
	}

	return nil
}

// Delete removes a scan job owned by the account. The engine guarantees
// the job is terminal before calling this.
func (r *ScanJobRepository) Delete(ctx context.Context, accountID, id uuid.UUID) error {
	query := `DELETE FROM scan_jobs WHERE id = $1 AND account_id = $2`

	result, err := r.db.ExecContext(ctx, query, id, accountID)
	if err != nil {
		return sanitizeDBError("delete scan job", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return sanitizeDBError("get rows affected", err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("scan job", id)
	}

	return nil
}

// ScanResultRepository handles normalized result persistence.
type ScanResultRepository struct {
	db *DB
}

// NewScanResultRepository creates a new scan result repository.
func NewScanResultRepository(db *DB) *ScanResultRepository {
	return &ScanResultRepository{db: db}
}

// Create persists a result. The unique constraint on job_id makes the
// write exactly-once; a second attempt reads as a conflict.
func (r *ScanResultRepository) Create(ctx context.Context, result *ScanResult) error {
	query := `
		INSERT INTO scan_results (id, job_id, findings, raw_output, parse_incomplete)
		VALUES (:id, :job_id, :findings, :raw_output, :parse_incomplete)
		RETURNING generated_at`

	if result.ID == uuid.Nil {
		result.ID = uuid.New()
	}

	rows, err := r.db.NamedQueryContext(ctx, query, result)
	if err != nil {
		return sanitizeDBError("create scan result", err)
	}
	defer closeRows(rows)

	if rows.Next() {
		if err := rows.Scan(&result.GeneratedAt); err != nil {
			return sanitizeDBError("scan created scan result", err)
		}
	}

	return nil
}

// GetByJobID retrieves the result for a job.
func (r *ScanResultRepository) GetByJobID(ctx context.Context, jobID uuid.UUID) (*ScanResult, error) {
	var result ScanResult
	query := `SELECT * FROM scan_results WHERE job_id = $1`

	if err := r.db.GetContext(ctx, &result, query, jobID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFound("scan result", jobID)
		}
		return nil, sanitizeDBError("get scan result", err)
	}

	return &result, nil
}

// DeleteByJobID removes the result for a deleted job.
func (r *ScanResultRepository) DeleteByJobID(ctx context.Context, jobID uuid.UUID) error {
	query := `DELETE FROM scan_results WHERE job_id = $1`

	if _, err := r.db.ExecContext(ctx, query, jobID); err != nil {
		return sanitizeDBError("delete scan result", err)
	}

	return nil
}

// ScheduledScanRepository handles scheduled scan definitions.
type ScheduledScanRepository struct {
	db *DB
}

// NewScheduledScanRepository creates a new scheduled scan repository.
func NewScheduledScanRepository(db *DB) *ScheduledScanRepository {
	return &ScheduledScanRepository{db: db}
}

// Create persists a new scheduled scan definition.
func (r *ScheduledScanRepository) Create(ctx context.Context, schedule *ScheduledScan) error {
	query := `
		INSERT INTO scheduled_scans (id, account_id, name, scan_type, params, target_ids,
			schedule_type, interval_seconds, cron_expression, is_active, next_run)
		VALUES (:id, :account_id, :name, :scan_type, :params, :target_ids,
			:schedule_type, :interval_seconds, :cron_expression, :is_active, :next_run)
		RETURNING created_at, updated_at`

	if schedule.ID == uuid.Nil {
		schedule.ID = uuid.New()
	}

	rows, err := r.db.NamedQueryContext(ctx, query, schedule)
	if err != nil {
		return sanitizeDBError("create scheduled scan", err)
	}
	defer closeRows(rows)

	if rows.Next() {
		if err := rows.Scan(&schedule.CreatedAt, &schedule.UpdatedAt); err != nil {
			return sanitizeDBError("scan created scheduled scan", err)
		}
	}

	return nil
}

// GetByID retrieves a scheduled scan owned by the account.
func (r *ScheduledScanRepository) GetByID(ctx context.Context, accountID, id uuid.UUID) (*ScheduledScan, error) {
	var schedule ScheduledScan
	query := `SELECT * FROM scheduled_scans WHERE id = $1 AND account_id = $2`

	if err := r.db.GetContext(ctx, &schedule, query, id, accountID); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NewNotFound("scheduled scan", id)
		}
		return nil, sanitizeDBError("get scheduled scan", err)
	}

	return &schedule, nil
}

// List retrieves scheduled scans for an account with pagination.
func (r *ScheduledScanRepository) List(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*ScheduledScan, error) {
	var schedules []*ScheduledScan
	query := `SELECT * FROM scheduled_scans WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	if err := r.db.SelectContext(ctx, &schedules, query, accountID, limit, offset); err != nil {
		return nil, sanitizeDBError("list scheduled scans", err)
	}

	return schedules, nil
}

// ListDue retrieves active definitions whose next run is at or before the
// given instant, oldest next-run first.
func (r *ScheduledScanRepository) ListDue(ctx context.Context, now time.Time) ([]*ScheduledScan, error) {
	var schedules []*ScheduledScan
	query := `SELECT * FROM scheduled_scans WHERE is_active = true AND next_run <= $1 ORDER BY next_run`

	if err := r.db.SelectContext(ctx, &schedules, query, now); err != nil {
		return nil, sanitizeDBError("list due scheduled scans", err)
	}

	return schedules, nil
}

// Update updates the editable fields of a definition. next_run is managed
// by the scheduler and deliberately untouched here, so toggling is_active
// never resets it.
func (r *ScheduledScanRepository) Update(ctx context.Context, schedule *ScheduledScan) error {
	query := `
		UPDATE scheduled_scans
		SET name = :name, scan_type = :scan_type, params = :params, target_ids = :target_ids,
		    schedule_type = :schedule_type, interval_seconds = :interval_seconds,
		    cron_expression = :cron_expression, is_active = :is_active, updated_at = NOW()
		WHERE id = :id AND account_id = :account_id
		RETURNING updated_at`

	rows, err := r.db.NamedQueryContext(ctx, query, schedule)
	if err != nil {
		return sanitizeDBError("update scheduled scan", err)
	}
	defer closeRows(rows)

	if !rows.Next() {
		return errors.NewNotFound("scheduled scan", schedule.ID)
	}
	if err := rows.Scan(&schedule.UpdatedAt); err != nil {
		return sanitizeDBError("scan updated scheduled scan", err)
	}

	return nil
}

// MarkSpawned records a successful spawn: last run stamped, next run
// advanced. Deactivates one-shot definitions when active is false.
func (r *ScheduledScanRepository) MarkSpawned(ctx context.Context, id uuid.UUID, lastRun, nextRun time.Time, active bool) error {
	query := `
		UPDATE scheduled_scans
		SET last_run = $2, next_run = $3, is_active = $4, updated_at = NOW()
		WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, lastRun, nextRun, active); err != nil {
		return sanitizeDBError("mark scheduled scan spawned", err)
	}

	return nil
}

// MarkSkipped records a run that was not spawned: the skip counter is
// incremented and next run advanced so the missed interval is never
// retried.
func (r *ScheduledScanRepository) MarkSkipped(ctx context.Context, id uuid.UUID, nextRun time.Time, active bool) error {
	query := `
		UPDATE scheduled_scans
		SET skipped_runs = skipped_runs + 1, next_run = $2, is_active = $3, updated_at = NOW()
		WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, nextRun, active); err != nil {
		return sanitizeDBError("mark scheduled scan skipped", err)
	}

	return nil
}

// Delete deletes a scheduled scan owned by the account.
func (r *ScheduledScanRepository) Delete(ctx context.Context, accountID, id uuid.UUID) error {
	query := `DELETE FROM scheduled_scans WHERE id = $1 AND account_id = $2`

	result, err := r.db.ExecContext(ctx, query, id, accountID)
	if err != nil {
		return sanitizeDBError("delete scheduled scan", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return sanitizeDBError("get rows affected", err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("scheduled scan", id)
	}

	return nil
}

func closeRows(rows *sqlx.Rows) {
	if err := rows.Close(); err != nil {
		log.Printf("Failed to close rows: %v", err)
	}
}
