package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// JSONB wraps json.RawMessage for PostgreSQL JSONB type.
type JSONB json.RawMessage

// Scan implements sql.Scanner for PostgreSQL JSONB type.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*j = JSONB(v)
		return nil
	case string:
		*j = JSONB([]byte(v))
		return nil
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}
}

// Value implements driver.Valuer for PostgreSQL JSONB type.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return []byte(j), nil
}

// MarshalJSON implements json.Marshaler.
func (j JSONB) MarshalJSON() ([]byte, error) {
	if j == nil {
		return []byte("null"), nil
	}
	return []byte(j), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (j *JSONB) UnmarshalJSON(data []byte) error {
	*j = JSONB(data)
	return nil
}

// Job status values. Transitions are enforced by the engine; the database
// only ever sees statuses written through it.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// IsTerminalStatus reports whether a job status permits no further
// transitions.
func IsTerminalStatus(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Supported scan types.
const (
	ScanTypePortScan      = "port-scan"
	ScanTypeOSDetection   = "os-detection"
	ScanTypeVulnerability = "vulnerability-scan"
)

// Schedule type values for scheduled scan definitions.
const (
	ScheduleTypeOnce     = "once"
	ScheduleTypeDaily    = "daily"
	ScheduleTypeWeekly   = "weekly"
	ScheduleTypeMonthly  = "monthly"
	ScheduleTypeInterval = "interval"
	ScheduleTypeCron     = "cron"
)

// Endpoint address types.
const (
	AddressTypeIP       = "ip"
	AddressTypeHostname = "hostname"
	AddressTypeCIDR     = "cidr"
)

// Endpoint represents a scannable target owned by an account.
type Endpoint struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	AccountID   uuid.UUID  `db:"account_id" json:"account_id"`
	Name        string     `db:"name" json:"name"`
	Address     string     `db:"address" json:"address"`
	AddressType string     `db:"address_type" json:"address_type"`
	GroupID     *uuid.UUID `db:"group_id" json:"group_id,omitempty"`
	Description *string    `db:"description" json:"description,omitempty"`
	IsActive    bool       `db:"is_active" json:"is_active"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// EndpointGroup represents a named collection of endpoints.
type EndpointGroup struct {
	ID          uuid.UUID `db:"id" json:"id"`
	AccountID   uuid.UUID `db:"account_id" json:"account_id"`
	Name        string    `db:"name" json:"name"`
	Description *string   `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// ScanJob represents a single scan execution request and its lifecycle
// state. TargetIDs preserves the order given at submission.
type ScanJob struct {
	ID            uuid.UUID      `db:"id" json:"id"`
	AccountID     uuid.UUID      `db:"account_id" json:"account_id"`
	Name          string         `db:"name" json:"name"`
	Type          string         `db:"type" json:"type"`
	Params        JSONB          `db:"params" json:"params"`
	TargetIDs     pq.StringArray `db:"target_ids" json:"target_ids"`
	Status        string         `db:"status" json:"status"`
	ScheduleID    *uuid.UUID     `db:"schedule_id" json:"schedule_id,omitempty"`
	FailureReason *string        `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	StartedAt     *time.Time     `db:"started_at" json:"started_at,omitempty"`
	CompletedAt   *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
}

// IsTerminal reports whether the job has reached a terminal status.
func (j *ScanJob) IsTerminal() bool {
	return IsTerminalStatus(j.Status)
}

// ScanResult holds the normalized findings for a completed job. Exactly
// one row exists per job, written before the job becomes completed.
type ScanResult struct {
	ID              uuid.UUID `db:"id" json:"id"`
	JobID           uuid.UUID `db:"job_id" json:"job_id"`
	Findings        JSONB     `db:"findings" json:"findings"`
	RawOutput       JSONB     `db:"raw_output" json:"raw_output,omitempty"`
	ParseIncomplete bool      `db:"parse_incomplete" json:"parse_incomplete"`
	GeneratedAt     time.Time `db:"generated_at" json:"generated_at"`
}

// ScheduledScan is a recurring scan definition owned by an account.
type ScheduledScan struct {
	ID             uuid.UUID      `db:"id" json:"id"`
	AccountID      uuid.UUID      `db:"account_id" json:"account_id"`
	Name           string         `db:"name" json:"name"`
	ScanType       string         `db:"scan_type" json:"scan_type"`
	Params         JSONB          `db:"params" json:"params"`
	TargetIDs      pq.StringArray `db:"target_ids" json:"target_ids"`
	ScheduleType   string         `db:"schedule_type" json:"schedule_type"`
	IntervalSecs   *int64         `db:"interval_seconds" json:"interval_seconds,omitempty"`
	CronExpression *string        `db:"cron_expression" json:"cron_expression,omitempty"`
	IsActive       bool           `db:"is_active" json:"is_active"`
	NextRun        time.Time      `db:"next_run" json:"next_run"`
	LastRun        *time.Time     `db:"last_run" json:"last_run,omitempty"`
	SkippedRuns    int            `db:"skipped_runs" json:"skipped_runs"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// TargetUUIDs converts the stored string array into parsed UUIDs,
// preserving order.
func TargetUUIDs(ids pq.StringArray) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid target id %q: %w", raw, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// TargetStrings converts UUIDs into the string array stored in Postgres,
// preserving order.
func TargetStrings(ids []uuid.UUID) pq.StringArray {
	out := make(pq.StringArray, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
