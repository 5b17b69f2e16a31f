package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/masakikurihara-lgtm/sr-event-management/pkg/database"
)

// RunKind distinguishes full rebuilds from live refreshes
type RunKind string

const (
	RunKindRebuild RunKind = "rebuild"
	RunKindRefresh RunKind = "refresh"
)

// RunStatus is the terminal state of a run
type RunStatus string

const (
	RunStatusRunning       RunStatus = "running"
	RunStatusPublished     RunStatus = "published"
	RunStatusPublishFailed RunStatus = "publish_failed"
	RunStatusFailed        RunStatus = "failed"
	RunStatusUnchanged     RunStatus = "unchanged"
)

// RebuildRun is the persisted history entry for one rebuild or refresh
type RebuildRun struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	Kind          RunKind    `db:"kind" json:"kind"`
	Role          Role       `db:"role" json:"role"`
	ParticipantID *string    `db:"participant_id" json:"participant_id,omitempty"`
	StartID       *int64     `db:"start_id" json:"start_id,omitempty"`
	EndID         *int64     `db:"end_id" json:"end_id,omitempty"`
	FullHistory   bool       `db:"full_history" json:"full_history"`
	Status        RunStatus  `db:"status" json:"status"`
	Updated       int        `db:"updated" json:"updated"`
	Added         int        `db:"added" json:"added"`
	Deleted       int        `db:"deleted" json:"deleted"`
	Unreachable   int        `db:"unreachable" json:"unreachable"`
	Failed        int        `db:"failed" json:"failed"`

	// UnreachableIDs lists event ids that could not be verified and were not pruned
	UnreachableIDs database.JSONB[[]string] `db:"unreachable_ids" json:"unreachable_ids"`

	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	StartedAt    time.Time  `db:"started_at" json:"started_at"`
	CompletedAt  *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// TableName returns the database table name
func (RebuildRun) TableName() string {
	return "rebuild_runs"
}

// SetCounts copies counts onto the run
func (r *RebuildRun) SetCounts(c Counts) {
	r.Updated = c.Updated
	r.Added = c.Added
	r.Deleted = c.Deleted
	r.Unreachable = c.Unreachable
	r.Failed = c.Failed
}
