package models

import "time"

// Sync triggers
const (
	TriggerHTTP     = "http"
	TriggerCLI      = "cli"
	TriggerSchedule = "schedule"
)

// Sync run statuses
const (
	SyncStatusSuccess = "success"
	SyncStatusFailed  = "failed"
)

// SyncResult is the outcome of one pull sync, shaped as the HTTP response
type SyncResult struct {
	Success         bool       `json:"success"`
	ServicesUpdated int        `json:"services_updated"`
	LastSync        *time.Time `json:"last_sync,omitempty"`
	Error           string     `json:"error,omitempty"`

	RunID           string `json:"-"`
	ServicesFetched int    `json:"-"`
	ServicesFailed  int    `json:"-"`
	ServicesPruned  int    `json:"-"`
}

// SyncRun is the persisted record of one pull sync
type SyncRun struct {
	ID              string     `json:"id" db:"id"`
	Trigger         string     `json:"trigger" db:"trigger_source"`
	Status          string     `json:"status" db:"status"`
	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	FinishedAt      *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	ServicesFetched int        `json:"services_fetched" db:"services_fetched"`
	ServicesUpdated int        `json:"services_updated" db:"services_updated"`
	ServicesFailed  int        `json:"services_failed" db:"services_failed"`
	ServicesPruned  int        `json:"services_pruned" db:"services_pruned"`
	Error           *string    `json:"error,omitempty" db:"error_message"`
}
