package domain

import "time"

// SyncWindow is an inclusive date range, resolved to UTC day boundaries
// when sent to the provider.
type SyncWindow struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// WindowResult summarizes one provider window sync for an account.
type WindowResult struct {
	AccountID int64         `json:"account_id"`
	Window    SyncWindow    `json:"window"`
	Fetched   int           `json:"fetched"`
	Matched   int           `json:"matched"`
	Inserted  int           `json:"inserted"`
	Updated   int           `json:"updated"`
	Processed ProcessResult `json:"processed"`
}

// BackfillResult aggregates the per-day windows of a backfill run.
type BackfillResult struct {
	AccountID  int64          `json:"account_id"`
	Days       int            `json:"days"`
	Windows    []WindowResult `json:"windows"`
	FailedDays int            `json:"failed_days"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// ProcessResult counts pipeline outcomes for a batch of messages.
type ProcessResult struct {
	Total     int `json:"total"`
	Success   int `json:"success"`
	Duplicate int `json:"duplicate"`
	Fail      int `json:"fail"`
	Unmatched int `json:"unmatched"`
	Errors    int `json:"errors"`
}

// Add folds a single classification outcome into the tally.
func (r *ProcessResult) Add(status ReceiptStatus) {
	r.Total++
	switch status {
	case ReceiptStatusSuccess:
		r.Success++
	case ReceiptStatusDuplicate:
		r.Duplicate++
	case ReceiptStatusFail:
		r.Fail++
	case ReceiptStatusUnmatched:
		r.Unmatched++
	}
}

// Merge folds another tally into this one.
func (r *ProcessResult) Merge(other ProcessResult) {
	r.Total += other.Total
	r.Success += other.Success
	r.Duplicate += other.Duplicate
	r.Fail += other.Fail
	r.Unmatched += other.Unmatched
	r.Errors += other.Errors
}

// AccountSyncResult is the last-known sync state surfaced by the status API.
type AccountSyncResult struct {
	AccountID  int64         `json:"account_id"`
	Email      string        `json:"email"`
	Kind       string        `json:"kind"` // "daily" or "backfill"
	Window     SyncWindow    `json:"window"`
	Fetched    int           `json:"fetched"`
	Inserted   int           `json:"inserted"`
	Processed  ProcessResult `json:"processed"`
	Error      string        `json:"error,omitempty"`
	FinishedAt time.Time     `json:"finished_at"`
}
