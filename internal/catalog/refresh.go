package catalog

import "time"

// RefreshMode selects how much of a catalog a refresh run re-fetches.
type RefreshMode string

// Refresh modes.
const (
	RefreshFull        RefreshMode = "full"
	RefreshIncremental RefreshMode = "incremental"
)

// RunStatus is the final state of a refresh run.
type RunStatus string

// Refresh run statuses.
const (
	RunSuccess RunStatus = "success"
	RunPartial RunStatus = "partial"
	RunError   RunStatus = "error"
)

// RefreshRun is the persisted summary of one language refresh.
type RefreshRun struct {
	ID          string      `json:"id"`
	Language    string      `json:"language"`
	Mode        RefreshMode `json:"mode"`
	Status      RunStatus   `json:"status"`
	Pages       int         `json:"pages"`
	FailedPages int         `json:"failed_pages"`
	Records     int         `json:"records"`
	NewRecords  int         `json:"new_records"`
	Error       string      `json:"error,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  time.Time   `json:"finished_at"`
}

// RefreshEvent announces a finished refresh run.
type RefreshEvent struct {
	RefreshRun
	CatalogKey string `json:"catalog_key"`
}

// Attributes are the message attributes subscribers filter on.
func (e RefreshEvent) Attributes() map[string]string {
	return map[string]string{
		"language": e.Language,
		"mode":     string(e.Mode),
		"status":   string(e.Status),
	}
}
