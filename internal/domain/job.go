package domain

import "time"

// RunStatus is the lifecycle state of a warm-up run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusFailed    RunStatus = "failed"
)

// WarmupRun records one pass that pre-computes embeddings for a source.
type WarmupRun struct {
	ID          string     `gorm:"type:text;primaryKey" json:"id"`
	SourceID    string     `gorm:"type:text;not null;index" json:"source_id"`
	BundleHash  string     `gorm:"type:text;not null" json:"model_bundle_hash"`
	Status      RunStatus  `gorm:"type:text;default:running" json:"status"`
	Total       int        `gorm:"default:0" json:"total"`
	Embedded    int        `gorm:"default:0" json:"embedded"`
	Cached      int        `gorm:"default:0" json:"cached"`
	Failed      int        `gorm:"default:0" json:"failed"`
	Cursor      string     `gorm:"type:text" json:"cursor,omitempty"`
	ErrorLog    string     `gorm:"type:text" json:"error_log,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (WarmupRun) TableName() string {
	return "warmup_runs"
}
