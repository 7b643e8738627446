package store

import "time"

// Run is one harness run attempt of a test, keyed by its harness UID.
type Run struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	HarnessUID    string     `gorm:"size:64;uniqueIndex;not null" json:"harness_uid"`
	HarnessStart  *time.Time `json:"harness_start"`
	HarnessTLD    string     `gorm:"size:512" json:"harness_tld"`
	Application   string     `gorm:"size:255;index:idx_runs_app_test;not null" json:"application"`
	Testname      string     `gorm:"size:255;index:idx_runs_app_test;not null" json:"testname"`
	System        string     `gorm:"size:64" json:"system"`
	JobID         *string    `gorm:"size:64" json:"job_id"`
	LSFExitStatus *int       `gorm:"column:lsf_exit_status" json:"lsf_exit_status"`
	BuildStatus   *int       `gorm:"type:smallint" json:"build_status"`
	SubmitStatus  *int       `gorm:"type:smallint" json:"submit_status"`
	CheckStatus   *int       `gorm:"type:smallint" json:"check_status"`
	Check         *CheckCode `gorm:"foreignKey:CheckStatus;references:Code" json:"-"`
	OutputBuild   *string    `json:"output_build,omitempty"`
	OutputSubmit  *string    `json:"output_submit,omitempty"`
	OutputCheck   *string    `json:"output_check,omitempty"`
	OutputReport  *string    `json:"output_report,omitempty"`
	Done          bool       `gorm:"not null;default:false;index" json:"done"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// EventType is a milestone code the harness can emit.
type EventType struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Code int    `gorm:"type:smallint;uniqueIndex;not null" json:"code"`
	Name string `gorm:"size:128;not null" json:"name"`
}

// RunEvent records when a run reached a milestone. A run has at most one
// row per event type.
type RunEvent struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	RunID       uint      `gorm:"not null;uniqueIndex:idx_run_events_run_type" json:"run_id"`
	EventTypeID uint      `gorm:"not null;uniqueIndex:idx_run_events_run_type" json:"event_type_id"`
	EventType   EventType `json:"event_type"`
	EventTime   time.Time `gorm:"not null" json:"event_time"`
	CreatedAt   time.Time `json:"created_at"`
}

// CheckCode is a legal check_status value.
type CheckCode struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Code        int    `gorm:"type:smallint;uniqueIndex;not null" json:"code"`
	Description string `gorm:"size:255;not null" json:"description"`
}

// FailureAnnotation is an operator note explaining why a run failed.
type FailureAnnotation struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RunID     uint      `gorm:"not null;index" json:"run_id"`
	Category  string    `gorm:"size:64;not null" json:"category"`
	Note      string    `gorm:"type:text" json:"note"`
	Author    string    `gorm:"size:128;not null" json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Application string
	Test        string
	System      string
	Done        *bool
	Offset      int
	Limit       int
}

// Summary holds table counts for the health view.
type Summary struct {
	Runs        int64 `json:"runs"`
	OpenRuns    int64 `json:"open_runs"`
	RunEvents   int64 `json:"run_events"`
	EventTypes  int64 `json:"event_types"`
	CheckCodes  int64 `json:"check_codes"`
	Annotations int64 `json:"annotations"`
}
