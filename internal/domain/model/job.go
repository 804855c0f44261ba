package model

import (
	"strings"
	"time"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// MaxErrorMessageLen bounds JobRecord.ErrorMessage (in runes).
const MaxErrorMessageLen = 2000

// IsActive reports whether the status still holds the single-flight slot.
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusRunning
}

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

func (s JobStatus) Valid() bool {
	return s.IsActive() || s.IsTerminal()
}

// ParseJobStatus accepts any casing; an empty string yields "" and ok=true.
func ParseJobStatus(s string) (JobStatus, bool) {
	st := JobStatus(strings.ToLower(strings.TrimSpace(s)))
	if st == "" {
		return "", true
	}
	return st, st.Valid()
}

// JobRecord is one execution attempt of a job type.
type JobRecord struct {
	ID              string         `json:"id"`
	JobType         string         `json:"job_type"`
	BackendTaskRef  string         `json:"backend_task_ref"`
	Status          JobStatus      `json:"status"`
	ProgressCurrent int            `json:"progress_current"`
	ProgressTotal   int            `json:"progress_total"`
	ProgressDetail  string         `json:"progress_detail"`
	Log             string         `json:"log"`
	Result          map[string]any `json:"result"`
	ErrorMessage    string         `json:"error_message"`
	ItemsSucceeded  int            `json:"items_succeeded"`
	ItemsFailed     int            `json:"items_failed"`
	TriggeredBy     *string        `json:"triggered_by"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	StartedAt       *time.Time     `json:"started_at"`
	CompletedAt     *time.Time     `json:"completed_at"`
}

// NewJobRecord builds a Pending record. Pending records report a total of one
// unit until the runner announces the real total.
func NewJobRecord(id, jobType string, triggeredBy *string, now time.Time) *JobRecord {
	return &JobRecord{
		ID:            id,
		JobType:       jobType,
		Status:        JobStatusPending,
		ProgressTotal: 1,
		TriggeredBy:   triggeredBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// LogLines splits the accumulated log into its lines.
func (j *JobRecord) LogLines() []string {
	if j.Log == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(j.Log, "\n"), "\n")
}

// JobUpdate is a partial write; nil fields are left untouched.
// AppendLog is appended to the log in the same write, after ClearLog.
type JobUpdate struct {
	Status          *JobStatus
	BackendTaskRef  *string
	ProgressCurrent *int
	ProgressTotal   *int
	ProgressDetail  *string
	Result          map[string]any
	ErrorMessage    *string
	ItemsSucceeded  *int
	ItemsFailed     *int
	StartedAt       *time.Time
	CompletedAt     *time.Time
	ClearLog        bool
	AppendLog       string
}

func (u JobUpdate) IsEmpty() bool {
	return u.Status == nil && u.BackendTaskRef == nil && u.ProgressCurrent == nil &&
		u.ProgressTotal == nil && u.ProgressDetail == nil && u.Result == nil &&
		u.ErrorMessage == nil && u.ItemsSucceeded == nil && u.ItemsFailed == nil &&
		u.StartedAt == nil && u.CompletedAt == nil && !u.ClearLog && u.AppendLog == ""
}

// Apply copies the update onto rec. Stores without field-level SQL use it.
func (u JobUpdate) Apply(rec *JobRecord, now time.Time) {
	if u.Status != nil {
		rec.Status = *u.Status
	}
	if u.BackendTaskRef != nil {
		rec.BackendTaskRef = *u.BackendTaskRef
	}
	if u.ProgressCurrent != nil {
		rec.ProgressCurrent = *u.ProgressCurrent
	}
	if u.ProgressTotal != nil {
		rec.ProgressTotal = *u.ProgressTotal
	}
	if u.ProgressDetail != nil {
		rec.ProgressDetail = *u.ProgressDetail
	}
	if u.Result != nil {
		rec.Result = u.Result
	}
	if u.ErrorMessage != nil {
		rec.ErrorMessage = *u.ErrorMessage
	}
	if u.ItemsSucceeded != nil {
		rec.ItemsSucceeded = *u.ItemsSucceeded
	}
	if u.ItemsFailed != nil {
		rec.ItemsFailed = *u.ItemsFailed
	}
	if u.StartedAt != nil {
		t := *u.StartedAt
		rec.StartedAt = &t
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		rec.CompletedAt = &t
	}
	if u.ClearLog {
		rec.Log = ""
	}
	if u.AppendLog != "" {
		rec.Log += u.AppendLog + "\n"
	}
	rec.UpdatedAt = now
}

// JobFilter narrows List results. Zero values mean "any".
type JobFilter struct {
	JobType string
	Status  JobStatus
	Limit   int
}

// TruncateMessage cuts s to at most max runes.
func TruncateMessage(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// Ref returns a pointer to v; handy for building JobUpdate values.
func Ref[T any](v T) *T { return &v }
