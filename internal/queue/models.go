package queue

import (
	"strings"
	"time"
)

// DetailDatasetKey is the job detail naming the dataset a job operates on.
const DetailDatasetKey = "dataset_key"

// Details is the opaque structured payload carried by a job.
type Details map[string]any

// Job is a durable unit of scheduled work.
type Job struct {
	ID            int64
	Type          string
	Details       Details
	RemoteID      string
	CreatedAt     time.Time
	Claimed       bool
	ClaimedAt     time.Time
	LastClaimedAt time.Time
	// ClaimAfter is the earliest instant the job may be claimed again.
	ClaimAfter time.Time
	// Interval is non-zero for recurring jobs.
	Interval time.Duration
	Attempts int
}

// DatasetKey returns the dataset the job operates on, if any.
func (j *Job) DatasetKey() string {
	if j == nil || j.Details == nil {
		return ""
	}
	key, _ := j.Details[DetailDatasetKey].(string)
	return strings.TrimSpace(key)
}

// Recurring reports whether the job is rescheduled instead of deleted on finish.
func (j *Job) Recurring() bool {
	return j != nil && j.Interval > 0
}

// Status represents the lifecycle of a dataset.
type Status string

const (
	StatusCreated    Status = "created"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusFinished   Status = "finished"
	StatusError      Status = "error"
)

var statusRank = map[Status]int{
	StatusCreated:    0,
	StatusQueued:     1,
	StatusProcessing: 2,
	StatusFinished:   3,
}

// AllStatuses lists dataset statuses in lifecycle order.
func AllStatuses() []Status {
	return []Status{StatusCreated, StatusQueued, StatusProcessing, StatusFinished, StatusError}
}

// ParseStatus converts a string into a Status if recognized.
func ParseStatus(value string) (Status, bool) {
	status := Status(strings.ToLower(strings.TrimSpace(value)))
	if status == StatusError {
		return status, true
	}
	_, ok := statusRank[status]
	return status, ok
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusError
}

// CanTransition reports whether a dataset may move from one status to another.
// Statuses only move forward; error is reachable from any non-finished status
// and is terminal. Re-entering the current status is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	if to == StatusError {
		return true
	}
	fromRank, okFrom := statusRank[from]
	toRank, okTo := statusRank[to]
	return okFrom && okTo && toRank > fromRank
}

// Dataset is the persistent artifact a job produces.
type Dataset struct {
	Key             string
	Type            string
	Parameters      map[string]any
	Status          Status
	StatusMessage   string
	InputPath       string
	ResultLocation  string
	RowCount        int64
	ParentKey       string
	SoftwareVersion string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	FinishedAt      time.Time
}

// SetStatus moves the dataset to status with an optional message.
func (d *Dataset) SetStatus(status Status, message string) {
	d.Status = status
	if message = strings.TrimSpace(message); message != "" {
		d.StatusMessage = message
	}
}

// SetFailed marks the dataset as errored with a human-readable message.
func (d *Dataset) SetFailed(message string) {
	d.SetStatus(StatusError, message)
}

// SetFinished records the result artifact and marks the dataset finished.
func (d *Dataset) SetFinished(location string, rows int64) {
	d.ResultLocation = location
	d.RowCount = rows
	d.SetStatus(StatusFinished, "Finished")
}

// IsTopLevel reports whether the dataset was queued directly rather than by fan-out.
func (d *Dataset) IsTopLevel() bool {
	return d.ParentKey == ""
}

// DatasetFilter narrows ListDatasets results. Zero values match everything.
type DatasetFilter struct {
	Type      string
	Statuses  []Status
	ParentKey string
	Limit     int
}

// TypeStats summarizes the jobs of a single type.
type TypeStats struct {
	Type    string
	Queued  int
	Delayed int
	Claimed int
}

// Total returns all live jobs of the type.
func (t TypeStats) Total() int {
	return t.Queued + t.Delayed + t.Claimed
}

// DatabaseHealth describes the queue database for diagnostics.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    int
	TablesPresent    []string
	MissingColumns   []string
	IntegrityCheck   bool
	TotalJobs        int
	TotalDatasets    int
	Error            string
}
