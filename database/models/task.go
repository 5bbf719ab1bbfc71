package models

import (
	"time"
)

type TaskKind string

const (
	KindResearch TaskKind = "RESEARCH"
	KindApply    TaskKind = "APPLY"
)

func (k TaskKind) Valid() bool {
	return k == KindResearch || k == KindApply
}

type TaskStatus string

const (
	StatusQueued    TaskStatus = "QUEUED"
	StatusRunning   TaskStatus = "RUNNING"
	StatusCompleted TaskStatus = "COMPLETED"
	StatusFailed    TaskStatus = "FAILED"
	StatusCancelled TaskStatus = "CANCELLED"
)

// Terminal reports whether no further status or log writes are accepted.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type ExecutionTarget string

const (
	TargetLocal         ExecutionTarget = "LOCAL"
	TargetRemoteRunner  ExecutionTarget = "REMOTE_RUNNER"
	TargetRemoteActions ExecutionTarget = "REMOTE_ACTIONS"
)

func (t ExecutionTarget) Valid() bool {
	return t == TargetLocal || t == TargetRemoteRunner || t == TargetRemoteActions
}

// Error kinds recorded on FAILED tasks. TIMEOUT is set by the watchdog,
// the others by whichever executor owned the task.
const (
	ErrKindAutomation = "AUTOMATION_FAILURE"
	ErrKindDispatch   = "DISPATCH_ERROR"
	ErrKindTimeout    = "TIMEOUT"
)

// LogTailLimit bounds the persisted log tail per task.
const LogTailLimit = 50

// Task is one unit of dispatched automation work: a research sweep over a
// resume, or an application to a single lead.
//
// Active mirrors the status: true while QUEUED/RUNNING, NULL once terminal.
// Combined with the unique index over (kind, owner_id, subject_key, active)
// the database itself rejects a second live task for the same subject, even
// when two dispatch calls race. NULLs never collide in sqlite or mysql
// unique indexes, so terminal tasks accumulate freely.
type Task struct {
	ID         string          `json:"task_id" gorm:"type:varchar(36);primaryKey"`
	Kind       TaskKind        `json:"kind" gorm:"type:varchar(16);not null;uniqueIndex:idx_tasks_subject_active"`
	OwnerID    string          `json:"owner_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_tasks_subject_active;index:idx_tasks_owner"`
	SubjectKey string          `json:"subject_key" gorm:"type:varchar(255);not null;uniqueIndex:idx_tasks_subject_active"`
	Status     TaskStatus      `json:"status" gorm:"type:varchar(16);not null;index"`
	Target     ExecutionTarget `json:"execution_target" gorm:"column:execution_target;type:varchar(32);default:''"`
	Active     *bool           `json:"-" gorm:"uniqueIndex:idx_tasks_subject_active"`

	Params  JSONMap     `json:"params,omitempty" gorm:"type:longtext"`
	LogTail StringArray `json:"log_tail" gorm:"type:longtext"`
	Result  JSONMap     `json:"result,omitempty" gorm:"type:longtext"`

	ErrorKind    string `json:"error_kind,omitempty" gorm:"type:varchar(32)"`
	ErrorMessage string `json:"error,omitempty" gorm:"type:text"`
	// ErrorDetail holds stack traces and raw remote error bodies. Operator
	// only, never serialized into API responses.
	ErrorDetail string `json:"-" gorm:"type:longtext"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
