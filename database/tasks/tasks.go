// Package tasks is the task record store: the single source of truth for a
// task's identity, status and log tail. Every status mutation is a
// conditional UPDATE keyed on the current status, so a write that lost a
// race against a terminal transition simply affects zero rows and is
// reported as unchanged. Callers treat changed=false as a silent no-op.
package tasks

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jcoop32/applied/database/dbcore"
	"github.com/jcoop32/applied/database/models"
	"gorm.io/gorm"
)

// ErrConflictingTaskActive means the subject already has a QUEUED or RUNNING
// task for the same owner and kind.
var ErrConflictingTaskActive = errors.New("a task for this subject is already active")

func active() *bool {
	b := true
	return &b
}

// Create inserts a new QUEUED task. The execution target is recorded at
// dispatch time and never changed afterward. The unique index over
// (kind, owner_id, subject_key, active) turns a concurrent duplicate into a
// duplicate-key error, which is surfaced as ErrConflictingTaskActive.
func Create(kind models.TaskKind, ownerID, subjectKey string, target models.ExecutionTarget, params models.JSONMap) (*models.Task, error) {
	task := models.Task{
		ID:         uuid.NewString(),
		Kind:       kind,
		OwnerID:    ownerID,
		SubjectKey: subjectKey,
		Status:     models.StatusQueued,
		Target:     target,
		Active:     active(),
		Params:     params,
		LogTail:    models.StringArray{},
	}
	if err := dbcore.GetDBInstance().Create(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrConflictingTaskActive
		}
		return nil, err
	}
	return &task, nil
}

// Claim moves a task from QUEUED to RUNNING. Returns false if the task was
// already claimed, cancelled or otherwise no longer QUEUED.
func Claim(id string) (bool, error) {
	now := time.Now()
	res := dbcore.GetDBInstance().Model(&models.Task{}).
		Where("id = ? AND status = ?", id, models.StatusQueued).
		Updates(map[string]interface{}{
			"status":     models.StatusRunning,
			"started_at": now,
		})
	return res.RowsAffected == 1, res.Error
}

// AppendLog appends a line to the bounded log tail of a RUNNING task.
// Writes against a task in any other state are dropped.
func AppendLog(id, line string) (bool, error) {
	changed := false
	err := dbcore.GetDBInstance().Transaction(func(tx *gorm.DB) error {
		var task models.Task
		if err := tx.Where("id = ? AND status = ?", id, models.StatusRunning).First(&task).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		tail := append(task.LogTail, line)
		if len(tail) > models.LogTailLimit {
			tail = tail[len(tail)-models.LogTailLimit:]
		}
		res := tx.Model(&models.Task{}).
			Where("id = ? AND status = ?", id, models.StatusRunning).
			Update("log_tail", tail)
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected == 1
		return nil
	})
	return changed, err
}

// Complete moves a RUNNING task to COMPLETED and stores its result.
func Complete(id string, result models.JSONMap) (bool, error) {
	res := dbcore.GetDBInstance().Model(&models.Task{}).
		Where("id = ? AND status = ?", id, models.StatusRunning).
		Updates(map[string]interface{}{
			"status": models.StatusCompleted,
			"result": result,
			"active": nil,
		})
	return res.RowsAffected == 1, res.Error
}

// Fail moves a QUEUED or RUNNING task to FAILED. The message is user-facing,
// the detail is kept server-side only.
func Fail(id, errKind, message, detail string) (bool, error) {
	res := dbcore.GetDBInstance().Model(&models.Task{}).
		Where("id = ? AND status IN ?", id, []models.TaskStatus{models.StatusQueued, models.StatusRunning}).
		Updates(map[string]interface{}{
			"status":        models.StatusFailed,
			"error_kind":    errKind,
			"error_message": message,
			"error_detail":  detail,
			"active":        nil,
		})
	return res.RowsAffected == 1, res.Error
}

// CancelQueued cancels a task that has not been claimed yet.
func CancelQueued(id string) (bool, error) {
	res := dbcore.GetDBInstance().Model(&models.Task{}).
		Where("id = ? AND status = ?", id, models.StatusQueued).
		Updates(map[string]interface{}{
			"status": models.StatusCancelled,
			"active": nil,
		})
	return res.RowsAffected == 1, res.Error
}

// CancelRunning records an acknowledged cancellation of a RUNNING task.
func CancelRunning(id string) (bool, error) {
	res := dbcore.GetDBInstance().Model(&models.Task{}).
		Where("id = ? AND status = ?", id, models.StatusRunning).
		Updates(map[string]interface{}{
			"status": models.StatusCancelled,
			"active": nil,
		})
	return res.RowsAffected == 1, res.Error
}

func GetByID(id string) (*models.Task, error) {
	var task models.Task
	if err := dbcore.GetDBInstance().Where("id = ?", id).First(&task).Error; err != nil {
		return nil, err
	}
	return &task, nil
}

// GetBySubject returns the most recent task for an owner's subject, or nil
// if the subject has never been dispatched.
func GetBySubject(ownerID string, kind models.TaskKind, subjectKey string) (*models.Task, error) {
	var task models.Task
	err := dbcore.GetDBInstance().
		Where("owner_id = ? AND kind = ? AND subject_key = ?", ownerID, kind, subjectKey).
		Order("created_at DESC").
		First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func ListByOwner(ownerID string) ([]models.Task, error) {
	var list []models.Task
	err := dbcore.GetDBInstance().
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&list).Error
	return list, err
}

// StaleRunning returns tasks of a kind that have been RUNNING since before
// the cutoff. Used by the watchdog sweep.
func StaleRunning(kind models.TaskKind, cutoff time.Time) ([]models.Task, error) {
	var list []models.Task
	err := dbcore.GetDBInstance().
		Where("kind = ? AND status = ? AND started_at < ?", kind, models.StatusRunning, cutoff).
		Find(&list).Error
	return list, err
}
