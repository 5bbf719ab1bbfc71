// Package worker exposes the executor-to-service surface: status callbacks
// from remote executors, and the endpoints that let this process act as a
// remote runner for another instance.
package worker

import (
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gin-gonic/gin"
	"github.com/jcoop32/applied/agent"
	"github.com/jcoop32/applied/api"
	"github.com/jcoop32/applied/database/models"
	"github.com/jcoop32/applied/database/tasks"
	"github.com/jcoop32/applied/dispatch"
	"github.com/jcoop32/applied/stream"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// storeRetries bounds the retry of record-store writes on transient
// errors. Losing a terminal callback would strand the task in RUNNING
// until the watchdog fires, so a short retry is worth it.
const storeRetries = 3

func retryStore(op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	return backoff.Retry(op, backoff.WithMaxRetries(bo, storeRetries))
}

// Callback ingests one status update from a remote executor. Safe under
// retransmission: a repeated terminal status hits the terminal-state
// invariant in the store and affects nothing.
func (h *Handlers) Callback(c *gin.Context) {
	var update dispatch.StatusUpdate
	if err := c.ShouldBindJSON(&update); err != nil || update.TaskID == "" {
		api.RespondError(c, http.StatusBadRequest, "Invalid or missing request body")
		return
	}

	task, err := tasks.GetByID(update.TaskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.RespondError(c, http.StatusNotFound, "Unknown task")
			return
		}
		api.RespondError(c, http.StatusInternalServerError, "Failed to load task: "+err.Error())
		return
	}

	log := logrus.WithFields(logrus.Fields{"task_id": update.TaskID, "callback_status": update.Status})

	switch update.Status {
	case models.StatusRunning:
		err = retryStore(func() error {
			ok, cerr := tasks.Claim(update.TaskID)
			if cerr != nil {
				return cerr
			}
			if ok {
				stream.PublishStatus(update.TaskID, models.StatusRunning)
			}
			return nil
		})
		if err == nil && update.LogLine != "" {
			err = retryStore(func() error {
				ok, aerr := tasks.AppendLog(update.TaskID, update.LogLine)
				if aerr != nil {
					return aerr
				}
				if ok {
					stream.PublishLog(update.TaskID, update.LogLine)
				}
				return nil
			})
		}
	case models.StatusCompleted:
		// Remote executors validate before reporting, but a malformed
		// result must still never become a completion here.
		if verr := agent.ValidateResult(task.Kind, update.Result); verr != nil {
			log.WithError(verr).Warn("remote completion carried malformed result")
			err = retryStore(func() error {
				ok, ferr := tasks.Fail(update.TaskID, models.ErrKindAutomation,
					"The automation agent could not finish this task. Please retry.",
					"remote result validation: "+verr.Error())
				if ferr != nil {
					return ferr
				}
				if ok {
					stream.PublishStatus(update.TaskID, models.StatusFailed)
				}
				return nil
			})
			break
		}
		err = retryStore(func() error {
			ok, cerr := tasks.Complete(update.TaskID, update.Result)
			if cerr != nil {
				return cerr
			}
			if ok {
				stream.PublishStatus(update.TaskID, models.StatusCompleted)
			}
			return nil
		})
	case models.StatusFailed:
		errKind := update.ErrorKind
		if errKind == "" {
			errKind = models.ErrKindAutomation
		}
		message := update.Error
		if message == "" {
			message = "The automation agent could not finish this task. Please retry."
		}
		err = retryStore(func() error {
			ok, ferr := tasks.Fail(update.TaskID, errKind, message, update.ErrorDetail)
			if ferr != nil {
				return ferr
			}
			if ok {
				stream.PublishStatus(update.TaskID, models.StatusFailed)
			}
			return nil
		})
	case models.StatusCancelled:
		err = retryStore(func() error {
			ok, cerr := tasks.CancelRunning(update.TaskID)
			if cerr != nil {
				return cerr
			}
			if !ok {
				// Cancelled before it was ever claimed remotely.
				ok, cerr = tasks.CancelQueued(update.TaskID)
				if cerr != nil {
					return cerr
				}
			}
			if ok {
				stream.PublishStatus(update.TaskID, models.StatusCancelled)
			}
			return nil
		})
	default:
		api.RespondError(c, http.StatusBadRequest, "Unknown status")
		return
	}

	if err != nil {
		log.WithError(err).Error("failed to apply status callback")
		api.RespondError(c, http.StatusInternalServerError, "Failed to apply status update")
		return
	}
	api.RespondSuccess(c, gin.H{"accepted": true})
}
