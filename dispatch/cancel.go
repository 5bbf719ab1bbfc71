package dispatch

import (
	"context"
	"time"

	"github.com/jcoop32/applied/database/models"
	"github.com/jcoop32/applied/database/tasks"
	"github.com/jcoop32/applied/stream"
	"github.com/sirupsen/logrus"
)

// Canceller propagates a user-issued cancel to whichever executor owns the
// task.
type Canceller struct {
	pool   *LocalPool
	runner *RunnerClient
	// Grace bounds how long a remote cancel waits for an acknowledgment.
	// Past it the task is left RUNNING for the watchdog: the record must
	// never say CANCELLED while the remote side might still be submitting
	// a real application.
	Grace time.Duration
}

func NewCanceller(pool *LocalPool, runner *RunnerClient) *Canceller {
	return &Canceller{
		pool:   pool,
		runner: runner,
		Grace:  10 * time.Second,
	}
}

// Cancel returns whether the cancellation was acknowledged. QUEUED tasks
// are settled atomically; RUNNING local tasks are flagged and settle at the
// worker's next step boundary; RUNNING remote tasks are asked best-effort.
func (c *Canceller) Cancel(ctx context.Context, taskID string) (bool, error) {
	task, err := tasks.GetByID(taskID)
	if err != nil {
		return false, err
	}
	log := logrus.WithFields(logrus.Fields{"task_id": taskID, "status": task.Status})

	if task.Status.Terminal() {
		return false, nil
	}

	if task.Status == models.StatusQueued {
		ok, err := tasks.CancelQueued(taskID)
		if err != nil {
			return false, err
		}
		if ok {
			stream.PublishStatus(taskID, models.StatusCancelled)
			log.Info("queued task cancelled")
			return true, nil
		}
		// Lost the race against a claim; fall through on the fresh state.
		task, err = tasks.GetByID(taskID)
		if err != nil || task.Status != models.StatusRunning {
			return false, err
		}
	}

	switch task.Target {
	case models.TargetLocal:
		if c.pool.Cancel(taskID) {
			log.Info("cancellation flagged for local worker")
			return true, nil
		}
		return false, nil
	case models.TargetRemoteRunner:
		cctx, cancel := context.WithTimeout(ctx, c.Grace)
		defer cancel()
		acked, err := c.runner.CancelTask(cctx, taskID)
		if err != nil || !acked {
			// No acknowledgment inside the grace period: leave the task
			// RUNNING and let the watchdog bound it.
			log.WithError(err).Warn("remote cancel not acknowledged")
			return false, nil
		}
		log.Info("remote cancel acknowledged")
		return true, nil
	default:
		// REMOTE_ACTIONS has no per-task cancel channel; the watchdog
		// bounds the task instead.
		log.Info("target has no cancel channel")
		return false, nil
	}
}
