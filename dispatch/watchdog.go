package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/jcoop32/applied/database/models"
	"github.com/jcoop32/applied/database/tasks"
	"github.com/jcoop32/applied/stream"
	"github.com/sirupsen/logrus"
)

// Watchdog periodically force-fails tasks stuck RUNNING past their per-kind
// deadline, so a crashed executor can never strand a task. It races fairly
// against late completion callbacks: both sides go through conditional
// status updates and whichever write lands first stands.
type Watchdog struct {
	Interval time.Duration
	MaxRun   map[models.TaskKind]time.Duration
	pool     *LocalPool
}

func NewWatchdog(pool *LocalPool, interval, researchMax, applyMax time.Duration) *Watchdog {
	return &Watchdog{
		Interval: interval,
		MaxRun: map[models.TaskKind]time.Duration{
			models.KindResearch: researchMax,
			models.KindApply:    applyMax,
		},
		pool: pool,
	}
}

// Run sweeps until ctx is done. Meant to be an actor in the server's run
// group.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// Sweep force-fails every task RUNNING past its deadline.
func (w *Watchdog) Sweep() {
	now := time.Now()
	for kind, max := range w.MaxRun {
		stale, err := tasks.StaleRunning(kind, now.Add(-max))
		if err != nil {
			logrus.WithError(err).Error("watchdog scan failed")
			continue
		}
		for _, task := range stale {
			detail := fmt.Sprintf("watchdog: task exceeded max run time of %s", max)
			ok, err := tasks.Fail(task.ID, models.ErrKindTimeout,
				"The task took too long and was stopped. Please retry.", detail)
			if err != nil {
				logrus.WithField("task_id", task.ID).WithError(err).Error("watchdog failed to settle task")
				continue
			}
			if ok {
				// A swept LOCAL task must also give its pool slot back:
				// a wedged automation agent would otherwise hold it
				// forever and shrink the pool one sweep at a time.
				if task.Target == models.TargetLocal && w.pool != nil {
					w.pool.Expire(task.ID)
				}
				stream.PublishStatus(task.ID, models.StatusFailed)
				logrus.WithFields(logrus.Fields{
					"task_id": task.ID,
					"kind":    task.Kind,
					"max_run": max,
				}).Warn("task force-failed by watchdog")
			}
		}
	}
}
