package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/jcoop32/applied/agent"
	"github.com/jcoop32/applied/database/models"
	"github.com/jcoop32/applied/utils"
	"github.com/sirupsen/logrus"
)

// userFailureMessage is what a failed task shows the end user. Stack traces
// and raw agent errors stay in ErrorDetail for operators.
const userFailureMessage = "The automation agent could not finish this task. Please retry."

// LocalPool runs automation tasks inside this process under a bounded
// concurrency ceiling, so a burst of requests cannot oversubscribe the
// host's browser capacity.
type LocalPool struct {
	sem        chan struct{}
	automation agent.Automation
	runs       *utils.SafeMap[string, *localRun]
}

// localRun tracks one in-flight task: its cancel handle, plus a once guard
// so the slot is given back exactly once whether the worker returns on its
// own or the watchdog reclaims it.
type localRun struct {
	cancel  context.CancelFunc
	release sync.Once
}

func NewLocalPool(size int, automation agent.Automation) *LocalPool {
	if size < 1 {
		size = 1
	}
	return &LocalPool{
		sem:        make(chan struct{}, size),
		automation: automation,
		runs:       utils.NewSafeMap[string, *localRun](),
	}
}

// TryAcquire reserves a pool slot without blocking. The router reserves
// before creating the task record so saturation never leaves an orphaned
// QUEUED row.
func (p *LocalPool) TryAcquire() bool {
	select {
	case p.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (p *LocalPool) Release() {
	<-p.sem
}

func (p *LocalPool) releaseRun(run *localRun) {
	run.release.Do(func() { <-p.sem })
}

// Free reports the number of unreserved slots.
func (p *LocalPool) Free() int {
	return cap(p.sem) - len(p.sem)
}

// Cancel requests cooperative cancellation of a task running in this pool.
// The worker notices at its next progress-step boundary; an in-flight
// automation step completes first.
func (p *LocalPool) Cancel(taskID string) bool {
	run, ok := p.runs.Get(taskID)
	if ok {
		run.cancel()
	}
	return ok
}

// Expire reclaims the slot of a task the watchdog has already force-failed.
// The context is cancelled as for Cancel, but the slot comes back
// immediately: an automation agent that ignores its context must not starve
// the pool, and any write the abandoned worker eventually attempts lands
// against a terminal record and is dropped.
func (p *LocalPool) Expire(taskID string) bool {
	run, ok := p.runs.Get(taskID)
	if !ok {
		return false
	}
	run.cancel()
	p.releaseRun(run)
	return true
}

// Run executes one task to a terminal state. The caller must already hold a
// pool slot (see TryAcquire); Run releases it. Status lives in the reporter,
// not in a return value.
func (p *LocalPool) Run(task *models.Task, rep Reporter) {
	log := logrus.WithFields(logrus.Fields{
		"task_id": task.ID,
		"kind":    task.Kind,
		"target":  task.Target,
	})

	ctx, cancel := context.WithCancel(context.Background())
	run := &localRun{cancel: cancel}
	p.runs.Set(task.ID, run)
	defer p.runs.Delete(task.ID)
	defer p.releaseRun(run)
	defer cancel()

	claimed, err := rep.Claim(task.ID)
	if err != nil {
		log.WithError(err).Error("failed to claim task")
		return
	}
	if !claimed {
		// Cancelled (or otherwise settled) before we got to it.
		log.Info("task no longer claimable, skipping")
		return
	}
	log.Info("task claimed by local worker")

	result, err := p.execute(ctx, task, rep)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			if ok, cerr := rep.Cancelled(task.ID); cerr != nil {
				log.WithError(cerr).Error("failed to record cancellation")
			} else if ok {
				log.Info("task cancelled at step boundary")
			}
			return
		}
		detail := fmt.Sprintf("%+v", err)
		var pe *panicError
		if errors.As(err, &pe) {
			detail = pe.detail()
		}
		if ferr := rep.Fail(task.ID, models.ErrKindAutomation, userFailureMessage, detail); ferr != nil {
			log.WithError(ferr).Error("failed to record task failure")
		}
		log.WithError(err).Warn("task failed")
		return
	}

	if verr := agent.ValidateResult(task.Kind, result); verr != nil {
		// A truncated or malformed payload must not become a completion.
		detail := fmt.Sprintf("result validation: %v\nresult: %v", verr, result)
		if ferr := rep.Fail(task.ID, models.ErrKindAutomation, userFailureMessage, detail); ferr != nil {
			log.WithError(ferr).Error("failed to record task failure")
		}
		log.WithError(verr).Warn("automation returned malformed result")
		return
	}

	if cerr := rep.Complete(task.ID, result); cerr != nil {
		log.WithError(cerr).Error("failed to record task completion")
		return
	}
	log.Info("task completed")
}

// panicError carries a recovered panic together with its stack so the
// failure boundary can always attach a usable diagnostic, no matter how
// empty the upstream error was.
type panicError struct {
	value interface{}
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("automation panicked: %v", e.value)
}

func (e *panicError) detail() string {
	return fmt.Sprintf("panic: %v\n%s", e.value, e.stack)
}

// execute is the failure boundary around the external automation agent.
// Anything it throws, including panics without a message, is converted into
// an error; it never corrupts task state.
func (p *LocalPool) execute(ctx context.Context, task *models.Task, rep Reporter) (result map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()

	progress := func(line string) {
		rep.Log(task.ID, line)
	}

	switch task.Kind {
	case models.KindResearch:
		progress(fmt.Sprintf("researching job boards for resume %s", task.SubjectKey))
	case models.KindApply:
		progress(fmt.Sprintf("preparing application for lead %s", task.SubjectKey))
	}

	spec := agent.TaskSpec{
		TaskID:     task.ID,
		Kind:       task.Kind,
		OwnerID:    task.OwnerID,
		SubjectKey: task.SubjectKey,
		Params:     task.Params,
	}
	result, err = p.automation.Run(ctx, spec, progress)
	if err != nil {
		return nil, err
	}
	// The agent may have swallowed a late cancel; the boundary check here
	// keeps "cancelled" from turning into "completed".
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return result, nil
}
