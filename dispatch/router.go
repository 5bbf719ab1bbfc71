package dispatch

import (
	"fmt"

	"github.com/jcoop32/applied/database/models"
	"github.com/jcoop32/applied/database/tasks"
	"github.com/jcoop32/applied/stream"
	"github.com/sirupsen/logrus"
)

// Request describes one task to dispatch.
type Request struct {
	Kind       models.TaskKind
	OwnerID    string
	SubjectKey string
	// Mode is the caller's explicit execution target, empty for "use the
	// configured default".
	Mode   string
	Params models.JSONMap
}

// Router decides where a task runs and hands it to exactly one executor.
// Dispatch returns as soon as the QUEUED record exists; execution proceeds
// out of band and is observed through the record store and the broadcaster.
type Router struct {
	pool        *LocalPool
	runner      *RunnerClient
	actions     *ActionsClient
	defaultMode models.ExecutionTarget
}

func NewRouter(pool *LocalPool, runner *RunnerClient, actions *ActionsClient, defaultMode models.ExecutionTarget) *Router {
	if defaultMode == "" {
		defaultMode = models.TargetLocal
	}
	return &Router{
		pool:        pool,
		runner:      runner,
		actions:     actions,
		defaultMode: defaultMode,
	}
}

// Dispatch validates the request, resolves the execution target, creates
// the QUEUED record and kicks off execution. Target resolution: explicit
// caller mode if reachable (unreachable is an error, never a silent
// fallback), else the configured default, else LOCAL.
func (r *Router) Dispatch(req Request) (*models.Task, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, req.Kind)
	}
	if req.OwnerID == "" || req.SubjectKey == "" {
		return nil, fmt.Errorf("%w: owner and subject are required", ErrInvalidRequest)
	}

	requested, ok := ParseTarget(req.Mode)
	if !ok {
		return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, req.Mode)
	}

	target := requested
	if target == "" {
		target = r.defaultMode
		if !r.reachable(target) {
			target = models.TargetLocal
		}
	} else if !r.reachable(target) {
		return nil, fmt.Errorf("%w: %s is not configured", ErrTargetUnreachable, target)
	}

	// Reserve the local slot before the record exists, so saturation is a
	// synchronous NoCapacity error rather than a stranded QUEUED task.
	if target == models.TargetLocal {
		if !r.pool.TryAcquire() {
			return nil, ErrNoCapacity
		}
	}

	task, err := tasks.Create(req.Kind, req.OwnerID, req.SubjectKey, target, req.Params)
	if err != nil {
		if target == models.TargetLocal {
			r.pool.Release()
		}
		return nil, err
	}
	stream.PublishStatus(task.ID, models.StatusQueued)

	logrus.WithFields(logrus.Fields{
		"task_id": task.ID,
		"kind":    task.Kind,
		"owner":   task.OwnerID,
		"target":  target,
	}).Info("task dispatched")

	switch target {
	case models.TargetLocal:
		go r.pool.Run(task, StoreReporter{})
	case models.TargetRemoteRunner:
		go r.runner.Dispatch(task)
	case models.TargetRemoteActions:
		go r.actions.Dispatch(task)
	}
	return task, nil
}
