package worker

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jcoop32/applied/agent"
	"github.com/jcoop32/applied/api"
	"github.com/jcoop32/applied/database/models"
	"github.com/jcoop32/applied/dispatch"
	"github.com/sirupsen/logrus"
)

type Handlers struct {
	pool *dispatch.LocalPool
}

func NewHandlers(pool *dispatch.LocalPool) *Handlers {
	return &Handlers{pool: pool}
}

// Task lets this process act as a remote runner: it accepts a
// self-contained task payload from a dispatching service, executes it in
// the local pool and reports progress back over the payload's callback URL.
// A retransmitted start call for a task id already accepted is rejected, so
// a dispatcher retry can never run a side-effecting task twice.
func (h *Handlers) Task(c *gin.Context) {
	var spec agent.TaskSpec
	if err := c.ShouldBindJSON(&spec); err != nil || spec.TaskID == "" || spec.CallbackURL == "" {
		api.RespondError(c, http.StatusBadRequest, "Invalid or missing task payload")
		return
	}
	if !spec.Kind.Valid() {
		api.RespondError(c, http.StatusBadRequest, "Unknown task kind")
		return
	}

	// Capacity check comes first: a start turned away with 503 must stay
	// startable when the dispatcher retries it against a freed pool.
	if !h.pool.TryAcquire() {
		api.RespondError(c, http.StatusServiceUnavailable, "No capacity")
		return
	}

	if !dispatch.ClaimStart(spec.TaskID) {
		h.pool.Release()
		logrus.WithField("task_id", spec.TaskID).Warn("duplicate start call rejected")
		api.RespondError(c, http.StatusConflict, "Task already started")
		return
	}

	task := &models.Task{
		ID:         spec.TaskID,
		Kind:       spec.Kind,
		OwnerID:    spec.OwnerID,
		SubjectKey: spec.SubjectKey,
		Target:     models.TargetRemoteRunner,
		Params:     spec.Params,
	}
	reporter := dispatch.NewCallbackReporter(spec.CallbackURL, c.GetHeader("X-Worker-Secret"))
	go h.pool.Run(task, reporter)

	api.Respond(c, http.StatusAccepted, "success", "Task accepted", gin.H{"task_id": spec.TaskID})
}

// Cancel flags a task running in this runner's pool for cooperative
// cancellation. 200 with acknowledged=true only if the task is actually
// here; the dispatcher treats anything else as "not acknowledged".
func (h *Handlers) Cancel(c *gin.Context) {
	var req struct {
		TaskID string `json:"task_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondError(c, http.StatusBadRequest, "Invalid or missing request body")
		return
	}
	if !h.pool.Cancel(req.TaskID) {
		api.RespondError(c, http.StatusNotFound, "Task not running here")
		return
	}
	api.RespondSuccess(c, gin.H{"acknowledged": true})
}
