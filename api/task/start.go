package task

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jcoop32/applied/agent"
	"github.com/jcoop32/applied/api"
	"github.com/jcoop32/applied/database/models"
	"github.com/jcoop32/applied/dispatch"
)

type startRequest struct {
	Kind       models.TaskKind `json:"kind" binding:"required"`
	SubjectKey string          `json:"subject_key" binding:"required"`
	Mode       string          `json:"mode"`
	Params     models.JSONMap  `json:"params"`
}

// Start creates and dispatches a task. It acknowledges as soon as the
// QUEUED record exists; progress is observed via status queries or the
// stream endpoint.
func (h *Handlers) Start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		api.RespondError(c, http.StatusBadRequest, "Invalid or missing request body: "+err.Error())
		return
	}

	params := req.Params
	if req.Kind == models.KindResearch {
		if params == nil {
			params = models.JSONMap{}
		}
		limit := 20
		if v, ok := params["limit"].(float64); ok {
			limit = int(v)
		}
		params["limit"] = agent.ClampLimit(limit)
	}

	task, err := h.router.Dispatch(dispatch.Request{
		Kind:       req.Kind,
		OwnerID:    api.OwnerID(c),
		SubjectKey: req.SubjectKey,
		Mode:       req.Mode,
		Params:     params,
	})
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrInvalidRequest):
			api.RespondError(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, dispatch.ErrConflictingTaskActive):
			api.RespondError(c, http.StatusConflict, "A task for this subject is already running")
		case errors.Is(err, dispatch.ErrTargetUnreachable):
			api.RespondError(c, http.StatusBadRequest, err.Error())
		case errors.Is(err, dispatch.ErrNoCapacity):
			api.RespondError(c, http.StatusServiceUnavailable, "All local workers are busy, try again shortly")
		default:
			api.RespondError(c, http.StatusInternalServerError, "Failed to dispatch task: "+err.Error())
		}
		return
	}

	api.RespondSuccess(c, gin.H{
		"task_id":          task.ID,
		"execution_target": task.Target,
		"status":           task.Status,
	})
}
