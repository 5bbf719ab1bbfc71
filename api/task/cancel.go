package task

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jcoop32/applied/api"
	"github.com/jcoop32/applied/database/tasks"
	"gorm.io/gorm"
)

// Cancel requests cancellation of one of the owner's tasks. The response
// reports whether the cancellation was acknowledged; an unacknowledged
// remote task stays RUNNING until its watchdog deadline.
func (h *Handlers) Cancel(c *gin.Context) {
	taskID := c.Param("task_id")
	if taskID == "" {
		api.RespondError(c, http.StatusBadRequest, "Task ID is required")
		return
	}
	task, err := tasks.GetByID(taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			api.RespondError(c, http.StatusNotFound, "Task not found")
			return
		}
		api.RespondError(c, http.StatusInternalServerError, "Failed to retrieve task: "+err.Error())
		return
	}
	if task.OwnerID != api.OwnerID(c) {
		api.RespondError(c, http.StatusNotFound, "Task not found")
		return
	}

	acked, err := h.canceller.Cancel(c.Request.Context(), taskID)
	if err != nil {
		api.RespondError(c, http.StatusInternalServerError, "Failed to cancel task: "+err.Error())
		return
	}
	api.RespondSuccess(c, gin.H{"acknowledged": acked})
}
