package task

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jcoop32/applied/api"
	"github.com/jcoop32/applied/database/models"
	"github.com/jcoop32/applied/database/tasks"
)

// Status returns the latest task for the owner's subject. A subject that
// was never dispatched reports IDLE.
func (h *Handlers) Status(c *gin.Context) {
	kind := models.TaskKind(c.Query("kind"))
	subjectKey := c.Query("subject_key")
	if !kind.Valid() || subjectKey == "" {
		api.RespondError(c, http.StatusBadRequest, "kind and subject_key are required")
		return
	}

	task, err := tasks.GetBySubject(api.OwnerID(c), kind, subjectKey)
	if err != nil {
		api.RespondError(c, http.StatusInternalServerError, "Failed to retrieve task: "+err.Error())
		return
	}
	if task == nil {
		api.RespondSuccess(c, gin.H{"status": "IDLE"})
		return
	}
	api.RespondSuccess(c, task)
}

// List returns all of the owner's tasks, newest first.
func (h *Handlers) List(c *gin.Context) {
	list, err := tasks.ListByOwner(api.OwnerID(c))
	if err != nil {
		api.RespondError(c, http.StatusInternalServerError, "Failed to retrieve tasks: "+err.Error())
		return
	}
	api.RespondSuccess(c, list)
}
