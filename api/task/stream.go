package task

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jcoop32/applied/api"
	"github.com/jcoop32/applied/database/tasks"
	"github.com/jcoop32/applied/stream"
	"github.com/jcoop32/applied/ws"
	"gorm.io/gorm"
)

const streamWriteWait = 10 * time.Second

// Stream upgrades to a websocket and pushes the task's events: first a
// bounded backlog replayed from the persisted log tail, then live events
// until the task reaches a terminal state or either side disconnects.
func (h *Handlers) Stream(c *gin.Context) {
	taskID := c.Param("task_id")

	// Subscribe before reading the snapshot: a transition published in
	// between would otherwise be dropped (the hub does not buffer for
	// absent subscribers), leaving the client waiting on a terminal event
	// that already happened. An event that lands in both the snapshot and
	// the channel is only a duplicate, and delivery is at-least-once.
	sub := stream.Subscribe(taskID)
	defer sub.Close()

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

	unsafeConn, err := ws.UpgradeRequest(c, func(r *http.Request) bool { return true })
	if err != nil {
		api.RespondError(c, http.StatusBadRequest, "Require WebSocket upgrade")
		return
	}
	conn := ws.NewSafeConn(unsafeConn)
	defer conn.Close()

	// Reader goroutine: the client never sends meaningful data, but a read
	// loop is how a dropped peer is detected.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Backlog: current status plus the persisted tail.
	now := time.Now()
	replay := []stream.Event{{Type: stream.EventStatus, TaskID: taskID, Status: task.Status, At: now}}
	for _, line := range task.LogTail {
		replay = append(replay, stream.Event{Type: stream.EventLog, TaskID: taskID, Line: line, At: now})
	}
	if task.Status.Terminal() {
		replay = append(replay, stream.Event{Type: stream.EventTerminal, TaskID: taskID, Status: task.Status, At: now})
	}
	for _, ev := range replay {
		if err := writeEvent(conn, ev); err != nil {
			return
		}
	}
	if task.Status.Terminal() {
		return
	}

	for {
		select {
		case <-done:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				return
			}
			if ev.Type == stream.EventTerminal {
				return
			}
		}
	}
}

func writeEvent(conn *ws.SafeConn, ev stream.Event) error {
	deadline := time.Now().Add(streamWriteWait)
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return conn.WriteJSON(ev)
}
