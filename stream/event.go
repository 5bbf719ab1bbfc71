package stream

import (
	"time"

	"github.com/jcoop32/applied/database/models"
)

type EventType string

const (
	// EventStatus announces a status transition.
	EventStatus EventType = "status"
	// EventLog carries one appended log line.
	EventLog EventType = "log"
	// EventTerminal is emitted exactly once, after the first terminal
	// status event for a task. Subscribers use it to stop reading.
	EventTerminal EventType = "terminal"
)

type Event struct {
	Type   EventType         `json:"type"`
	TaskID string            `json:"task_id"`
	Status models.TaskStatus `json:"status,omitempty"`
	Line   string            `json:"line,omitempty"`
	At     time.Time         `json:"at"`
}
