package stream

import (
	"sync"

	"github.com/jcoop32/applied/database/models"
)

// Detector turns a sequence of observed statuses into transition edges.
// Observers that only see periodic snapshots (a polling client, or the hub
// receiving a redelivered terminal callback) must fire "task just became
// COMPLETED" side effects on the edge, not on every observation while the
// status stays the same.
type Detector struct {
	mu   sync.Mutex
	last map[string]models.TaskStatus
}

func NewDetector() *Detector {
	return &Detector{last: make(map[string]models.TaskStatus)}
}

// Observe records the latest status for a task and reports whether it
// differs from the previously observed one. The first observation of a task
// always counts as a transition.
func (d *Detector) Observe(taskID string, status models.TaskStatus) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev, seen := d.last[taskID]
	d.last[taskID] = status
	return !seen || prev != status
}

// Forget drops the tracked state for a task.
func (d *Detector) Forget(taskID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.last, taskID)
}
