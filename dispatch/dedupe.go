package dispatch

import (
	"time"

	cache "github.com/patrickmn/go-cache"
)

// A dispatcher that lost the response to its start call may eventually
// resend it. Remembering accepted task ids lets the runner reject the
// duplicate instead of executing a side-effecting task twice. A day of
// memory comfortably outlives any watchdog bound.
var startedTasks = cache.New(24*time.Hour, time.Hour)

// ClaimStart records a task id as accepted for execution and reports
// whether this was the first start request for it.
func ClaimStart(taskID string) bool {
	return startedTasks.Add(taskID, struct{}{}, cache.DefaultExpiration) == nil
}
