package dispatch

import (
	"strings"
	"time"

	"github.com/jcoop32/applied/database/models"
	cache "github.com/patrickmn/go-cache"
)

// ParseTarget maps a caller-supplied mode string onto an execution target.
func ParseTarget(mode string) (models.ExecutionTarget, bool) {
	switch strings.ToUpper(strings.TrimSpace(mode)) {
	case "":
		return "", true
	case "LOCAL":
		return models.TargetLocal, true
	case "REMOTE_RUNNER", "RUNNER":
		return models.TargetRemoteRunner, true
	case "REMOTE_ACTIONS", "ACTIONS", "GHA":
		return models.TargetRemoteActions, true
	default:
		return "", false
	}
}

// probeTTL bounds how long a reachability verdict is trusted. Probes are
// cheap (configuration presence checks) but run on every dispatch, so they
// are cached briefly.
const probeTTL = 30 * time.Second

var probeCache = cache.New(probeTTL, time.Minute)

// reachable reports whether a target's prerequisites are present. LOCAL is
// always reachable in the probe sense; its capacity check happens at slot
// reservation.
func (r *Router) reachable(target models.ExecutionTarget) bool {
	if target == models.TargetLocal {
		return true
	}
	if v, ok := probeCache.Get(string(target)); ok {
		return v.(bool)
	}
	var ok bool
	switch target {
	case models.TargetRemoteRunner:
		ok = r.runner != nil && r.runner.Configured()
	case models.TargetRemoteActions:
		ok = r.actions != nil && r.actions.Configured()
	}
	probeCache.Set(string(target), ok, cache.DefaultExpiration)
	return ok
}
