// Package agent holds the ports to the external collaborators: the browser
// automation agent that drives job boards, and the model inference call that
// parses resumes and scores matches. Both are opaque capabilities consumed
// over an interface; this service never looks inside them.
package agent

import (
	"context"

	"github.com/jcoop32/applied/database/models"
)

// TaskSpec is the self-contained description of one unit of automation
// work. Remote executors resolve everything they need from this payload
// alone; there is no shared session or filesystem state with the
// dispatching process.
type TaskSpec struct {
	TaskID     string          `json:"task_id"`
	Kind       models.TaskKind `json:"kind"`
	OwnerID    string          `json:"owner_id"`
	SubjectKey string          `json:"subject_key"`
	Params     models.JSONMap  `json:"params,omitempty"`
	// CallbackURL tells a remote executor where to deliver status updates.
	CallbackURL string `json:"callback_url,omitempty"`
}

// Automation runs one automation task to completion. Implementations must
// honor ctx cancellation at step boundaries (an in-flight browser step
// finishes before the check), call progress for each discrete step, and
// return either a structured result or an error. The returned map is
// untrusted until it passes ValidateResult.
type Automation interface {
	Run(ctx context.Context, spec TaskSpec, progress func(line string)) (map[string]interface{}, error)
}

// Inferencer is the language-model call used by automation pipelines to
// parse resumes and score job matches. Output may be truncated or
// malformed; callers own shape validation.
type Inferencer interface {
	Infer(ctx context.Context, prompt string, out interface{}) error
}

// ClampLimit bounds the research lead limit to a sane window.
func ClampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > 99 {
		return 99
	}
	return limit
}
