package agent

import (
	"fmt"

	"github.com/jcoop32/applied/database/models"
)

// ValidateResult checks the shape of an automation result before it may be
// accepted as a completion. The model leg of the pipeline can truncate or
// garble its output; a malformed result is a failure, never a completion
// with corrupt data.
func ValidateResult(kind models.TaskKind, result map[string]interface{}) error {
	if result == nil {
		return fmt.Errorf("automation returned no result")
	}
	switch kind {
	case models.KindResearch:
		return validateResearch(result)
	case models.KindApply:
		return validateApply(result)
	default:
		return fmt.Errorf("unknown task kind %q", kind)
	}
}

// A research result is {"leads": [{"url": ..., "title": ...}, ...]}. An
// empty list is a legitimate "no matches" outcome; a lead missing its URL
// or title is the signature of a truncated model response.
func validateResearch(result map[string]interface{}) error {
	raw, ok := result["leads"]
	if !ok {
		return fmt.Errorf("research result has no leads field")
	}
	leads, ok := raw.([]interface{})
	if !ok {
		return fmt.Errorf("research leads is not a list")
	}
	for i, entry := range leads {
		lead, ok := entry.(map[string]interface{})
		if !ok {
			return fmt.Errorf("lead %d is not an object", i)
		}
		if s, _ := lead["url"].(string); s == "" {
			return fmt.Errorf("lead %d has no url", i)
		}
		if s, _ := lead["title"].(string); s == "" {
			return fmt.Errorf("lead %d has no title", i)
		}
	}
	return nil
}

// An apply result is {"outcome": "...", ...} where outcome is a non-empty
// string describing what happened to the submission.
func validateApply(result map[string]interface{}) error {
	if s, _ := result["outcome"].(string); s == "" {
		return fmt.Errorf("apply result has no outcome field")
	}
	return nil
}
