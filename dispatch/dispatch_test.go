package dispatch

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jcoop32/applied/agent"
	"github.com/jcoop32/applied/cmd/flags"
	"github.com/jcoop32/applied/database/models"
	"github.com/jcoop32/applied/database/tasks"
)

func TestMain(m *testing.M) {
	f, err := os.CreateTemp("", "applied-dispatch-*.db")
	if err != nil {
		panic(err)
	}
	f.Close()
	flags.DatabaseType = "sqlite"
	flags.DatabaseFile = f.Name()
	code := m.Run()
	os.Remove(f.Name())
	os.Exit(code)
}

// fakeAutomation is a scriptable agent.Automation for executor tests.
type fakeAutomation struct {
	result    map[string]interface{}
	err       error
	panicWith interface{}
	// block, when set, parks the run until the channel is closed or the
	// task context is cancelled.
	block chan struct{}
	// ignoreCtx makes the blocked run deaf to cancellation, like a wedged
	// browser session.
	ignoreCtx bool
	// started receives the task id as soon as a run enters the agent.
	started chan string
}

func (f *fakeAutomation) Run(ctx context.Context, spec agent.TaskSpec, progress func(string)) (map[string]interface{}, error) {
	if f.started != nil {
		f.started <- spec.TaskID
	}
	progress("agent step")
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	if f.block != nil {
		if f.ignoreCtx {
			<-f.block
		} else {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-f.block:
			}
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func validResearchResult() map[string]interface{} {
	return map[string]interface{}{
		"leads": []interface{}{
			map[string]interface{}{"url": "https://jobs.example.com/1", "title": "Backend Engineer"},
		},
	}
}

func newSubject() string {
	return "resume-" + uuid.NewString() + ".pdf"
}

// waitForStatus polls the record store until the task reaches the wanted
// status or the deadline passes.
func waitForStatus(t *testing.T, taskID string, want models.TaskStatus) *models.Task {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		task, err := tasks.GetByID(taskID)
		if err == nil && task.Status == want {
			return task
		}
		time.Sleep(10 * time.Millisecond)
	}
	task, err := tasks.GetByID(taskID)
	if err != nil {
		t.Fatalf("task %s never reached %s: %v", taskID, want, err)
	}
	t.Fatalf("task %s never reached %s, still %s", taskID, want, task.Status)
	return nil
}
