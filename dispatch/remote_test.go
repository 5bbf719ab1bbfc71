package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/jcoop32/applied/agent"
	"github.com/jcoop32/applied/database/models"
	"github.com/jcoop32/applied/database/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunnerStartIsNeverRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	task, err := tasks.Create(models.KindApply, "owner-1", newSubject(), models.TargetRemoteRunner, nil)
	require.NoError(t, err)

	runner := NewRunnerClient(srv.URL, "s3cret", "http://panel.internal/api/worker/callback")
	runner.Dispatch(task)

	// One strike: a failed side-effecting start is recorded, not resent.
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	got, err := tasks.GetByID(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, models.ErrKindDispatch, got.ErrorKind)
	assert.Contains(t, got.ErrorDetail, "500")
}

func TestRunnerPayloadIsSelfContained(t *testing.T) {
	var received agent.TaskSpec
	var secret string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/worker/task", r.URL.Path)
		secret = r.Header.Get("X-Worker-Secret")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	task, err := tasks.Create(models.KindResearch, "owner-7", newSubject(), models.TargetRemoteRunner,
		models.JSONMap{"limit": float64(10)})
	require.NoError(t, err)

	runner := NewRunnerClient(srv.URL, "s3cret", "http://panel.internal/api/worker/callback")
	runner.Dispatch(task)

	assert.Equal(t, "s3cret", secret)
	assert.Equal(t, task.ID, received.TaskID)
	assert.Equal(t, models.KindResearch, received.Kind)
	assert.Equal(t, "owner-7", received.OwnerID)
	assert.Equal(t, task.SubjectKey, received.SubjectKey)
	assert.Equal(t, "http://panel.internal/api/worker/callback", received.CallbackURL)
	assert.EqualValues(t, 10, received.Params["limit"])

	// Accepted handoff: the task stays QUEUED until the runner claims it
	// through the callback channel.
	got, err := tasks.GetByID(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, got.Status)
}

func TestRunnerCancelAcknowledgment(t *testing.T) {
	var gotTaskID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/worker/cancel", r.URL.Path)
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		gotTaskID = body["task_id"]
		if gotTaskID == "known-task" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	runner := NewRunnerClient(srv.URL, "s3cret", "")

	acked, err := runner.CancelTask(context.Background(), "known-task")
	require.NoError(t, err)
	assert.True(t, acked)
	assert.Equal(t, "known-task", gotTaskID)

	acked, err = runner.CancelTask(context.Background(), "unknown-task")
	require.NoError(t, err)
	assert.False(t, acked)
}

func TestActionsDispatchBuildsWorkflowCall(t *testing.T) {
	var path, auth string
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	actions := NewActionsClient("ghp_token", "jcoop32", "applied-agents", "http://panel.internal/api/worker/callback")
	actions.APIBase = srv.URL

	task, err := tasks.Create(models.KindApply, "owner-1", newSubject(), models.TargetRemoteActions, nil)
	require.NoError(t, err)
	actions.Dispatch(task)

	assert.Equal(t, "/repos/jcoop32/applied-agents/actions/workflows/apply_agent.yml/dispatches", path)
	assert.Equal(t, "Bearer ghp_token", auth)
	assert.Equal(t, "main", body["ref"])

	inputs, ok := body["inputs"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, string(models.KindApply), inputs["task"])

	// The workflow job gets everything it needs in one payload.
	var spec agent.TaskSpec
	require.NoError(t, json.Unmarshal([]byte(inputs["payload"].(string)), &spec))
	assert.Equal(t, task.ID, spec.TaskID)
	assert.Equal(t, "http://panel.internal/api/worker/callback", spec.CallbackURL)

	// 204 only acknowledges the dispatch; the task stays QUEUED.
	got, err := tasks.GetByID(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, got.Status)
}

func TestActionsDispatchFailureRecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	actions := NewActionsClient("bad-token", "jcoop32", "applied-agents", "")
	actions.APIBase = srv.URL

	task, err := tasks.Create(models.KindResearch, "owner-1", newSubject(), models.TargetRemoteActions, nil)
	require.NoError(t, err)
	actions.Dispatch(task)

	got, err := tasks.GetByID(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, models.ErrKindDispatch, got.ErrorKind)
	assert.Contains(t, got.ErrorDetail, "401")
}
