package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jcoop32/applied/database/models"
	"github.com/jcoop32/applied/database/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelRemoteRunningWithoutAck(t *testing.T) {
	// The runner does not know the task and never acknowledges.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	task, err := tasks.Create(models.KindApply, "owner-1", newSubject(), models.TargetRemoteRunner, nil)
	require.NoError(t, err)
	ok, err := tasks.Claim(task.ID)
	require.NoError(t, err)
	require.True(t, ok)

	pool := NewLocalPool(1, &fakeAutomation{})
	canceller := NewCanceller(pool, NewRunnerClient(srv.URL, "s3cret", ""))
	canceller.Grace = 500 * time.Millisecond

	acked, err := canceller.Cancel(context.Background(), task.ID)
	require.NoError(t, err)
	assert.False(t, acked)

	// Unacknowledged remote cancel must never forge a CANCELLED record;
	// the task stays RUNNING for the watchdog to bound.
	got, err := tasks.GetByID(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, got.Status)
	assert.NotNil(t, got.Active)
}

func TestCancelRemoteRunnerHangsPastGrace(t *testing.T) {
	// The runner accepts the connection but never answers inside the
	// grace period.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	task, err := tasks.Create(models.KindApply, "owner-1", newSubject(), models.TargetRemoteRunner, nil)
	require.NoError(t, err)
	ok, err := tasks.Claim(task.ID)
	require.NoError(t, err)
	require.True(t, ok)

	pool := NewLocalPool(1, &fakeAutomation{})
	canceller := NewCanceller(pool, NewRunnerClient(srv.URL, "s3cret", ""))
	canceller.Grace = 100 * time.Millisecond

	start := time.Now()
	acked, err := canceller.Cancel(context.Background(), task.ID)
	require.NoError(t, err)
	assert.False(t, acked)
	assert.Less(t, time.Since(start), 3*time.Second, "cancel must give up at the grace bound")

	got, err := tasks.GetByID(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, got.Status)
}

func TestCancelQueuedRemoteTaskNeverContactsRunner(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	task, err := tasks.Create(models.KindResearch, "owner-1", newSubject(), models.TargetRemoteRunner, nil)
	require.NoError(t, err)

	pool := NewLocalPool(1, &fakeAutomation{})
	canceller := NewCanceller(pool, NewRunnerClient(srv.URL, "s3cret", ""))

	acked, err := canceller.Cancel(context.Background(), task.ID)
	require.NoError(t, err)
	assert.True(t, acked, "queued task settles synchronously")

	got, err := tasks.GetByID(task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))
}
