package dispatch

import (
	"testing"
	"time"

	"github.com/jcoop32/applied/database/models"
	"github.com/jcoop32/applied/database/tasks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		mode string
		want models.ExecutionTarget
		ok   bool
	}{
		{"", "", true},
		{"local", models.TargetLocal, true},
		{"LOCAL", models.TargetLocal, true},
		{" remote_runner ", models.TargetRemoteRunner, true},
		{"runner", models.TargetRemoteRunner, true},
		{"REMOTE_ACTIONS", models.TargetRemoteActions, true},
		{"gha", models.TargetRemoteActions, true},
		{"mainframe", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseTarget(tt.mode)
		assert.Equal(t, tt.ok, ok, "mode %q", tt.mode)
		assert.Equal(t, tt.want, got, "mode %q", tt.mode)
	}
}

func TestDispatchRejectsInvalidRequests(t *testing.T) {
	router, _ := newLocalRouter(1, &fakeAutomation{result: validResearchResult()})

	_, err := router.Dispatch(Request{Kind: "PROFILE", OwnerID: "o", SubjectKey: "s"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = router.Dispatch(Request{Kind: models.KindResearch, SubjectKey: "s"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = router.Dispatch(Request{Kind: models.KindResearch, OwnerID: "o"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = router.Dispatch(Request{Kind: models.KindResearch, OwnerID: "o", SubjectKey: "s", Mode: "mainframe"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDispatchConflictReleasesSlot(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	fake := &fakeAutomation{result: validResearchResult(), block: block}
	pool := NewLocalPool(2, fake)
	router := NewRouter(pool, nil, nil, models.TargetLocal)

	subject := newSubject()
	_, err := router.Dispatch(Request{
		Kind:       models.KindResearch,
		OwnerID:    "owner-1",
		SubjectKey: subject,
	})
	require.NoError(t, err)

	_, err = router.Dispatch(Request{
		Kind:       models.KindResearch,
		OwnerID:    "owner-1",
		SubjectKey: subject,
	})
	assert.ErrorIs(t, err, tasks.ErrConflictingTaskActive)

	// The slot reserved for the losing dispatch went back to the pool.
	assert.Equal(t, 1, pool.Free())
}

func TestDispatchExplicitUnreachableTargetErrors(t *testing.T) {
	probeCache.Flush()
	router, _ := newLocalRouter(1, &fakeAutomation{result: validResearchResult()})

	// Runner and actions clients are absent; an explicit request for them
	// is an error, never a silent fallback.
	_, err := router.Dispatch(Request{
		Kind:       models.KindResearch,
		OwnerID:    "owner-1",
		SubjectKey: newSubject(),
		Mode:       "REMOTE_RUNNER",
	})
	assert.ErrorIs(t, err, ErrTargetUnreachable)

	_, err = router.Dispatch(Request{
		Kind:       models.KindResearch,
		OwnerID:    "owner-1",
		SubjectKey: newSubject(),
		Mode:       "REMOTE_ACTIONS",
	})
	assert.ErrorIs(t, err, ErrTargetUnreachable)
}

func TestDispatchDefaultModeFallsBackToLocal(t *testing.T) {
	probeCache.Flush()
	fake := &fakeAutomation{result: validResearchResult()}
	pool := NewLocalPool(1, fake)
	// Default mode points at an unconfigured runner; without an explicit
	// caller mode the router degrades to LOCAL.
	router := NewRouter(pool, NewRunnerClient("", "", ""), nil, models.TargetRemoteRunner)

	task, err := router.Dispatch(Request{
		Kind:       models.KindResearch,
		OwnerID:    "owner-1",
		SubjectKey: newSubject(),
	})
	require.NoError(t, err)
	assert.Equal(t, models.TargetLocal, task.Target)
	waitForStatus(t, task.ID, models.StatusCompleted)
}

func TestReachabilityProbeIsCached(t *testing.T) {
	probeCache.Flush()
	runner := NewRunnerClient("http://runner.internal:8700", "secret", "http://cb")
	pool := NewLocalPool(1, &fakeAutomation{})
	router := NewRouter(pool, runner, nil, models.TargetLocal)

	assert.True(t, router.reachable(models.TargetRemoteRunner))

	// The cached verdict outlives a configuration change until the TTL.
	runner.Endpoint = ""
	assert.True(t, router.reachable(models.TargetRemoteRunner))

	probeCache.Delete(string(models.TargetRemoteRunner))
	assert.False(t, router.reachable(models.TargetRemoteRunner))
}

func TestClaimStartDeduplicates(t *testing.T) {
	id := "task-" + time.Now().Format("150405.000000000")
	assert.True(t, ClaimStart(id))
	assert.False(t, ClaimStart(id), "redelivered start request is rejected")
	assert.True(t, ClaimStart(id+"-other"))
}
