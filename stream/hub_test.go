package stream

import (
	"fmt"
	"testing"
	"time"

	"github.com/jcoop32/applied/database/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, sub *Subscriber, n int) []Event {
	t.Helper()
	events := make([]Event, 0, n)
	timeout := time.After(2 * time.Second)
	for len(events) < n {
		select {
		case ev, ok := <-sub.Events():
			require.True(t, ok, "channel closed after %d events", len(events))
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(events), n)
		}
	}
	return events
}

func TestHubDeliversInOrder(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("task-1")
	defer sub.Close()

	hub.PublishStatus("task-1", models.StatusRunning)
	hub.PublishLog("task-1", "opening search page")
	hub.PublishLog("task-1", "collected 3 leads")
	hub.PublishStatus("task-1", models.StatusCompleted)

	events := collect(t, sub, 5)
	assert.Equal(t, EventStatus, events[0].Type)
	assert.Equal(t, models.StatusRunning, events[0].Status)
	assert.Equal(t, EventLog, events[1].Type)
	assert.Equal(t, "opening search page", events[1].Line)
	assert.Equal(t, EventLog, events[2].Type)
	assert.Equal(t, "collected 3 leads", events[2].Line)
	assert.Equal(t, EventStatus, events[3].Type)
	assert.Equal(t, models.StatusCompleted, events[3].Status)
	assert.Equal(t, EventTerminal, events[4].Type)
}

func TestHubSuppressesRedeliveredStatus(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("task-1")
	defer sub.Close()

	// An at-least-once callback channel may report the same terminal
	// status more than once; observers see it exactly once.
	hub.PublishStatus("task-1", models.StatusCompleted)
	hub.PublishStatus("task-1", models.StatusCompleted)
	hub.PublishStatus("task-1", models.StatusCompleted)

	events := collect(t, sub, 2)
	assert.Equal(t, EventStatus, events[0].Type)
	assert.Equal(t, EventTerminal, events[1].Type)
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected extra event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubIsolatesTasks(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe("task-a")
	b := hub.Subscribe("task-b")
	defer a.Close()
	defer b.Close()

	hub.PublishLog("task-a", "only for a")

	events := collect(t, a, 1)
	assert.Equal(t, "only for a", events[0].Line)
	select {
	case ev := <-b.Events():
		t.Fatalf("cross-task delivery: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubEvictsSlowSubscriber(t *testing.T) {
	hub := NewHub()
	slow := hub.Subscribe("task-1")

	// Never drain; once the buffer is full the publisher cuts the
	// subscriber loose instead of blocking.
	for i := 0; i < subscriberBuffer+5; i++ {
		hub.PublishLog("task-1", fmt.Sprintf("line %d", i))
	}
	assert.Equal(t, 0, hub.Subscribers("task-1"))

	// Buffered events stay readable, then the channel closes.
	seen := 0
	for range slow.Events() {
		seen++
	}
	assert.Equal(t, subscriberBuffer, seen)
}

func TestHubCleanupOnClose(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("task-1")
	assert.Equal(t, 1, hub.Subscribers("task-1"))
	sub.Close()
	sub.Close() // safe to repeat
	assert.Equal(t, 0, hub.Subscribers("task-1"))
	_, ok := <-sub.Events()
	assert.False(t, ok)
}

func TestDetectorEdges(t *testing.T) {
	d := NewDetector()
	assert.True(t, d.Observe("t", models.StatusQueued), "first observation is an edge")
	assert.False(t, d.Observe("t", models.StatusQueued))
	assert.True(t, d.Observe("t", models.StatusRunning))
	assert.True(t, d.Observe("t", models.StatusCompleted))
	assert.False(t, d.Observe("t", models.StatusCompleted))

	d.Forget("t")
	assert.True(t, d.Observe("t", models.StatusCompleted))
}
