// Package stream fans task status changes and log lines out to observers.
// Single writer per task (the owning executor publishes), any number of
// readers. Delivery is ordered per task; a subscriber that cannot keep up
// is evicted rather than buffered without bound.
package stream

import (
	"sync"
	"time"

	"github.com/jcoop32/applied/database/models"
)

// subscriberBuffer bounds the per-subscriber channel. A chat UI reads far
// faster than an automation agent produces, so overflow means the reader is
// gone or wedged.
const subscriberBuffer = 64

type Subscriber struct {
	ch     chan Event
	hub    *Hub
	taskID string
	once   sync.Once
}

// Events returns the subscriber's ordered event channel. It is closed when
// the subscriber is evicted or Close is called.
func (s *Subscriber) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscriber from the hub and releases its resources.
// Safe to call more than once.
func (s *Subscriber) Close() {
	s.hub.unsubscribe(s)
}

type Hub struct {
	mu       sync.Mutex
	subs     map[string]map[*Subscriber]struct{}
	detector *Detector
}

func NewHub() *Hub {
	return &Hub{
		subs:     make(map[string]map[*Subscriber]struct{}),
		detector: NewDetector(),
	}
}

func (h *Hub) Subscribe(taskID string) *Subscriber {
	sub := &Subscriber{
		ch:     make(chan Event, subscriberBuffer),
		hub:    h,
		taskID: taskID,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[taskID] == nil {
		h.subs[taskID] = make(map[*Subscriber]struct{})
	}
	h.subs[taskID][sub] = struct{}{}
	return sub
}

func (h *Hub) unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

// removeLocked detaches a subscriber and, when it was the last one for the
// task, drops the task's transition state as well.
func (h *Hub) removeLocked(sub *Subscriber) {
	set, ok := h.subs[sub.taskID]
	if !ok {
		return
	}
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	sub.once.Do(func() { close(sub.ch) })
	if len(set) == 0 {
		delete(h.subs, sub.taskID)
		h.detector.Forget(sub.taskID)
	}
}

// PublishStatus delivers a status transition to every subscriber of the
// task, in publish order. A status repeated by an at-least-once callback
// channel is suppressed, and the first terminal status is followed by a
// single terminal event.
func (h *Hub) PublishStatus(taskID string, status models.TaskStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.subs[taskID]) == 0 {
		return
	}
	if !h.detector.Observe(taskID, status) {
		return
	}
	now := time.Now()
	h.sendLocked(taskID, Event{Type: EventStatus, TaskID: taskID, Status: status, At: now})
	if status.Terminal() {
		h.sendLocked(taskID, Event{Type: EventTerminal, TaskID: taskID, Status: status, At: now})
	}
}

// PublishLog delivers one log line to every subscriber of the task.
func (h *Hub) PublishLog(taskID, line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.subs[taskID]) == 0 {
		return
	}
	h.sendLocked(taskID, Event{Type: EventLog, TaskID: taskID, Line: line, At: time.Now()})
}

func (h *Hub) sendLocked(taskID string, ev Event) {
	for sub := range h.subs[taskID] {
		select {
		case sub.ch <- ev:
		default:
			// Reader stopped draining; cut it loose instead of blocking
			// the publisher or buffering forever.
			h.removeLocked(sub)
		}
	}
}

// Subscribers reports how many observers a task currently has.
func (h *Hub) Subscribers(taskID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[taskID])
}

// Default is the process-wide hub used by executors and the stream endpoint.
var Default = NewHub()

func Subscribe(taskID string) *Subscriber { return Default.Subscribe(taskID) }

func PublishStatus(taskID string, status models.TaskStatus) {
	Default.PublishStatus(taskID, status)
}

func PublishLog(taskID, line string) { Default.PublishLog(taskID, line) }
