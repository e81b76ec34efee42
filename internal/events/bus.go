// Package events implements the in-process pub/sub bus carrying engine
// lifecycle events to the CLI, dashboard, and agent surfaces. Events are
// emitted inside queue transition transactions, so a subscriber observes a
// consistent per-job sequence.
package events

import (
	"context"
	"sync"
	"time"

	"scout/internal/logging"
	"scout/internal/types"
)

// Type enumerates every event the engine publishes.
type Type string

const (
	JobCreated           Type = "job_created"
	JobStatusChanged     Type = "job_status_changed"
	JobCompleted         Type = "job_completed"
	JobFailed            Type = "job_failed"
	JobCanceled          Type = "job_canceled"
	CampaignPhaseStarted Type = "campaign_phase_started"
	CampaignPhaseDone    Type = "campaign_phase_completed"
	CampaignPaused       Type = "campaign_paused"
	BudgetAlert          Type = "budget_alert"
	ProviderAutoDisabled Type = "provider_auto_disabled"
)

// Event is one lifecycle notification.
type Event struct {
	Type       Type            `json:"type"`
	Timestamp  time.Time       `json:"timestamp"`
	JobID      string          `json:"job_id,omitempty"`
	CampaignID string          `json:"campaign_id,omitempty"`
	From       types.JobStatus `json:"from,omitempty"`
	To         types.JobStatus `json:"to,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Provider   string          `json:"provider,omitempty"`
	Until      time.Time       `json:"until,omitempty"`      // provider_auto_disabled
	Percent    int             `json:"percent,omitempty"`    // budget_alert: 50, 80, 95
	PhaseIndex int             `json:"phase_index,omitempty"`
}

// Filter selects which events a subscription receives. Zero values match all.
type Filter struct {
	Types      []Type
	JobID      string
	CampaignID string
}

func (f Filter) matches(e Event) bool {
	if f.JobID != "" && f.JobID != e.JobID {
		return false
	}
	if f.CampaignID != "" && f.CampaignID != e.CampaignID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == e.Type {
			return true
		}
	}
	return false
}

// subscriber buffers events so a slow surface cannot stall a queue
// transaction. Overflow drops the event for that subscriber only.
type subscriber struct {
	filter Filter
	ch     chan Event
}

// Bus is the in-process event fanout.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

// subscriberBuffer is sized for bursty campaign completions.
const subscriberBuffer = 64

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers a filtered subscription. The returned cancel function
// removes the subscription and closes its channel.
func (b *Bus) Subscribe(filter Filter) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscriber{filter: filter, ch: make(chan Event, subscriberBuffer)}
	b.subs[id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

// Publish delivers an event to every matching subscriber. Delivery never
// blocks the caller.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	logging.EventsDebug("publish %s job=%s campaign=%s", e.Type, e.JobID, e.CampaignID)

	for _, sub := range b.subs {
		if !sub.filter.matches(e) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			logging.Events("subscriber buffer full, dropping %s for job=%s", e.Type, e.JobID)
		}
	}
}

// Close removes all subscriptions and closes their channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// WaitForTerminal blocks until the job reaches a terminal state or the
// context ends. Callers must subscribe before the transition can occur;
// this helper does so and also accepts the terminal event types directly.
func WaitForTerminal(ctx context.Context, bus *Bus, jobID string) (Event, error) {
	ch, cancel := bus.Subscribe(Filter{
		JobID: jobID,
		Types: []Type{JobCompleted, JobFailed, JobCanceled},
	})
	defer cancel()

	select {
	case e, ok := <-ch:
		if !ok {
			return Event{}, context.Canceled
		}
		return e, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}
