package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"scout/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(Filter{})
	defer cancel()

	bus.Publish(Event{Type: JobCreated, JobID: "j1"})

	select {
	case e := <-ch:
		assert.Equal(t, JobCreated, e.Type)
		assert.Equal(t, "j1", e.JobID)
		assert.False(t, e.Timestamp.IsZero(), "publish stamps the time")
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestFilterByTypeAndJob(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(Filter{Types: []Type{JobCompleted}, JobID: "j2"})
	defer cancel()

	bus.Publish(Event{Type: JobCompleted, JobID: "j1"}) // wrong job
	bus.Publish(Event{Type: JobFailed, JobID: "j2"})    // wrong type
	bus.Publish(Event{Type: JobCompleted, JobID: "j2"}) // match

	e := <-ch
	assert.Equal(t, "j2", e.JobID)
	assert.Equal(t, JobCompleted, e.Type)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra event %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFilterByCampaign(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(Filter{CampaignID: "c1"})
	defer cancel()

	bus.Publish(Event{Type: CampaignPhaseStarted, CampaignID: "c2"})
	bus.Publish(Event{Type: CampaignPhaseStarted, CampaignID: "c1", PhaseIndex: 3})

	e := <-ch
	assert.Equal(t, "c1", e.CampaignID)
	assert.Equal(t, 3, e.PhaseIndex)
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	_, cancel := bus.Subscribe(Filter{})
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Nobody drains; overflow must drop, not block.
		for i := 0; i < subscriberBuffer*2; i++ {
			bus.Publish(Event{Type: JobCreated, JobID: "flood"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestCancelClosesChannel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ch, cancel := bus.Subscribe(Filter{})
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	// Double cancel and publish-after-cancel are harmless.
	cancel()
	bus.Publish(Event{Type: JobCreated})
}

func TestCloseTerminatesSubscribers(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe(Filter{})
	defer cancel()

	bus.Close()
	_, ok := <-ch
	assert.False(t, ok)

	// Publish after close is a no-op.
	bus.Publish(Event{Type: JobCreated})
}

func TestWaitForTerminal(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		bus.Publish(Event{Type: JobStatusChanged, JobID: "j1", To: types.StatusProcessing})
		bus.Publish(Event{Type: JobCompleted, JobID: "j1", To: types.StatusCompleted})
	}()

	e, err := WaitForTerminal(context.Background(), bus, "j1")
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, e.Type)
}

func TestWaitForTerminalContextCancel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := WaitForTerminal(ctx, bus, "never")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
