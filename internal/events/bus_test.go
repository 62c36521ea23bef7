package events

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func TestEventBus_Subscribe(t *testing.T) {
	t.Parallel()
	bus := New(10)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Publish(NewWorkflowStartedEvent("wf-1", "DB outage"))

	ev := receive(t, ch)
	assert.Equal(t, TypeWorkflowStarted, ev.EventType())
	assert.Equal(t, "wf-1", ev.WorkflowID())
	assert.Equal(t, "DB outage", ev.(WorkflowStartedEvent).Incident)
}

func TestEventBus_SubscribeByType(t *testing.T) {
	t.Parallel()
	bus := New(10)
	defer bus.Close()

	failures := bus.Subscribe(TypeStepFailed)
	all := bus.Subscribe()

	bus.Publish(NewWorkflowStartedEvent("wf-1", "x"))
	bus.Publish(NewStepFailedEvent("wf-1", "classify", 1, "retry", "classify", errors.New("boom"), false))

	assert.Equal(t, TypeWorkflowStarted, receive(t, all).EventType())
	assert.Equal(t, TypeStepFailed, receive(t, all).EventType())

	ev := receive(t, failures).(StepFailedEvent)
	assert.Equal(t, "boom", ev.Error)
	assert.Equal(t, "retry", ev.Decision)
	assert.Empty(t, failures)
}

func TestEventBus_RingBufferDropsOldest(t *testing.T) {
	t.Parallel()
	bus := New(2)
	defer bus.Close()

	ch := bus.Subscribe()
	for _, id := range []string{"a", "b", "c"} {
		bus.Publish(NewWorkflowStartedEvent(id, ""))
	}

	assert.Equal(t, int64(1), bus.DroppedCount())
	assert.Equal(t, "b", receive(t, ch).WorkflowID())
	assert.Equal(t, "c", receive(t, ch).WorkflowID())
}

func TestEventBus_PriorityDelivery(t *testing.T) {
	t.Parallel()
	bus := New(1)
	defer bus.Close()

	prio := bus.SubscribePriority(TypeWorkflowCompleted, TypeWorkflowInterrupted)
	regular := bus.Subscribe()

	const n = 60
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			bus.PublishPriority(NewWorkflowCompletedEvent("wf", time.Second))
		}
		// Filtered out for the priority subscriber.
		bus.PublishPriority(NewPersistenceFailedEvent("wf", "triage", errors.New("disk")))
	}()

	for i := 0; i < n; i++ {
		assert.Equal(t, TypeWorkflowCompleted, receive(t, prio).EventType())
	}
	wg.Wait()
	assert.Empty(t, prio)

	// The regular subscriber keeps only the newest event.
	assert.Equal(t, TypePersistenceFailed, receive(t, regular).EventType())
}

func TestEventBus_CloseUnblocksPriorityPublisher(t *testing.T) {
	t.Parallel()
	bus := New(1)
	_ = bus.SubscribePriority()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			bus.PublishPriority(NewWorkflowInterruptedEvent("wf", "classify", "exhausted"))
		}
	}()

	time.Sleep(20 * time.Millisecond)
	bus.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("priority publisher still blocked after Close")
	}
}

func TestEventBus_UnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	bus := New(4)
	defer bus.Close()

	ch := bus.Subscribe()
	bus.Unsubscribe(ch)

	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after unsubscribe is a no-op for that channel.
	bus.Publish(NewWorkflowResumedEvent("wf", "triage"))
}

func TestEventBus_PublishAfterClose(t *testing.T) {
	t.Parallel()
	bus := New(4)
	ch := bus.Subscribe()
	bus.Close()
	bus.Close()

	bus.Publish(NewWorkflowPausedEvent("wf", 3))
	bus.PublishPriority(NewWorkflowCompletedEvent("wf", 0))

	_, ok := <-ch
	assert.False(t, ok)
}

func TestEventBus_WorkflowFilter(t *testing.T) {
	t.Parallel()
	bus := New(4)
	defer bus.Close()

	mine := bus.SubscribeFiltered(Filter{Workflow: "wf-1", Types: []string{TypeWorkflowStateUpdated}})
	prio := bus.SubscribePriorityFiltered(Filter{Workflow: "wf-1"})

	// A priority event for another workflow must not wait on wf-1's reader.
	for i := 0; i < priorityBuffer+10; i++ {
		bus.PublishPriority(NewWorkflowCompletedEvent("wf-2", 0))
	}
	bus.Publish(NewWorkflowStateUpdatedEvent("wf-2", "TRIAGED", "query_knowledge_base", "triage", 3))
	bus.Publish(NewWorkflowStateUpdatedEvent("wf-1", "TRIAGED", "query_knowledge_base", "triage", 3))
	bus.PublishPriority(NewWorkflowInterruptedEvent("wf-1", "classify", "exhausted"))

	ev := receive(t, mine)
	assert.Equal(t, "wf-1", ev.WorkflowID())
	assert.Empty(t, mine)

	assert.Equal(t, TypeWorkflowInterrupted, receive(t, prio).EventType())
	assert.Empty(t, prio)
}

func TestEventBus_Stats(t *testing.T) {
	t.Parallel()
	bus := New(1)

	a := bus.Subscribe()
	_ = bus.SubscribePriority()
	bus.Publish(NewWorkflowResumedEvent("wf", "triage"))
	bus.Publish(NewWorkflowResumedEvent("wf", "triage"))

	assert.Equal(t, Stats{Subscribers: 1, PrioritySubscribers: 1, Dropped: 1}, bus.Stats())

	bus.Unsubscribe(a)
	assert.Equal(t, 0, bus.Stats().Subscribers)

	bus.Close()
	late := bus.Subscribe()
	_, ok := <-late
	assert.False(t, ok, "subscriptions after Close are closed")
}
