package orchestrator

import (
	"testing"
	"time"

	"github.com/depotgrab/depotgrab/internal/events"
)

func recv(t *testing.T, ch <-chan any) any {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBroadcasterDeliversInOrder(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe("job-1")
	defer cancel()

	for i := 1; i <= 3; i++ {
		b.Publish(events.DepotCompleteMsg{JobID: "job-1", Current: i, Total: 3})
	}

	for i := 1; i <= 3; i++ {
		msg := recv(t, ch).(events.DepotCompleteMsg)
		if msg.Current != i {
			t.Errorf("event %d arrived as %d", i, msg.Current)
		}
	}
}

func TestBroadcasterFiltersByJob(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe("job-1")
	defer cancel()

	b.Publish(events.StatusMsg{JobID: "job-2", Step: events.StepGeneratingKeys})
	b.Publish(events.StatusMsg{JobID: "job-1", Step: events.StepRunningDownloader})

	msg := recv(t, ch).(events.StatusMsg)
	if msg.JobID != "job-1" {
		t.Errorf("received event for job %s", msg.JobID)
	}
	select {
	case extra := <-ch:
		t.Errorf("unexpected extra event: %+v", extra)
	default:
	}
}

func TestBroadcasterNoReplayForLateSubscribers(t *testing.T) {
	b := NewBroadcaster()
	b.Publish(events.StatusMsg{JobID: "job-1", Step: events.StepGeneratingKeys})

	ch, cancel := b.Subscribe("job-1")
	defer cancel()

	select {
	case msg := <-ch:
		t.Errorf("late subscriber received historical event %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcasterDropsForSlowSubscriber(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe("")
	defer cancel()

	// Publish never blocks, even past the subscriber buffer.
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			b.Publish(events.OutputMsg{JobID: "job-1", Text: "line"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	if len(ch) != subscriberBuffer {
		t.Errorf("buffered %d events, want %d (rest dropped)", len(ch), subscriberBuffer)
	}
}

func TestSubscribeCancelIsIdempotent(t *testing.T) {
	b := NewBroadcaster()
	_, cancel := b.Subscribe("job-1")
	cancel()
	cancel() // must not panic on double close
	b.Publish(events.StatusMsg{JobID: "job-1"})
}
