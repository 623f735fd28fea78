package app

import (
	"testing"

	"github.com/earshot-ai/earshot/internal/pipeline"
)

func TestBroadcaster_DeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch1, cancel1 := b.Subscribe(4)
	defer cancel1()
	ch2, cancel2 := b.Subscribe(4)
	defer cancel2()

	b.Publish(pipeline.Event{Type: pipeline.EventListening})

	for i, ch := range []<-chan pipeline.Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Type != pipeline.EventListening {
				t.Errorf("subscriber %d: got %q, want %q", i, ev.Type, pipeline.EventListening)
			}
		default:
			t.Errorf("subscriber %d: no event delivered", i)
		}
	}
}

func TestBroadcaster_FullSubscriberDropsEvent(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(pipeline.Event{Type: pipeline.EventListening})
	b.Publish(pipeline.Event{Type: pipeline.EventRecording})

	ev := <-ch
	if ev.Type != pipeline.EventListening {
		t.Errorf("got %q, want %q", ev.Type, pipeline.EventListening)
	}
	select {
	case ev := <-ch:
		t.Errorf("unexpected second event %q", ev.Type)
	default:
	}
}

func TestBroadcaster_CancelClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	defer b.Close()

	ch, cancel := b.Subscribe(1)
	cancel()
	cancel() // idempotent

	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}

	// Publishing after cancel must not panic or deliver.
	b.Publish(pipeline.Event{Type: pipeline.EventListening})
}

func TestBroadcaster_CloseClosesAllSubscribers(t *testing.T) {
	b := NewBroadcaster()

	ch1, _ := b.Subscribe(1)
	ch2, _ := b.Subscribe(1)

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	for i, ch := range []<-chan pipeline.Event{ch1, ch2} {
		if _, ok := <-ch; ok {
			t.Errorf("subscriber %d channel still open after Close", i)
		}
	}

	// A late subscriber gets an already-closed channel.
	ch3, cancel := b.Subscribe(1)
	defer cancel()
	if _, ok := <-ch3; ok {
		t.Error("subscription after Close yielded an open channel")
	}
}
