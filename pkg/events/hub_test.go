package events

import (
	"testing"
)

func TestHubPublish(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(LinkState, LinkStateEvent{Device: "HV-3000", Open: true})

	ev := <-ch
	if ev.Name != LinkState {
		t.Fatalf("unexpected event name %q", ev.Name)
	}
	p, err := DecodeAs[LinkStateEvent](ev)
	if err != nil {
		t.Fatalf("DecodeAs returned error: %v", err)
	}
	if p.Device != "HV-3000" || !p.Open {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe()
	defer cancel()

	for i := 0; i < SubscriberBuffer+10; i++ {
		h.Publish(GeneratorAbort, GeneratorAbortEvent{Ticks: i})
	}
	if len(ch) != SubscriberBuffer {
		t.Fatalf("expected %d buffered events, got %d", SubscriberBuffer, len(ch))
	}
	first, _ := DecodeAs[GeneratorAbortEvent](<-ch)
	if first.Ticks != 0 {
		t.Fatalf("expected the oldest event first, got %d", first.Ticks)
	}
}

func TestHubUnsubscribe(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe()
	if h.Subscribers() != 1 {
		t.Fatalf("expected one subscriber")
	}
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed")
	}
	if h.Subscribers() != 0 {
		t.Fatalf("expected no subscribers")
	}
	// publishing without subscribers or on a nil hub is harmless
	h.Publish(LinkState, LinkStateEvent{})
	var nilHub *Hub
	nilHub.Publish(LinkState, LinkStateEvent{})
}

func TestDecodeAsEmpty(t *testing.T) {
	p, err := DecodeAs[GeneratorStateEvent](Event{Name: GeneratorState})
	if err != nil || p != (GeneratorStateEvent{}) {
		t.Fatalf("DecodeAs of empty data = %+v, %v", p, err)
	}
}
