package session

import (
	"testing"

	"github.com/dgnsrekt/insight-tts/internal/tts"
)

func TestBusDelivery(t *testing.T) {
	b := NewBus()
	first, unsubFirst := b.Subscribe(4)
	second, _ := b.Subscribe(1)

	b.Publish(Event{SessionID: "a", State: tts.StateSynthesizing})
	b.Publish(Event{SessionID: "a", State: tts.StatePlaying})

	if ev := <-first; ev.State != tts.StateSynthesizing {
		t.Errorf("first event = %s", ev.State)
	}
	if ev := <-first; ev.State != tts.StatePlaying {
		t.Errorf("second event = %s", ev.State)
	}

	// The full subscriber missed the second event instead of blocking.
	if ev := <-second; ev.State != tts.StateSynthesizing {
		t.Errorf("slow subscriber got %s", ev.State)
	}
	select {
	case ev := <-second:
		t.Errorf("slow subscriber should have dropped %s", ev.State)
	default:
	}

	unsubFirst()
	unsubFirst()
	if _, ok := <-first; ok {
		t.Error("channel should be closed after unsubscribe")
	}

	b.Close()
	if _, ok := <-second; ok {
		t.Error("channel should be closed after Close")
	}

	late, _ := b.Subscribe(1)
	if _, ok := <-late; ok {
		t.Error("subscribing to a closed bus should yield a closed channel")
	}
	b.Publish(Event{SessionID: "b"})
}
