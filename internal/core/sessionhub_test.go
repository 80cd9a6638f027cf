package core

import (
	"testing"
	"time"
)

func TestSessionHubFanOut(t *testing.T) {
	hub := NewSessionHub()

	ch1, cancel1 := hub.Subscribe(7)
	ch2, cancel2 := hub.Subscribe(7)
	chOther, cancelOther := hub.Subscribe(8)
	defer cancel1()
	defer cancel2()
	defer cancelOther()

	hub.Publish(SessionEvent{SessionID: 7, Type: "line_upserted", At: time.Now()})

	for i, ch := range []<-chan SessionEvent{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Type != "line_upserted" {
				t.Errorf("subscriber %d: got type %q, want line_upserted", i, ev.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never received the event", i)
		}
	}

	select {
	case ev := <-chOther:
		t.Errorf("session 8 subscriber received session 7 event: %+v", ev)
	default:
	}
}

func TestSessionHubCancelIdempotent(t *testing.T) {
	hub := NewSessionHub()
	ch, cancel := hub.Subscribe(1)

	cancel()
	cancel() // second call must not panic or double-close

	if _, open := <-ch; open {
		t.Error("channel still open after cancel")
	}
	if got := hub.Watchers(1); got != 0 {
		t.Errorf("Watchers(1) = %d after cancel, want 0", got)
	}
}

func TestSessionHubSlowSubscriberDropped(t *testing.T) {
	hub := NewSessionHub()
	_, cancel := hub.Subscribe(3)
	defer cancel()

	done := make(chan struct{})
	go func() {
		// More events than the buffer holds; Publish must not block.
		for i := 0; i < subscriberBuffer*3; i++ {
			hub.Publish(SessionEvent{SessionID: 3, Type: "line_upserted"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}
