package auth

import (
	"fmt"
	"testing"
	"time"
)

func TestBusDeliversInOrderToEverySubscriber(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	first, cancelFirst := bus.Subscribe()
	defer cancelFirst()
	second, cancelSecond := bus.Subscribe()
	defer cancelSecond()

	const total = 500
	for i := 0; i < total; i++ {
		bus.Publish(Notification{Kind: KindPending, AttemptID: fmt.Sprint(i)})
	}

	for name, ch := range map[string]<-chan Notification{"first": first, "second": second} {
		for i := 0; i < total; i++ {
			select {
			case n := <-ch:
				if n.AttemptID != fmt.Sprint(i) {
					t.Fatalf("%s: event %d has attempt %s", name, i, n.AttemptID)
				}
			case <-time.After(time.Second):
				t.Fatalf("%s: missing event %d", name, i)
			}
		}
	}
}

func TestBusSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	_, cancel := bus.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.Publish(Notification{Kind: KindLoggedOut})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on an idle subscriber")
	}
}

func TestBusCancelClosesChannel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()
	ch, cancel := bus.Subscribe()
	cancel()
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("received event after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	bus.Publish(Notification{Kind: KindPending})
}

func TestBusNoReplayAndClose(t *testing.T) {
	bus := NewBus()
	bus.Publish(Notification{Kind: KindPending, AttemptID: "early"})

	ch, cancel := bus.Subscribe()
	defer cancel()
	bus.Publish(Notification{Kind: KindFailed, AttemptID: "late"})

	select {
	case n := <-ch:
		if n.AttemptID != "late" {
			t.Fatalf("replayed %s", n.AttemptID)
		}
	case <-time.After(time.Second):
		t.Fatal("missing event")
	}

	bus.Close()
	if _, ok := <-ch; ok {
		t.Fatal("channel open after Close")
	}
	after, _ := bus.Subscribe()
	if _, ok := <-after; ok {
		t.Fatal("subscription on a closed bus is open")
	}
}

func TestBusCloseDeliversQueuedEvents(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(Notification{Kind: KindPending, AttemptID: "a"})
	bus.Publish(Notification{Kind: KindFailed, AttemptID: "a", Reason: "cancelled"})
	bus.Close()
	bus.Publish(Notification{Kind: KindLoggedOut})

	var got []Notification
	timeout := time.After(time.Second)
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				if len(got) != 2 || got[0].Kind != KindPending || got[1].Reason != "cancelled" {
					t.Fatalf("delivered %+v", got)
				}
				return
			}
			got = append(got, n)
		case <-timeout:
			t.Fatalf("channel not closed, got %+v", got)
		}
	}
}

func TestBusCloseGivesUpOnIdleSubscriber(t *testing.T) {
	bus := NewBus()
	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(Notification{Kind: KindPending})
	bus.Publish(Notification{Kind: KindLoggedOut})
	bus.Close()

	time.Sleep(closeDrainTimeout + 200*time.Millisecond)
	select {
	case n, ok := <-ch:
		if ok {
			t.Fatalf("received %+v after the drain deadline", n)
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after the drain deadline")
	}
}
