package event

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestPublishNoSubscribers(t *testing.T) {
	b := NewBus()
	b.Publish(Event{Kind: CodeGenerated})
	if got := b.Dropped(); got != 0 {
		t.Errorf("Dropped() = %d, want 0", got)
	}
}

func TestPublishFanOut(t *testing.T) {
	b := NewBus()
	s1 := b.Subscribe(4)
	s2 := b.Subscribe(4)

	b.Publish(Event{Kind: PairingCompleted, PeerID: "peer-a"})

	for i, s := range []*Subscription{s1, s2} {
		select {
		case e := <-s.C:
			if e.Kind != PairingCompleted || e.PeerID != "peer-a" {
				t.Errorf("subscriber %d got %+v", i, e)
			}
			if e.ID == "" {
				t.Errorf("subscriber %d: event ID not set", i)
			}
			if e.At.IsZero() {
				t.Errorf("subscriber %d: event time not set", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}

func TestPublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	b := NewBus()
	s := b.Subscribe(1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Kind: ModeChanged})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if got := b.Dropped(); got != 9 {
		t.Errorf("Dropped() = %d, want 9", got)
	}
	s.Unsubscribe()
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBus()
	s := b.Subscribe(1)
	s.Unsubscribe()
	s.Unsubscribe()

	if _, ok := <-s.C; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	b.Publish(Event{Kind: LockedOut})
}

func TestCloseStopsDelivery(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	b := NewBus()
	s := b.Subscribe(8)

	var wg sync.WaitGroup
	var got []Kind
	wg.Add(1)
	go func() {
		defer wg.Done()
		for e := range s.C {
			got = append(got, e.Kind)
		}
	}()

	b.Publish(Event{Kind: PeerConnected})
	b.Publish(Event{Kind: PeerDisconnected})
	b.Close()
	b.Publish(Event{Kind: PairingFailed})
	wg.Wait()

	if len(got) != 2 || got[0] != PeerConnected || got[1] != PeerDisconnected {
		t.Errorf("received %v, want [%s %s]", got, PeerConnected, PeerDisconnected)
	}

	late := b.Subscribe(1)
	if _, ok := <-late.C; ok {
		t.Error("subscription after Close should be closed")
	}
}

func TestDiscard(t *testing.T) {
	Discard.Publish(Event{Kind: CodeGenerated})
}
