package engine

import (
	"sync"
	"testing"
	"time"
)

func waitForEvents(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("events not delivered before deadline")
}

func TestEventBus_DeliversInPublishOrder(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	var got []int
	bus.Subscribe(EventTypeNewTrade, func(event Event) {
		mu.Lock()
		got = append(got, event.Data.(int))
		mu.Unlock()
	})

	const n = 500
	for i := 0; i < n; i++ {
		bus.Publish(Event{Type: EventTypeNewTrade, Timestamp: time.Now(), Data: i})
	}

	waitForEvents(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == n
	})

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("event %d delivered out of order: got %d", i, v)
		}
	}
}

func TestEventBus_ListenersAreIndependent(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	counts := make(map[string]int)
	for _, name := range []string{"first", "second"} {
		name := name
		bus.Subscribe(EventTypeNewTrade, func(event Event) {
			mu.Lock()
			counts[name]++
			mu.Unlock()
		})
	}

	if bus.GetListenerCount(EventTypeNewTrade) != 2 {
		t.Fatalf("listener count = %d, want 2", bus.GetListenerCount(EventTypeNewTrade))
	}

	bus.Publish(Event{Type: EventTypeNewTrade, Timestamp: time.Now()})

	waitForEvents(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return counts["first"] == 1 && counts["second"] == 1
	})
}

func TestEventBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	delivered := 0
	bus.Subscribe(EventTypeOrderbookChange, func(event Event) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	bus.Publish(Event{Type: EventTypeOrderbookChange, Timestamp: time.Now()})
	waitForEvents(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered == 1
	})

	bus.Unsubscribe(EventTypeOrderbookChange)
	if bus.GetListenerCount(EventTypeOrderbookChange) != 0 {
		t.Fatal("listeners remain after unsubscribe")
	}

	bus.Publish(Event{Type: EventTypeOrderbookChange, Timestamp: time.Now()})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if delivered != 1 {
		t.Fatalf("delivered = %d after unsubscribe, want 1", delivered)
	}
}
