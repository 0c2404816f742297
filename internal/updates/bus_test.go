// README: Update bus tests (in-memory double and event payload shape).
package updates

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
)

func TestMemoryBusCapturesEvents(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	bus.Publish(ctx, StatusEvent{Status: "assigned", Message: "m1", UserID: "u1", Action: "a1"})
	bus.Publish(ctx, StatusEvent{Status: "active", Message: "m2", UserID: "u2", Action: "a2"})

	events := bus.Events()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Action != "a1" || events[1].Status != "active" {
		t.Fatalf("events out of order: %+v", events)
	}
}

func TestMemoryBusConcurrentPublish(t *testing.T) {
	bus := NewMemoryBus()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(ctx, StatusEvent{Status: "assigned"})
		}()
	}
	wg.Wait()

	if got := len(bus.Events()); got != 50 {
		t.Fatalf("got %d events, want 50", got)
	}
}

func TestStatusEventJSONShape(t *testing.T) {
	payload, err := json.Marshal(StatusEvent{Status: "assigned", Message: "msg", UserID: "u1", Action: "שוייך לנהג"})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]string
	if err := json.Unmarshal(payload, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"status", "message", "userId", "action"} {
		if _, ok := m[key]; !ok {
			t.Errorf("missing %q in %s", key, payload)
		}
	}
}
