package events

import (
	"testing"
)

func TestBusEmitRegistrationOrder(t *testing.T) {
	bus := NewBus()
	var order []int

	bus.On(AutonomyRetry, func(Event) { order = append(order, 1) })
	bus.On(AutonomyRetry, func(Event) { order = append(order, 2) })
	bus.On(AutonomyRetry, func(Event) { order = append(order, 3) })

	bus.Emit(AutonomyRetry, "agent-1", nil)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected handlers in registration order, got %v", order)
	}
}

func TestBusEmitCarriesPayload(t *testing.T) {
	bus := NewBus()
	var got Event
	bus.On(AutonomyCompaction, func(ev Event) { got = ev })

	bus.Emit(AutonomyCompaction, "agent-7", map[string]interface{}{"tier": "gentle"})

	if got.AgentID != "agent-7" {
		t.Fatalf("unexpected agent id: %s", got.AgentID)
	}
	if got.Data["tier"] != "gentle" {
		t.Fatalf("unexpected data: %v", got.Data)
	}
	if got.Seq == 0 {
		t.Fatalf("expected sequence number")
	}
}

func TestBusOnce(t *testing.T) {
	bus := NewBus()
	count := 0
	bus.Once(AutonomyDegraded, func(Event) { count++ })

	bus.Emit(AutonomyDegraded, "a", nil)
	bus.Emit(AutonomyDegraded, "a", nil)

	if count != 1 {
		t.Fatalf("expected once-handler to fire exactly once, fired %d times", count)
	}
	if n := bus.SubscriberCount(AutonomyDegraded); n != 0 {
		t.Fatalf("expected once-handler removed, %d remain", n)
	}
}

func TestBusOff(t *testing.T) {
	bus := NewBus()
	count := 0
	sub := bus.On(AutonomyToolDisabled, func(Event) { count++ })

	bus.Emit(AutonomyToolDisabled, "a", nil)
	bus.Off(sub)
	bus.Emit(AutonomyToolDisabled, "a", nil)

	if count != 1 {
		t.Fatalf("expected handler removed after Off, fired %d times", count)
	}

	// Off on nil and stale subscriptions is a no-op.
	bus.Off(nil)
	bus.Off(sub)
}

func TestBusPanickingHandlerIsolated(t *testing.T) {
	bus := NewBus()
	reached := false

	bus.On(AutonomyHealthWarning, func(Event) { panic("listener bug") })
	bus.On(AutonomyHealthWarning, func(Event) { reached = true })

	bus.Emit(AutonomyHealthWarning, "a", nil)

	if !reached {
		t.Fatalf("expected later handler to run despite earlier panic")
	}
}

func TestBusRemoveAll(t *testing.T) {
	bus := NewBus()
	bus.On(AutonomyRetry, func(Event) {})
	bus.On(AutonomyErrorClassified, func(Event) {})

	bus.RemoveAll(AutonomyRetry)
	if bus.SubscriberCount(AutonomyRetry) != 0 {
		t.Fatalf("expected retry handlers removed")
	}
	if bus.SubscriberCount(AutonomyErrorClassified) != 1 {
		t.Fatalf("expected other handlers untouched")
	}

	bus.RemoveAll("")
	if bus.SubscriberCount(AutonomyErrorClassified) != 0 {
		t.Fatalf("expected all handlers removed")
	}
}
