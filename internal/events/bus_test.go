package events

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"daytrade-core/internal/domain"
)

func testSignal(strategy string) SignalGenerated {
	return SignalGenerated{Signal: domain.Signal{
		Strategy:  strategy,
		Symbol:    "AAPL",
		Action:    domain.ActionBuy,
		CreatedAt: time.Now(),
	}}
}

func TestBusDeliversInRegistrationOrder(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		bus.Subscribe(TopicSignalGenerated, func(Event) error {
			order = append(order, i)
			return nil
		})
	}

	bus.Publish(testSignal("momentum"))

	if len(order) != 3 {
		t.Fatalf("delivered to %d handlers, want 3", len(order))
	}
	for i, got := range order {
		if got != i+1 {
			t.Errorf("delivery order[%d] = %d, want %d", i, got, i+1)
		}
	}
}

func TestBusRoutesByTopic(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var signals, closes int
	bus.Subscribe(TopicSignalGenerated, func(Event) error {
		signals++
		return nil
	})
	bus.Subscribe(TopicPositionClosed, func(Event) error {
		closes++
		return nil
	})

	bus.Publish(testSignal("momentum"))
	bus.Publish(PositionClosed{Symbol: "AAPL", Timestamp: time.Now()})
	bus.Publish(testSignal("momentum"))

	if signals != 2 {
		t.Errorf("signal handler called %d times, want 2", signals)
	}
	if closes != 1 {
		t.Errorf("close handler called %d times, want 1", closes)
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var first, second int
	unsub := bus.Subscribe(TopicSignalGenerated, func(Event) error {
		first++
		return nil
	})
	bus.Subscribe(TopicSignalGenerated, func(Event) error {
		second++
		return nil
	})

	bus.Publish(testSignal("a"))
	unsub()
	bus.Publish(testSignal("b"))
	unsub() // second call is a no-op
	bus.Publish(testSignal("c"))

	if first != 1 {
		t.Errorf("unsubscribed handler called %d times, want 1", first)
	}
	if second != 3 {
		t.Errorf("remaining handler called %d times, want 3", second)
	}
}

func TestBusHandlerErrorDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var after bool
	bus.Subscribe(TopicSignalGenerated, func(Event) error {
		return errors.New("handler failed")
	})
	bus.Subscribe(TopicSignalGenerated, func(Event) error {
		after = true
		return nil
	})

	bus.Publish(testSignal("momentum"))

	if !after {
		t.Error("handler after the failing one was not invoked")
	}
}

func TestBusHandlerPanicIsContained(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var after bool
	bus.Subscribe(TopicSignalGenerated, func(Event) error {
		panic("handler blew up")
	})
	bus.Subscribe(TopicSignalGenerated, func(Event) error {
		after = true
		return nil
	})

	bus.Publish(testSignal("momentum")) // must not propagate the panic

	if !after {
		t.Error("handler after the panicking one was not invoked")
	}
}

func TestBusPublishWithoutSubscribers(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	bus.Publish(testSignal("momentum")) // no-op, must not panic
}

func TestBusSubscribeDuringDeliveryNotInvokedForInFlightEvent(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var late int
	bus.Subscribe(TopicSignalGenerated, func(Event) error {
		bus.Subscribe(TopicSignalGenerated, func(Event) error {
			late++
			return nil
		})
		return nil
	})

	bus.Publish(testSignal("a"))
	if late != 0 {
		t.Errorf("late subscriber saw the in-flight event %d times, want 0", late)
	}

	bus.Publish(testSignal("b"))
	if late != 1 {
		t.Errorf("late subscriber called %d times after second publish, want 1", late)
	}
}
