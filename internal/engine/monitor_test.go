package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"daytrade-core/internal/storage"
)

// scriptedValidator returns a fixed sequence of validation results.
type scriptedValidator struct {
	mu      sync.Mutex
	results []error
	calls   int
	pingErr error
}

func (v *scriptedValidator) ValidateSchema(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	var err error
	if v.calls < len(v.results) {
		err = v.results[v.calls]
	}
	v.calls++
	return err
}

func (v *scriptedValidator) Ping(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pingErr
}

func (v *scriptedValidator) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls
}

func fastMonitor(v schemaValidator, onHealthy func()) *SchemaMonitor {
	m := NewSchemaMonitor(v, zerolog.Nop(), onHealthy)
	m.backoff = []time.Duration{time.Millisecond, time.Millisecond}
	return m
}

func TestMonitorStopsOnceHealthy(t *testing.T) {
	mismatch := &storage.SchemaMismatchError{MissingTables: []string{"signals"}}
	v := &scriptedValidator{results: []error{mismatch, mismatch, nil}}

	healthy := make(chan struct{})
	m := fastMonitor(v, func() { close(healthy) })

	done := make(chan struct{})
	go func() {
		m.Run(context.Background())
		close(done)
	}()

	select {
	case <-healthy:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor never reported healthy")
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor kept running after recovery")
	}

	if got := v.callCount(); got != 3 {
		t.Errorf("validated %d times, want 3", got)
	}
}

func TestMonitorKeepsRetryingThroughConnectivityErrors(t *testing.T) {
	v := &scriptedValidator{
		results: []error{errors.New("dial refused"), nil},
		pingErr: errors.New("still down"),
	}

	healthy := make(chan struct{})
	m := fastMonitor(v, func() { close(healthy) })
	go m.Run(context.Background())

	select {
	case <-healthy:
	case <-time.After(5 * time.Second):
		t.Fatal("monitor gave up after a connectivity error")
	}
}

func TestMonitorStopsOnContextCancel(t *testing.T) {
	mismatch := &storage.SchemaMismatchError{MissingTables: []string{"signals"}}
	v := &scriptedValidator{results: []error{mismatch}}

	m := NewSchemaMonitor(v, zerolog.Nop(), func() {
		t.Error("onHealthy fired for a cancelled monitor")
	})
	m.backoff = []time.Duration{time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop on context cancel")
	}
	if got := v.callCount(); got != 0 {
		t.Errorf("validated %d times while waiting out the backoff, want 0", got)
	}
}

func TestMonitorBackoffLadderHoldsAtTop(t *testing.T) {
	m := NewSchemaMonitor(&scriptedValidator{}, zerolog.Nop(), nil)

	want := []time.Duration{30 * time.Second, time.Minute, 5 * time.Minute, 10 * time.Minute, 10 * time.Minute, 10 * time.Minute}
	for attempt, d := range want {
		if got := m.nextDelay(attempt); got != d {
			t.Errorf("nextDelay(%d) = %v, want %v", attempt, got, d)
		}
	}
}
