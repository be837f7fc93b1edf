package engine

import (
	"testing"
	"time"
)

func TestRunFlagWakesBlockedWaiter(t *testing.T) {
	f := NewRunFlag()
	woke := make(chan struct{})

	go func() {
		<-f.Wait()
		close(woke)
	}()

	select {
	case <-woke:
		t.Fatal("waiter woke before Set was called")
	case <-time.After(20 * time.Millisecond):
	}

	f.Set(true)

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("waiter did not wake after Set")
	}
	if !f.Running() {
		t.Fatal("expected Running() true after Set(true)")
	}
}

func TestRunFlagMonotonePerTransition(t *testing.T) {
	f := NewRunFlag()
	first := f.Wait()
	f.Set(true)
	select {
	case <-first:
	default:
		t.Fatal("expected first wait channel closed after Set")
	}
	second := f.Wait()
	if first == second {
		t.Fatal("expected a fresh wait channel after each Set")
	}
}
