package sync

import (
	"testing"
	"time"
)

func TestGateOpenByDefault(t *testing.T) {
	g := NewGate()
	if !g.Wait() {
		t.Fatal("fresh gate refused a waiter")
	}
	if g.Paused() {
		t.Fatal("fresh gate reports paused")
	}
}

func TestGatePauseBlocksUntilResume(t *testing.T) {
	g := NewGate()
	g.Pause()

	proceeded := make(chan bool, 1)
	go func() {
		proceeded <- g.Wait()
	}()

	select {
	case <-proceeded:
		t.Fatal("Wait returned while paused")
	case <-time.After(20 * time.Millisecond):
	}

	g.Resume()
	select {
	case ok := <-proceeded:
		if !ok {
			t.Fatal("Wait returned false after resume")
		}
	case <-time.After(time.Second):
		t.Fatal("Wait never woke after resume")
	}
}

func TestGateStopReleasesWaiters(t *testing.T) {
	g := NewGate()
	g.Pause()

	proceeded := make(chan bool, 1)
	go func() {
		proceeded <- g.Wait()
	}()

	g.Stop()
	select {
	case ok := <-proceeded:
		if ok {
			t.Fatal("Wait returned true after stop")
		}
	case <-time.After(time.Second):
		t.Fatal("Wait never woke after stop")
	}

	// Stop is permanent.
	if g.Wait() {
		t.Fatal("Wait returned true on a stopped gate")
	}
	select {
	case <-g.Stopped():
	default:
		t.Fatal("Stopped channel not closed")
	}
}

func TestGatePauseResumeCycles(t *testing.T) {
	g := NewGate()

	for i := 0; i < 3; i++ {
		g.Pause()
		if !g.Paused() {
			t.Fatalf("cycle %d: gate not paused", i)
		}
		g.Resume()
		if g.Paused() {
			t.Fatalf("cycle %d: gate still paused", i)
		}
		if !g.Wait() {
			t.Fatalf("cycle %d: Wait false on open gate", i)
		}
	}

	// Redundant transitions are harmless.
	g.Resume()
	g.Pause()
	g.Pause()
	g.Resume()
	if !g.Wait() {
		t.Fatal("Wait false after redundant transitions")
	}
}
