package sync

import (
	gosync "sync"
)

// Gate coordinates cooperative pause and stop across the engine's loops.
// Loops call Wait at batch boundaries: it blocks while the gate is paused
// and reports false once the gate is stopped. In-flight network calls are
// never interrupted; the gate only decides whether new work starts.
type Gate struct {
	mu      gosync.Mutex
	paused  bool
	resume  chan struct{} // closed on resume; replaced on pause
	stop    chan struct{} // closed on stop
	stopped bool
}

// NewGate returns an open gate.
func NewGate() *Gate {
	resume := make(chan struct{})
	close(resume)
	return &Gate{
		resume: resume,
		stop:   make(chan struct{}),
	}
}

// Pause makes subsequent Wait calls block until Resume or Stop.
func (g *Gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused || g.stopped {
		return
	}
	g.paused = true
	g.resume = make(chan struct{})
}

// Resume wakes every loop blocked in Wait.
func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	close(g.resume)
}

// Stop permanently releases the gate; every current and future Wait
// reports false.
func (g *Gate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	g.stopped = true
	close(g.stop)
	if g.paused {
		g.paused = false
		close(g.resume)
	}
}

// Wait blocks while the gate is paused and reports whether the caller may
// proceed; false means the gate was stopped.
func (g *Gate) Wait() bool {
	for {
		g.mu.Lock()
		paused, resume := g.paused, g.resume
		g.mu.Unlock()

		select {
		case <-g.stop:
			return false
		default:
		}

		if !paused {
			return true
		}

		select {
		case <-resume:
		case <-g.stop:
			return false
		}
	}
}

// Paused reports whether the gate is currently paused.
func (g *Gate) Paused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// Stopped returns a channel closed once the gate is stopped, for use in
// select alongside timers.
func (g *Gate) Stopped() <-chan struct{} {
	return g.stop
}
