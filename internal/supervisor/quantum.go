package supervisor

import (
	"sync"
	"time"
)

// QuantumScheduler drives the two timers of one execution burst: a recurring
// heartbeat and a one-shot quantum-expiry. Start always cancels any previous
// burst's timers first, so no timer leaks across bursts. Stop is idempotent.
//
// Stop does not join the timer goroutine; a callback already in flight when
// Stop returns is possible and callers guard with a burst sequence check.
type QuantumScheduler struct {
	mu     sync.Mutex
	stopCh chan struct{}
}

// Start begins the heartbeat/expiry timers for a new burst.
func (q *QuantumScheduler) Start(heartbeat, quantum time.Duration, onHeartbeat, onExpiry func()) {
	q.Stop()

	q.mu.Lock()
	stop := make(chan struct{})
	q.stopCh = stop
	q.mu.Unlock()

	go func() {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		expiry := time.NewTimer(quantum)
		defer expiry.Stop()

		var expiryC <-chan time.Time = expiry.C
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				onHeartbeat()
			case <-expiryC:
				// Fires exactly once per burst; heartbeats keep their
				// cadence until Stop.
				expiryC = nil
				onExpiry()
			}
		}
	}()
}

// Stop cancels both timers. Safe to call when already stopped.
func (q *QuantumScheduler) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopCh != nil {
		close(q.stopCh)
		q.stopCh = nil
	}
}
