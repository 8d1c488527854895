package agent

import (
	"sync"
	"time"

	"github.com/HerbHall/hostagent/internal/clock"
)

// startPeriodic calls fn every interval on its own goroutine. When
// immediate is set fn also runs once right away. Ticks that arrive while
// fn is still running are dropped, so runs never overlap.
//
// The returned stop function admits no further runs and waits for a
// run in progress to finish. It is safe to call more than once.
func startPeriodic(clk clock.Clock, interval time.Duration, immediate bool, fn func()) (stop func()) {
	ticker := clk.NewTicker(interval)
	done := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()

		if immediate {
			fn()
		}
		for {
			select {
			case <-done:
				return
			case <-ticker.Chan():
				// A stop racing with a tick wins.
				select {
				case <-done:
					return
				default:
				}
				fn()
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		wg.Wait()
	}
}
