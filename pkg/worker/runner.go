package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Worker is one background scan loop body. ScanOnce performs a single pass
// over the store and returns; the Pool drives the polling.
type Worker interface {
	Name() string
	ScanOnce(ctx context.Context) error
}

// DefaultPollInterval is used when a Pool is constructed with a zero
// interval.
const DefaultPollInterval = 500 * time.Millisecond

// Pool runs a set of workers on a fixed poll interval, one goroutine per
// worker, until stopped.
//
// Typical usage:
//
//	pool := worker.NewPool(time.Second, verifier, trigger)
//	_ = pool.Start(ctx)
//	...
//	pool.Stop()
type Pool struct {
	workers  []Worker
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewPool creates a Pool. A zero interval means DefaultPollInterval.
func NewPool(interval time.Duration, workers ...Worker) *Pool {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Pool{workers: workers, interval: interval}
}

// Start launches one polling goroutine per worker. Calling Start again
// without Stop returns an error.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return errors.New("lendflow: worker pool already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(len(p.workers))
	for _, w := range p.workers {
		go func(w Worker) {
			defer p.wg.Done()

			ticker := time.NewTicker(p.interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}

				if err := w.ScanOnce(ctx); err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return
					}
					// A failed pass must not kill the loop; the next tick
					// re-reads fresh state.
					log.Printf("lendflow: %s worker error: %v", w.Name(), err)
				}
			}
		}(w)
	}
	return nil
}

// Stop cancels all polling goroutines and waits for them to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}
