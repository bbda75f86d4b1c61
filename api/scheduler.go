/*
scheduler.go - Automated accrual scheduler

PURPOSE:
  Periodically runs income recognition across the portfolio. Each run asks
  every active loan to accrue earned-but-unrecognized interest, fees, and
  penalties up to the current business date, then posts the journal impact.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - The accrual job is idempotent per date, so overlapping runs are safe
  - Skips loans that are not active or already fully recognized
  - Posting failures are logged; the ledger remains the source of truth

CONFIGURATION:
  - CheckInterval: How often to run (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewAccrualScheduler(store, handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - loan/accrual.go: RunAccrual
  - accounting/poster.go: Journal posting
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/loan-engine/loan"
)

// AccrualScheduler handles automated periodic income recognition.
type AccrualScheduler struct {
	Store         loan.Store
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewAccrualScheduler creates a new scheduler.
func NewAccrualScheduler(store loan.Store, handler *Handler) *AccrualScheduler {
	return &AccrualScheduler{
		Store:         store,
		Handler:       handler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (as *AccrualScheduler) Start() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if !as.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	as.ticker = time.NewTicker(as.CheckInterval)
	as.wg.Add(1)

	go as.run()

	log.Printf("[Scheduler] Started with check interval: %v", as.CheckInterval)
}

// Stop stops the scheduler.
func (as *AccrualScheduler) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.ticker != nil {
		as.ticker.Stop()
		close(as.stop)
		as.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (as *AccrualScheduler) run() {
	defer as.wg.Done()

	// Run immediately on start
	as.accrueAll()

	for {
		select {
		case <-as.ticker.C:
			as.accrueAll()
		case <-as.stop:
			return
		}
	}
}

func (as *AccrualScheduler) accrueAll() {
	ctx := context.Background()
	asOf := loan.DateFromTime(time.Now())

	accounts, err := as.Store.List(ctx)
	if err != nil {
		log.Printf("[Scheduler] Error listing loans: %v", err)
		return
	}

	recognized := 0
	for _, a := range accounts {
		if a.Status != loan.StatusActive && a.Status != loan.StatusOverpaid {
			continue
		}
		result, err := as.Handler.processor.RunAccrual(ctx, a.ID, asOf)
		if err != nil {
			log.Printf("[Scheduler] Accrual failed for loan %s: %v", a.ID, err)
			continue
		}
		if !result.Recorded {
			continue
		}
		recognized++

		updated, err := as.Store.Get(ctx, a.ID)
		if err != nil {
			log.Printf("[Scheduler] Error reloading loan %s: %v", a.ID, err)
			continue
		}
		as.Handler.postLatest(ctx, updated)
		log.Printf("[Scheduler] Accrued loan %s: interest=%s fee=%s penalty=%s",
			a.ID, result.Interest, result.Fee, result.Penalty)
	}

	if recognized > 0 {
		log.Printf("[Scheduler] Completed: %d loans recognized income", recognized)
	}
}

// RunNow triggers an immediate run (for testing/admin).
func (as *AccrualScheduler) RunNow() {
	as.accrueAll()
}
