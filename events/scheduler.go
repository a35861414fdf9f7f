/*
scheduler.go - Periodic instance repair

PURPOSE:
  Finds events that have no stored instances and republishes them. An
  event can end up empty when its rows were written by an older engine, by
  a manual database edit, or when a store outside a transaction lost a
  write. Republishing is idempotent, so an event that legitimately has no
  instances (every occurrence excluded) is simply rebuilt empty again.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Checks run immediately on start, then on every tick
  - Start on a running scheduler is a no-op; Stop may be called twice and
    the scheduler can be started again after it
  - The last run is kept for the admin endpoint

USAGE:
  scheduler := events.NewRepairScheduler(service, time.Hour)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - service.go: Republish of a single event
  - api/handlers.go: POST /api/admin/repair
*/
package events

import (
	"context"
	"sync"
	"time"

	"github.com/warp/calendar-engine/calendar"
	appLog "github.com/warp/calendar-engine/log"
)

// RepairRun records one repair pass.
type RepairRun struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Checked     int
	Repaired    int
	Failed      int
}

// RepairScheduler republishes events without instances.
type RepairScheduler struct {
	Service       *Service
	CheckInterval time.Duration

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun *RepairRun
}

func NewRepairScheduler(service *Service, interval time.Duration) *RepairScheduler {
	return &RepairScheduler{
		Service:       service,
		CheckInterval: interval,
	}
}

// Start begins the scheduler. A non-positive interval disables it.
func (rs *RepairScheduler) Start() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.CheckInterval <= 0 {
		appLog.Info("[Scheduler] disabled, not starting")
		return
	}
	if rs.ticker != nil {
		return
	}

	rs.ticker = time.NewTicker(rs.CheckInterval)
	rs.stop = make(chan struct{})
	rs.wg.Add(1)
	go rs.run(rs.ticker, rs.stop)

	appLog.Info("[Scheduler] started", "interval", rs.CheckInterval)
}

// Stop stops the scheduler and waits for a running pass.
func (rs *RepairScheduler) Stop() {
	rs.mu.Lock()
	ticker, stop := rs.ticker, rs.stop
	rs.ticker, rs.stop = nil, nil
	rs.mu.Unlock()

	if ticker != nil {
		ticker.Stop()
		close(stop)
		rs.wg.Wait()
		appLog.Info("[Scheduler] stopped")
	}
}

func (rs *RepairScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer rs.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	rs.RunNow(ctx)
	for {
		select {
		case <-ticker.C:
			rs.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow performs one repair pass (for testing/admin).
func (rs *RepairScheduler) RunNow(ctx context.Context) RepairRun {
	run := RepairRun{StartedAt: time.Now()}
	svc := rs.Service

	all, err := svc.store.ListEvents(ctx)
	if err != nil {
		appLog.Error("[Scheduler] listing events", err)
		run.Failed++
		return rs.finish(run)
	}

	for _, ev := range all {
		run.Checked++
		n, err := svc.store.CountFutureInstances(ctx, ev.ID, ev.Start)
		if err != nil {
			appLog.Error("[Scheduler] counting instances", err, "event_id", ev.ID)
			run.Failed++
			continue
		}
		if n > 0 {
			continue
		}

		err = svc.store.WithTx(ctx, func(tx calendar.Store) error {
			_, err := svc.rebuild(ctx, tx, ev)
			return err
		})
		if err != nil {
			appLog.Error("[Scheduler] repair failed", err, "event_id", ev.ID)
			run.Failed++
			continue
		}
		run.Repaired++
	}

	if run.Repaired > 0 || run.Failed > 0 {
		appLog.Info("[Scheduler] completed", "checked", run.Checked, "repaired", run.Repaired, "failed", run.Failed)
	}
	return rs.finish(run)
}

func (rs *RepairScheduler) finish(run RepairRun) RepairRun {
	run.CompletedAt = time.Now()
	rs.mu.Lock()
	rs.lastRun = &run
	rs.mu.Unlock()
	return run
}

// LastRun returns the most recent pass, if any.
func (rs *RepairScheduler) LastRun() (RepairRun, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.lastRun == nil {
		return RepairRun{}, false
	}
	return *rs.lastRun, true
}

// NextRunTime returns when the next scheduled check will occur.
func (rs *RepairScheduler) NextRunTime() time.Time {
	return time.Now().Add(rs.CheckInterval)
}
