// Package dispatcher runs the polling loop that finds due triggers, claims
// them exclusively, invokes their execution agents, and feeds outcomes back
// through the trigger state machine.
//
// Any number of dispatcher instances may run against the same store. The
// store's atomic claim is the only cross-instance coordination: a claim won
// here is a fire lost everywhere else, and a claim lost here is silently
// deferred to a later tick.
package dispatcher

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"triggerd/internal/logger"
	"triggerd/internal/metrics"
	"triggerd/internal/recurrence"
	"triggerd/internal/result"
	"triggerd/internal/trigger"
)

// Store is the persistence the dispatcher needs; implemented by store.RedisStore
type Store interface {
	FindDue(ctx context.Context, now time.Time) ([]*trigger.Trigger, error)
	Claim(ctx context.Context, id string, expectedNext time.Time, leaseTTL time.Duration) (string, error)
	Update(ctx context.Context, t *trigger.Trigger) error
}

// Spawner invokes execution agents; implemented by agent.Registry
type Spawner interface {
	Spawn(ctx context.Context, agentName, payload string) error
}

// Options configures a dispatcher instance
type Options struct {
	// PollInterval is the cadence of due-trigger discovery (default 5s)
	PollInterval time.Duration
	// SpawnTimeout bounds each agent invocation (default 2m)
	SpawnTimeout time.Duration
	// LeaseTTL is how long a claim protects a trigger before a crashed
	// claimant's fire becomes claimable again. Must exceed SpawnTimeout so a
	// live fire is never re-claimed (default 2×SpawnTimeout).
	LeaseTTL time.Duration
	// Concurrency is the fire worker pool size (default 5)
	Concurrency int
	// History receives a record per fire when non-nil
	History result.Backend
	// Metrics receives counters; a private collector is used when nil
	Metrics *metrics.Collector
	// Logger defaults to the package default logger
	Logger logger.Logger
	// Clock overrides time.Now (for testing)
	Clock func() time.Time
}

// Dispatcher polls for due triggers and fires them on a bounded worker pool,
// keeping slow agent invocations off the discovery loop
type Dispatcher struct {
	store         Store
	spawner       Spawner
	history       result.Backend
	metrics       *metrics.Collector
	log           logger.Logger
	pollInterval  time.Duration
	spawnTimeout  time.Duration
	leaseTTL      time.Duration
	concurrency   int
	clock         func() time.Time
	fireChan      chan *trigger.Trigger
	activeWorkers atomic.Int64
	wg            sync.WaitGroup
}

// New creates a dispatcher
func New(store Store, spawner Spawner, opts Options) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.SpawnTimeout <= 0 {
		opts.SpawnTimeout = 2 * time.Minute
	}
	if opts.LeaseTTL <= opts.SpawnTimeout {
		opts.LeaseTTL = 2 * opts.SpawnTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 5
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Dispatcher{
		store:        store,
		spawner:      spawner,
		history:      opts.History,
		metrics:      opts.Metrics,
		log:          opts.Logger.WithComponent(logger.ComponentDispatcher),
		pollInterval: opts.PollInterval,
		spawnTimeout: opts.SpawnTimeout,
		leaseTTL:     opts.LeaseTTL,
		concurrency:  opts.Concurrency,
		clock:        opts.Clock,
		fireChan:     make(chan *trigger.Trigger, opts.Concurrency*2),
	}
}

// Run starts the worker pool and the polling loop, blocking until ctx is
// cancelled, then waits for in-flight fires to finish (bounded at 30s)
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.Info("Dispatcher started",
		"poll_interval", d.pollInterval,
		"spawn_timeout", d.spawnTimeout,
		"lease_ttl", d.leaseTTL,
		"workers", d.concurrency)

	for i := 0; i < d.concurrency; i++ {
		d.wg.Add(1)
		go d.worker(ctx, i+1)
	}

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("Dispatcher stopping")
			d.waitWorkers()
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Dispatcher) waitWorkers() {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.log.Info("Dispatcher stopped gracefully")
	case <-time.After(30 * time.Second):
		d.log.Warn("Dispatcher shutdown timed out", "timeout", "30s")
	}
}

// tick hands every due, active trigger to the fire pool. When the pool is
// saturated the remainder is left for the next tick; nothing is claimed
// until a worker picks it up, so no fire is lost by skipping.
func (d *Dispatcher) tick(ctx context.Context) {
	d.metrics.RecordTick()

	now := d.clock()
	due, err := d.store.FindDue(ctx, now)
	if err != nil {
		d.log.Error("Failed to scan due triggers", "error", err)
		return
	}

	for _, t := range due {
		if t.Status != trigger.StatusActive || t.NextTrigger == nil {
			continue
		}

		select {
		case d.fireChan <- t:
			d.metrics.RecordQueued()
		default:
			d.log.Debug("Fire pool saturated, deferring trigger", "trigger_id", t.ID)
		}
	}
}

// worker is the main loop of each fire worker goroutine
func (d *Dispatcher) worker(ctx context.Context, workerID int) {
	defer d.wg.Done()

	workerCtx := context.WithValue(ctx, "worker_id", fmt.Sprintf("worker-%d", workerID))

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-d.fireChan:
			d.fire(workerCtx, t)
		}
	}
}

// fire claims one due trigger and runs its full fire cycle: agent
// invocation, next-occurrence recomputation, state-machine application, and
// persistence. Everything after a won claim must complete; errors are
// recorded on the trigger, never propagated to the loop.
func (d *Dispatcher) fire(ctx context.Context, t *trigger.Trigger) {
	active := d.activeWorkers.Add(1)
	d.metrics.RecordWorkerActivity(active, int64(d.concurrency))
	defer func() {
		d.metrics.RecordWorkerActivity(d.activeWorkers.Add(-1), int64(d.concurrency))
	}()

	if _, err := d.store.Claim(ctx, t.ID, *t.NextTrigger, d.leaseTTL); err != nil {
		if err == trigger.ErrClaimLost {
			d.metrics.RecordClaimLost()
			d.log.Debug("Claim lost to another dispatcher", "trigger_id", t.ID)
		} else {
			d.log.Error("Claim failed", "trigger_id", t.ID, "error", err)
		}
		return
	}

	fireCtx := context.WithValue(ctx, "trigger_id", t.ID)
	fireLog := d.log.WithSource(logger.LogSourceFire)

	now := d.clock()
	fireLog.InfoContext(fireCtx, "Firing trigger",
		"trigger_id", t.ID,
		"agent_name", t.AgentName,
		"recurrence_rule", t.RecurrenceRule)

	start := time.Now()
	spawnErr := d.spawn(fireCtx, t)
	duration := time.Since(start)

	// Recompute the schedule before applying the outcome; recurrence
	// advances from the attempt instant, success or failure
	var next *time.Time
	if t.Recurring() {
		computed, err := d.nextOccurrence(t, now)
		if err != nil {
			// The rule or zone was valid at write time; a failure here means
			// the record is corrupt. Pause rather than guess a cadence.
			fireLog.ErrorContext(fireCtx, "Cannot recompute schedule, pausing trigger",
				"trigger_id", t.ID, "error", err)
			t.Status = trigger.StatusPaused
			t.LastError = err.Error()
			t.UpdatedAt = now
			if uerr := d.store.Update(ctx, t); uerr != nil {
				fireLog.ErrorContext(fireCtx, "Failed to pause trigger", "trigger_id", t.ID, "error", uerr)
			}
			return
		}
		next = computed
	}

	if spawnErr != nil {
		fireLog.ErrorContext(fireCtx, "Trigger fire failed",
			"trigger_id", t.ID,
			"agent_name", t.AgentName,
			"duration", duration,
			"error", spawnErr)
		if err := trigger.ApplyFireFailure(t, now, next, spawnErr.Error()); err != nil {
			fireLog.ErrorContext(fireCtx, "State machine rejected fire failure", "trigger_id", t.ID, "error", err)
			return
		}
		d.metrics.RecordFireFailure(duration)
	} else {
		fireLog.InfoContext(fireCtx, "Trigger fired",
			"trigger_id", t.ID,
			"agent_name", t.AgentName,
			"duration", duration,
			"status", string(t.Status))
		if err := trigger.ApplyFireSuccess(t, now, next); err != nil {
			fireLog.ErrorContext(fireCtx, "State machine rejected fire success", "trigger_id", t.ID, "error", err)
			return
		}
		d.metrics.RecordFireSuccess(duration)
	}

	if err := d.store.Update(ctx, t); err != nil {
		fireLog.ErrorContext(fireCtx, "Failed to persist fire outcome", "trigger_id", t.ID, "error", err)
		return
	}

	d.recordHistory(ctx, t, now, duration, spawnErr)
}

// spawn invokes the execution agent with the configured deadline, converting
// panics and timeouts into ordinary execution failures
func (d *Dispatcher) spawn(ctx context.Context, t *trigger.Trigger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stackTrace := string(debug.Stack())
			d.log.Error("Agent invocation panicked",
				"trigger_id", t.ID,
				"agent_name", t.AgentName,
				"panic_value", r,
				"stack_trace", stackTrace)
			err = fmt.Errorf("agent invocation panicked: %v", r)
		}
	}()

	spawnCtx, cancel := context.WithTimeout(ctx, d.spawnTimeout)
	defer cancel()

	if err := d.spawner.Spawn(spawnCtx, t.AgentName, t.Payload); err != nil {
		if spawnCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("agent invocation exceeded %s deadline: %w", d.spawnTimeout, err)
		}
		return err
	}
	return nil
}

// nextOccurrence computes the trigger's next fire instant after now
func (d *Dispatcher) nextOccurrence(t *trigger.Trigger, now time.Time) (*time.Time, error) {
	loc, err := t.Location()
	if err != nil {
		return nil, err
	}
	next, err := recurrence.Next(t.RecurrenceRule, now, loc)
	if err != nil {
		return nil, err
	}
	return &next, nil
}

func (d *Dispatcher) recordHistory(ctx context.Context, t *trigger.Trigger, firedAt time.Time, duration time.Duration, spawnErr error) {
	if d.history == nil {
		return
	}

	rec := &result.FireRecord{
		FireID:         uuid.New().String(),
		TriggerID:      t.ID,
		AgentName:      t.AgentName,
		FiredAt:        firedAt,
		Duration:       duration,
		Success:        spawnErr == nil,
		ExecutionCount: t.Metadata.ExecutionCount,
	}
	if spawnErr != nil {
		rec.Error = spawnErr.Error()
	}

	if err := d.history.Record(ctx, rec); err != nil {
		d.log.Warn("Failed to record fire history", "trigger_id", t.ID, "error", err)
	}
}
