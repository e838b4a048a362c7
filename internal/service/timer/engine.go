// Package timer provides the job-execution engine behind the content
// scheduler: one-shot timers, cron-driven recurring triggers and a bounded
// worker pool that keeps a slow job from blocking other firings.
package timer

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Config controls the engine's pool and misfire behavior.
type Config struct {
	MaxWorkers   int
	QueueSize    int
	MisfireGrace time.Duration
	Timezone     string // IANA name; empty means time.Local
}

// JobKind distinguishes one-shot timers from cron-backed triggers.
type JobKind string

const (
	JobOnce      JobKind = "once"
	JobRecurring JobKind = "recurring"
)

// JobInfo describes one registered job for the observability surface.
type JobInfo struct {
	ID      string    `json:"id"`
	Kind    JobKind   `json:"kind"`
	NextRun time.Time `json:"next_run"`
	Trigger string    `json:"trigger"`
}

// MisfireFunc is invoked when a one-shot job's fire time is already further
// in the past than the misfire grace at registration time. The job is not
// registered; acting on the miss is the caller's business.
type MisfireFunc func(id string, scheduledFor time.Time)

type oneShot struct {
	timer *time.Timer
	at    time.Time
	gen   uint64
}

type recurring struct {
	entry cron.EntryID
	spec  string
}

type task struct {
	id  string
	run func(ctx context.Context)
}

// Engine is the timer engine. Job bodies are plain funcs; the engine
// guarantees replace-existing semantics per job id, panic isolation per
// task and a graceful drain of in-flight work on Stop.
type Engine struct {
	cfg       Config
	logger    *zap.Logger
	loc       *time.Location
	onMisfire MisfireFunc

	mu       sync.Mutex
	running  bool
	cron     *cron.Cron
	entries  map[string]recurring
	timers   map[string]*oneShot
	gen      uint64
	queue    chan task
	stopCh   chan struct{}
	workerWG sync.WaitGroup
}

func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.MisfireGrace <= 0 {
		cfg.MisfireGrace = 5 * time.Minute
	}

	loc := time.Local
	if cfg.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Timezone); err == nil {
			loc = l
		} else {
			logger.Warn("Invalid engine timezone, falling back to local",
				zap.String("timezone", cfg.Timezone), zap.Error(err))
		}
	}

	return &Engine{
		cfg:     cfg,
		logger:  logger,
		loc:     loc,
		entries: make(map[string]recurring),
		timers:  make(map[string]*oneShot),
	}
}

// OnMisfire registers the misfire callback. Must be called before Start.
func (e *Engine) OnMisfire(fn MisfireFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onMisfire = fn
}

// Start brings up the worker pool and the cron runner. Calling Start on a
// running engine is a no-op.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	e.queue = make(chan task, e.cfg.QueueSize)
	e.stopCh = make(chan struct{})
	e.cron = cron.New(cron.WithLocation(e.loc))

	// Local captures keep the workers off the struct fields, which a later
	// Start may reassign.
	queue := e.queue
	stopCh := e.stopCh

	e.workerWG.Add(e.cfg.MaxWorkers)
	for i := 0; i < e.cfg.MaxWorkers; i++ {
		idx := i
		go func() {
			defer e.workerWG.Done()
			e.worker(idx, stopCh, queue)
		}()
	}
	e.cron.Start()
	e.running = true

	e.logger.Info("Timer engine started",
		zap.Int("workers", e.cfg.MaxWorkers),
		zap.Int("queue_size", e.cfg.QueueSize),
		zap.String("timezone", e.loc.String()))
	return nil
}

// Stop halts all triggers, then waits for in-flight job bodies to finish or
// for ctx to expire, whichever comes first. Queued-but-unstarted tasks are
// dropped. Idempotent.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false

	cronCtx := e.cron.Stop()
	for id, shot := range e.timers {
		shot.timer.Stop()
		delete(e.timers, id)
	}
	for id := range e.entries {
		delete(e.entries, id)
	}
	close(e.stopCh)
	e.mu.Unlock()

	<-cronCtx.Done()

	drained := make(chan struct{})
	go func() {
		e.workerWG.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		e.logger.Info("Timer engine stopped")
		return nil
	case <-ctx.Done():
		e.logger.Warn("Timer engine stop timed out waiting for in-flight jobs")
		return ctx.Err()
	}
}

// Running reports whether the engine accepts registrations.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// ScheduleOnce registers fn to run once at the given time, replacing any
// existing job with the same id. A fire time already in the past runs
// immediately when it is within the misfire grace; beyond the grace the
// misfire callback fires instead and nothing is registered.
func (e *Engine) ScheduleOnce(id string, at time.Time, fn func(ctx context.Context)) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine is not running")
	}
	e.cancelLocked(id)

	delay := time.Until(at)
	if delay < 0 && -delay > e.cfg.MisfireGrace {
		misfire := e.onMisfire
		e.mu.Unlock()
		if misfire != nil {
			misfire(id, at)
		} else {
			e.logger.Warn("One-shot job missed its window with no misfire handler",
				zap.String("job_id", id), zap.Time("scheduled_for", at))
		}
		return nil
	}
	if delay < 0 {
		delay = 0
	}

	e.gen++
	gen := e.gen
	shot := &oneShot{at: at, gen: gen}
	shot.timer = time.AfterFunc(delay, func() {
		e.fireOnce(id, gen, fn)
	})
	e.timers[id] = shot
	e.mu.Unlock()

	e.logger.Debug("One-shot job registered",
		zap.String("job_id", id), zap.Time("fire_at", at), zap.Duration("in", delay))
	return nil
}

// fireOnce moves a due one-shot onto the queue, unless the registration was
// replaced or cancelled after the timer was armed.
func (e *Engine) fireOnce(id string, gen uint64, fn func(ctx context.Context)) {
	e.mu.Lock()
	shot, ok := e.timers[id]
	if !ok || shot.gen != gen {
		e.mu.Unlock()
		return
	}
	delete(e.timers, id)
	e.mu.Unlock()

	e.enqueue(task{id: id, run: fn})
}

// ScheduleRecurring registers fn on a cron spec (robfig/cron 5-field syntax
// or @every), replacing any existing job with the same id.
func (e *Engine) ScheduleRecurring(id, spec string, fn func(ctx context.Context)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return fmt.Errorf("engine is not running")
	}

	e.cancelLocked(id)

	entryID, err := e.cron.AddFunc(spec, func() {
		e.enqueue(task{id: id, run: fn})
	})
	if err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	e.entries[id] = recurring{entry: entryID, spec: spec}

	e.logger.Debug("Recurring job registered",
		zap.String("job_id", id), zap.String("spec", spec))
	return nil
}

// Cancel deregisters a job so it never fires again. Reports whether a
// registration existed. An already-executing body is not interrupted.
func (e *Engine) Cancel(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelLocked(id)
}

func (e *Engine) cancelLocked(id string) bool {
	found := false
	if shot, ok := e.timers[id]; ok {
		shot.timer.Stop()
		delete(e.timers, id)
		found = true
	}
	if rec, ok := e.entries[id]; ok {
		if e.cron != nil {
			e.cron.Remove(rec.entry)
		}
		delete(e.entries, id)
		found = true
	}
	return found
}

// Jobs snapshots every registered job, ordered by next fire time.
func (e *Engine) Jobs() []JobInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	jobs := make([]JobInfo, 0, len(e.timers)+len(e.entries))
	for id, shot := range e.timers {
		jobs = append(jobs, JobInfo{
			ID:      id,
			Kind:    JobOnce,
			NextRun: shot.at,
			Trigger: fmt.Sprintf("once at %s", shot.at.Format(time.RFC3339)),
		})
	}
	if e.cron != nil {
		for id, rec := range e.entries {
			entry := e.cron.Entry(rec.entry)
			jobs = append(jobs, JobInfo{
				ID:      id,
				Kind:    JobRecurring,
				NextRun: entry.Next,
				Trigger: fmt.Sprintf("cron %q", rec.spec),
			})
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].NextRun.Equal(jobs[j].NextRun) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].NextRun.Before(jobs[j].NextRun)
	})
	return jobs
}

// JobCount returns the number of registered jobs.
func (e *Engine) JobCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.timers) + len(e.entries)
}

func (e *Engine) enqueue(t task) {
	e.mu.Lock()
	q := e.queue
	running := e.running
	e.mu.Unlock()
	if !running || q == nil {
		e.logger.Debug("Engine not running, dropping task", zap.String("job_id", t.id))
		return
	}
	select {
	case q <- t:
	default:
		e.logger.Warn("Engine queue full, dropping task",
			zap.String("job_id", t.id), zap.Int("queue_cap", cap(q)))
	}
}

func (e *Engine) worker(idx int, stopCh <-chan struct{}, queue <-chan task) {
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-stopCh:
			return
		default:
		}

		select {
		case <-stopCh:
			return
		case t := <-queue:
			e.execute(idx, t)
		}
	}
}

// execute runs one task with panic isolation. A panicking job body must
// never take down the engine loop.
func (e *Engine) execute(idx int, t task) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic in job body",
				zap.String("job_id", t.id),
				zap.Int("worker", idx),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())))
		}
	}()

	start := time.Now()
	t.run(context.Background())
	e.logger.Debug("Job body finished",
		zap.String("job_id", t.id),
		zap.Duration("duration", time.Since(start)))
}
