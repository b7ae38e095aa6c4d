package cronrunner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"copyfund/internal/lease"
	"copyfund/internal/metrics"
	"copyfund/internal/paas"
)

// Job is one scheduler task. The returned error is logged, counted and
// reported; it never stops the runner.
type Job func(ctx context.Context) error

var ErrUnknownJob = errors.New("unknown job")

type Options struct {
	Logger   *zap.Logger
	BaseCtx  context.Context
	Locker   lease.Locker
	LeaseTTL time.Duration
	Metrics  *metrics.Metrics
	Reporter *paas.Reporter
	Location *time.Location
}

type entry struct {
	name    string
	spec    string
	job     Job
	id      cron.EntryID
	running atomic.Bool
}

// JobInfo describes a registered job for the ops API.
type JobInfo struct {
	Name    string     `json:"name"`
	Spec    string     `json:"spec,omitempty"`
	Running bool       `json:"running"`
	Next    *time.Time `json:"next,omitempty"`
	Prev    *time.Time `json:"prev,omitempty"`
}

type Runner struct {
	cron     *cron.Cron
	logger   *zap.Logger
	baseCtx  context.Context
	locker   lease.Locker
	leaseTTL time.Duration
	metrics  *metrics.Metrics
	reporter *paas.Reporter

	mu   sync.RWMutex
	jobs map[string]*entry
}

func New(opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	baseCtx := opts.BaseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	ttl := opts.LeaseTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	cl := zapCronLogger{l: logger}
	return &Runner{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		logger:   logger,
		baseCtx:  baseCtx,
		locker:   opts.Locker,
		leaseTTL: ttl,
		metrics:  opts.Metrics,
		reporter: opts.Reporter,
		jobs:     map[string]*entry{},
	}
}

// Register makes a job available to Trigger without scheduling it.
func (r *Runner) Register(name string, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[name]; ok {
		return fmt.Errorf("job %q already registered", name)
	}
	r.jobs[name] = &entry{name: name, job: job}
	return nil
}

// Add registers a job and schedules it. An empty spec only registers it.
func (r *Runner) Add(name, spec string, job Job) (cron.EntryID, error) {
	if err := r.Register(name, job); err != nil {
		return 0, err
	}
	if spec == "" {
		return 0, nil
	}
	r.mu.Lock()
	e := r.jobs[name]
	r.mu.Unlock()
	id, err := r.cron.AddFunc(spec, func() {
		_, _ = r.run(r.baseCtx, e, "cron")
	})
	if err != nil {
		r.mu.Lock()
		delete(r.jobs, name)
		r.mu.Unlock()
		return 0, fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}
	r.mu.Lock()
	e.spec = spec
	e.id = id
	r.mu.Unlock()
	return id, nil
}

// Trigger runs a job now through the same guards as a cron tick. ran is
// false when the run was skipped because it is already running here or
// leased by another replica.
func (r *Runner) Trigger(ctx context.Context, name string) (ran bool, err error) {
	r.mu.RLock()
	e, ok := r.jobs[name]
	r.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return r.run(ctx, e, "manual")
}

func (r *Runner) Jobs() []JobInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]JobInfo, 0, len(r.jobs))
	for _, e := range r.jobs {
		info := JobInfo{Name: e.name, Spec: e.spec, Running: e.running.Load()}
		if e.id != 0 {
			ce := r.cron.Entry(e.id)
			if !ce.Next.IsZero() {
				next := ce.Next
				info.Next = &next
			}
			if !ce.Prev.IsZero() {
				prev := ce.Prev
				info.Prev = &prev
			}
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Runner) run(ctx context.Context, e *entry, trigger string) (ran bool, err error) {
	log := r.logger.With(zap.String("job", e.name), zap.String("trigger", trigger))
	if !e.running.CompareAndSwap(false, true) {
		log.Info("previous run still active, skipping")
		r.metrics.JobSkip(e.name, "running")
		return false, nil
	}
	defer e.running.Store(false)

	if r.locker != nil {
		held, ok, lerr := r.locker.Acquire(ctx, e.name, r.leaseTTL)
		if lerr != nil {
			log.Warn("job lease unavailable, skipping", zap.Error(lerr))
			r.metrics.JobSkip(e.name, "lease_error")
			return false, lerr
		}
		if !ok {
			log.Info("job leased by another replica, skipping")
			r.metrics.JobSkip(e.name, "leased")
			return false, nil
		}
		stop := r.keepLease(ctx, held, log)
		defer held.Release()
		defer stop()
	}

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job %s panicked: %v", e.name, p)
		}
		r.metrics.ObserveJob(e.name, start, err)
		dur := time.Since(start)
		if err != nil {
			log.Warn("job failed", zap.Duration("duration", dur), zap.Error(err))
			r.reporter.Report("copyfund_job_"+e.name+"_failed", "warn", map[string]any{
				"trigger":  trigger,
				"duration": dur.String(),
				"error":    err.Error(),
			})
			return
		}
		log.Info("job done", zap.Duration("duration", dur))
		r.reporter.Report("copyfund_job_"+e.name+"_ok", "info", map[string]any{
			"trigger":  trigger,
			"duration": dur.String(),
		})
	}()
	ran = true
	err = e.job(ctx)
	return ran, err
}

// keepLease refreshes the lease every third of its TTL until stop is called,
// so a job that outlives the TTL keeps other replicas out.
func (r *Runner) keepLease(ctx context.Context, held lease.Lease, log *zap.Logger) (stop func()) {
	interval := r.leaseTTL / 3
	if interval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), interval)
				ok, err := held.Refresh(refreshCtx, r.leaseTTL)
				cancel()
				switch {
				case err != nil:
					log.Warn("job lease refresh failed", zap.Error(err))
				case !ok:
					log.Warn("job lease lost while running")
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (r *Runner) Start() {
	r.logger.Info("cron started")
	r.cron.Start()
}

// Stop waits for running cron jobs to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("cron stopped")
}

type zapCronLogger struct {
	l *zap.Logger
}

func (z zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	z.l.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (z zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	z.l.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
