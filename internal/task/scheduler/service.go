package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "lcdaily/pkg/logx"
)

var (
	ErrUnknownJob = errors.New("schedule not found")
	ErrJobRunning = errors.New("job already running")
)

type Config struct {
	// Timezone for cron expressions; empty means time.Local.
	Timezone string
}

// Job is one scheduled unit of work. ctx is cancelled on Stop or timeout.
type Job func(ctx context.Context) error

type jobDef struct {
	name    string
	spec    ParsedSpec
	timeout time.Duration
	job     Job
	entryID cron.EntryID
}

// EntryInfo is a point-in-time view of a registered job.
type EntryInfo struct {
	Name string
	Spec string
	Next time.Time
	Prev time.Time
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	log    logx.Logger
	parser cron.Parser
	c      *cron.Cron
	loc    *time.Location
	defs   map[string]*jobDef
	// draining holds the stop contexts of crons replaced by Apply; each is done
	// once its running jobs return.
	draining []context.Context

	// runCtx is read by running jobs without s.mu.
	runCtx    atomic.Pointer[context.Context]
	runCancel context.CancelFunc
	// running holds the names of jobs in flight. It spans cron instances, so a
	// timezone swap cannot start a second copy of a long job.
	running sync.Map
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg: cfg,
		log: log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		defs:   map[string]*jobDef{},
	}
}

// Add registers (or replaces) a named job. schedule accepts the forms of ParseSchedule.
func (s *Service) Add(name, schedule string, timeout time.Duration, job Job) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	if ps.Kind == SpecCron {
		if _, err := s.parser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &jobDef{name: name, spec: ps, timeout: timeout, job: job}
	s.defs[name] = d
	if s.c != nil {
		s.registerLocked(d)
	}
	return nil
}

// Remove unregisters a job. Unknown names are ignored.
func (s *Service) Remove(name string) {
	s.mu.Lock()
	s.removeLocked(name)
	s.mu.Unlock()
}

func (s *Service) removeLocked(name string) {
	d, ok := s.defs[name]
	if !ok {
		return
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
}

// Apply updates config. A timezone change swaps in a new cron with every job
// re-registered; jobs still running on the old one finish on their own.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := strings.TrimSpace(s.cfg.Timezone) != strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if s.c == nil || !changed {
		return
	}
	kept := s.draining[:0]
	for _, d := range s.draining {
		if d.Err() == nil {
			kept = append(kept, d)
		}
	}
	s.draining = append(kept, s.c.Stop())
	s.startLocked()
	s.log.Info("service restarted", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Start begins triggering. Jobs receive contexts derived from ctx.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.runCtx.Store(&runCtx)
	s.runCancel = cancel
	s.startLocked()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) startLocked() {
	s.loc = s.loadLocationLocked()
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, d := range s.defs {
		s.registerLocked(d)
	}
	s.c.Start()
}

func (s *Service) registerLocked(d *jobDef) {
	job := cron.FuncJob(func() { _ = s.run(d) })
	if d.spec.Kind == SpecInterval {
		d.entryID = s.c.Schedule(intervalWithSpread(d.spec.Every, time.Now().In(s.loc), d.name), job)
		return
	}
	id, err := s.c.AddJob(d.spec.Cron, job)
	if err != nil {
		s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec.Cron), logx.Err(err))
		return
	}
	d.entryID = id
}

// Stop stops triggering and waits for running jobs until ctx is done, then
// cancels them.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	waits := s.draining
	if s.c != nil {
		waits = append(waits, s.c.Stop())
	}
	cancel := s.runCancel
	s.c, s.draining = nil, nil
	s.mu.Unlock()

	for _, w := range waits {
		select {
		case <-w.Done():
		case <-ctx.Done():
		}
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

// Trigger runs a registered job now, synchronously, outside the cron chain.
// It returns ErrJobRunning when the job is already in flight.
func (s *Service) Trigger(name string) error {
	s.mu.Lock()
	d, ok := s.defs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownJob)
	}
	return s.run(d)
}

func (s *Service) run(d *jobDef) error {
	if _, busy := s.running.LoadOrStore(d.name, struct{}{}); busy {
		s.log.Debug("job skipped; previous run still active", logx.String("name", d.name))
		return fmt.Errorf("%s: %w", d.name, ErrJobRunning)
	}
	defer s.running.Delete(d.name)

	ctx := context.Background()
	if p := s.runCtx.Load(); p != nil {
		ctx = *p
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	err := d.job(ctx)
	if err != nil {
		s.log.Warn("job failed", logx.String("name", d.name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return err
	}
	s.log.Debug("job done", logx.String("name", d.name), logx.Duration("took", time.Since(start)))
	return nil
}

// Entries lists registered jobs sorted by name.
func (s *Service) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EntryInfo, 0, len(s.defs))
	for _, d := range s.defs {
		info := EntryInfo{Name: d.name, Spec: d.spec.Cron}
		if d.spec.Kind == SpecInterval {
			info.Spec = "@every " + d.spec.Every.String()
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger adapts logx to cron.Logger for the Recover/SkipIfStillRunning chain.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
