// Package service contains the watch ingestion engine
package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	perr "pkgsearch/internal/platform/errors"
	"pkgsearch/internal/platform/logger"
	"pkgsearch/internal/platform/observability"
	"pkgsearch/internal/services/watch/domain"
)

// Config carries runtime knobs for the watcher
type Config struct {
	// MaxPrefetch pauses the feed when the queue grows past it
	MaxPrefetch int

	// MinUnpause resumes the feed once the queue drains below it
	MinUnpause int

	// RetryMax is the per-job in-queue retry ceiling
	RetryMax int

	// RetryBackoffBase and RetryBackoffPow shape the attempt delay
	RetryBackoffBase time.Duration
	RetryBackoffPow  float64

	// RetrySkipped is the parked-set reaper period
	RetrySkipped time.Duration

	// RefreshPeriod runs the stale-record scanner; 0 disables it
	RefreshPeriod time.Duration

	// TotalSeqEvery refreshes the registry head gauge
	TotalSeqEvery time.Duration
}

// Svc implements the watch service
type Svc struct {
	log   logger.Logger
	cfg   Config
	runID string

	registry domain.RegistryPort
	index    domain.IndexPort
	lost     domain.LostPort
	format   domain.FormatterPort
	state    *checkpointer
	metrics  *observability.WatchMetrics

	queue *orderedQueue

	// mu guards the cooperative state below; never held across I/O
	mu       sync.Mutex
	parked   map[string]*domain.Job
	lastSeen map[string]time.Time
	totalSeq int64
	paused   bool
	feed     domain.Feed

	// jobCtx outlives Run's ctx so an in-flight job finishes cleanly on stop
	jobCtx   context.Context
	stopOnce sync.Once

	now   func() time.Time
	sleep func(time.Duration)
}

// New constructs the watch service
func New(cfg Config, reg domain.RegistryPort, index domain.IndexPort, lost domain.LostPort,
	format domain.FormatterPort, state domain.StatePort, metrics *observability.WatchMetrics,
) *Svc {
	return &Svc{
		log:      *logger.Named("watch"),
		cfg:      cfg,
		runID:    uuid.NewString(),
		registry: reg,
		index:    index,
		lost:     lost,
		format:   format,
		state:    newCheckpointer(state),
		metrics:  metrics,
		parked:   make(map[string]*domain.Job),
		lastSeen: make(map[string]time.Time),
		jobCtx:   context.Background(),
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// RunID identifies this watcher process in logs and lost records
func (s *Svc) RunID() string { return s.runID }

// Run starts the pipeline and blocks until ctx is done.
// Only setup failures (state read, feed start) surface; per-job failures
// never exit the loop
func (s *Svc) Run(ctx context.Context) error {
	st, err := s.state.Get(ctx)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "read pipeline state")
	}
	if err := s.state.SaveStage(ctx, domain.StageWatch); err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "persist watch stage")
	}
	s.metrics.SetSeq(st.Seq)
	s.jobCtx = context.WithoutCancel(ctx)

	s.mu.Lock()
	s.queue = newOrderedQueue(s.cfg.MinUnpause, s.handle, s.onBelowWatermark)
	s.mu.Unlock()

	go s.runTotalSeqGauge(ctx)
	go s.runReaper(ctx)
	if s.cfg.RefreshPeriod > 0 {
		go s.runRefresher(ctx)
	}

	feed, err := s.registry.Changes(ctx, st.Seq)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "open change feed")
	}
	s.mu.Lock()
	s.feed = feed
	s.mu.Unlock()

	s.log.Info().Str("run_id", s.runID).Int64("since", st.Seq).Msg("watching registry changes")
	s.readFeed(ctx, feed)
	s.stop()
	return nil
}

// Status returns the progress snapshot for the ops surface
func (s *Svc) Status() domain.Status {
	s.mu.Lock()
	total := s.totalSeq
	parked := len(s.parked)
	paused := s.paused
	q := s.queue
	s.mu.Unlock()

	st := domain.Status{
		RunID:    s.runID,
		Stage:    domain.StageWatch,
		Seq:      s.state.Seq(),
		TotalSeq: total,
		Parked:   parked,
		Paused:   paused,
	}
	if q != nil {
		st.QueueLen = q.Len()
		st.QueueRunning = q.Running()
	}
	return st
}

// stop performs the cooperative drain; idempotent, never raises
func (s *Svc) stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		feed := s.feed
		s.mu.Unlock()
		if feed != nil {
			feed.Stop()
		}
		if s.queue != nil {
			s.queue.Close()
			s.queue.Drain()
		}
		s.log.Info().Str("run_id", s.runID).Msg("watcher stopped")
	})
}

// handle is the per-job wrapper around processOne: parked supersession,
// checkpointing, retry routing, and telemetry
func (s *Svc) handle(job *domain.Job) {
	start := s.now()
	id := job.Change.ID
	ctx := s.jobCtx

	// a fresh update supersedes stale parked state for the same id
	s.mu.Lock()
	delete(s.parked, id)
	s.mu.Unlock()

	// retries must not regress the checkpoint if an earlier attempt advanced it
	ignoreSeq := job.IgnoreSeq || job.Retry > 0

	err := s.processOne(ctx, job)
	switch {
	case err == nil:
		s.advance(ctx, job, ignoreSeq)
	case perr.IsCode(err, perr.ErrorCodeGone):
		// deleted upstream: drop it from the index; a failed delete is
		// transient and retried like any other failure
		if derr := s.index.Delete(ctx, id); derr != nil {
			s.fail(ctx, job, derr)
		} else {
			s.log.Debug().Str("package", id).Msg("deleted from index")
			s.advance(ctx, job, ignoreSeq)
		}
	default:
		s.fail(ctx, job, err)
	}

	if !ignoreSeq {
		s.log.Debug().Str("package", id).Int64("seq", job.Change.Seq).Int64("checkpoint", s.state.Seq()).
			Msg("change handled")
	}
	s.metrics.ObserveHandler(ctx, s.now().Sub(start))
	s.metrics.SetQueueLen(s.queue.Len())
}

// advance moves the checkpoint after a successful job unless the seq is stale
func (s *Svc) advance(ctx context.Context, job *domain.Job, ignoreSeq bool) {
	if ignoreSeq {
		return
	}
	if err := s.state.SaveSeq(ctx, job.Change.Seq); err != nil {
		// at-least-once holds without the save; resume just replays
		s.log.Error().Err(err).Int64("seq", job.Change.Seq).Msg("checkpoint save failed")
		return
	}
	s.metrics.SetSeq(s.state.Seq())
}

// fail routes one failed attempt: retry at the front of the queue, or park
func (s *Svc) fail(ctx context.Context, job *domain.Job, err error) {
	job.Retry++
	s.metrics.IncFailures(ctx)
	s.log.Error().Err(err).Str("package", job.Change.ID).Int64("seq", job.Change.Seq).
		Int("retry", job.Retry).Msg("change processing failed")

	if job.Retry <= s.cfg.RetryMax {
		s.queue.Unshift(job)
		return
	}

	s.mu.Lock()
	s.parked[job.Change.ID] = job
	s.mu.Unlock()

	// forensic write is best effort; an unhealthy lost index must not block
	// the pipeline
	if lerr := s.lost.UpsertObject(ctx, job.Change.ID, s.lostRecord(job, err)); lerr != nil {
		s.log.Warn().Err(lerr).Str("package", job.Change.ID).Msg("lost index write failed")
	}
}
