package service

import (
	"context"
	"sort"
	"time"

	"pkgsearch/internal/services/watch/domain"
)

// runReaper re-enqueues parked jobs on a timer. Self-rescheduling, so a slow
// sweep never overlaps the next one
func (s *Svc) runReaper(ctx context.Context) {
	t := time.NewTimer(s.cfg.RetrySkipped)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.reapSkipped()
			t.Reset(s.cfg.RetrySkipped)
		}
	}
}

// reapSkipped snapshots and clears the parked set, then pushes each job back
// at the front of the queue. Reaped jobs restart their retry budget and
// carry ignoreSeq: their seq is older than the current checkpoint
func (s *Svc) reapSkipped() {
	s.mu.Lock()
	if len(s.parked) == 0 {
		s.mu.Unlock()
		return
	}
	jobs := make([]*domain.Job, 0, len(s.parked))
	for _, j := range s.parked {
		jobs = append(jobs, j)
	}
	s.parked = make(map[string]*domain.Job)
	s.mu.Unlock()

	// map order is random; keep reinjection deterministic
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].Change.ID < jobs[k].Change.ID })

	for _, j := range jobs {
		s.queue.Unshift(&domain.Job{Change: j.Change, Retry: 0, IgnoreSeq: true})
	}
	s.log.Info().Int("count", len(jobs)).Msg("parked jobs re-enqueued")
}
