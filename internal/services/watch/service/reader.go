package service

import (
	"context"
	"time"

	"pkgsearch/internal/services/watch/domain"
)

// readFeed drives the live subscription: every event becomes a job, and the
// prefetch watermark pauses the upstream reader when the queue runs ahead
func (s *Svc) readFeed(ctx context.Context, feed domain.Feed) {
	for {
		select {
		case <-ctx.Done():
			return
		case ch, ok := <-feed.Events():
			if !ok {
				return
			}
			s.onChange(ch)
		}
	}
}

// onChange enqueues one live event and applies the high watermark
func (s *Svc) onChange(ch domain.Change) {
	if ch.ID != "" {
		s.mu.Lock()
		s.lastSeen[ch.ID] = s.now()
		s.mu.Unlock()
	}

	// heartbeats are rejected at queue entry; nothing else to do for them
	if !s.queue.Push(&domain.Job{Change: ch}) {
		if ch.ID == "" {
			s.log.Trace().Int64("seq", ch.Seq).Msg("heartbeat dropped")
		}
		return
	}
	s.metrics.SetQueueLen(s.queue.Len())

	if s.queue.Len() > s.cfg.MaxPrefetch {
		s.mu.Lock()
		feed, already := s.feed, s.paused
		s.paused = true
		s.mu.Unlock()
		if !already && feed != nil {
			feed.Pause()
			s.log.Info().Int("queue_len", s.queue.Len()).Msg("feed paused on prefetch watermark")
		}
	}
}

// onBelowWatermark fires when the queue drains below the low watermark;
// resume the feed if we paused it
func (s *Svc) onBelowWatermark() {
	if s.queue.Len() >= s.cfg.MinUnpause {
		return
	}
	s.mu.Lock()
	feed, wasPaused := s.feed, s.paused
	s.paused = false
	s.mu.Unlock()
	if wasPaused && feed != nil {
		feed.Resume()
		s.log.Info().Int("queue_len", s.queue.Len()).Msg("feed resumed below unpause watermark")
	}
}

// runTotalSeqGauge refreshes the registry head sequence on a timer;
// best effort, errors only log
func (s *Svc) runTotalSeqGauge(ctx context.Context) {
	t := time.NewTimer(s.cfg.TotalSeqEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			info, err := s.registry.Info(ctx)
			if err != nil {
				s.log.Warn().Err(err).Msg("registry info failed")
			} else {
				s.mu.Lock()
				s.totalSeq = info.UpdateSeq
				s.mu.Unlock()
				s.metrics.SetTotalSeq(info.UpdateSeq)
			}
			t.Reset(s.cfg.TotalSeqEvery)
		}
	}
}
