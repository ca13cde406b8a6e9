package service

import (
	"context"

	"pkgsearch/internal/adapters/search"
	perr "pkgsearch/internal/platform/errors"
	"pkgsearch/internal/services/watch/domain"
)

// processOne applies a single change: fetch the document at its revision,
// format it, and upsert the record. A Gone-coded return means the document
// no longer exists and the wrapper should delete it from the index.
// Any other error is transient and eligible for retry
func (s *Svc) processOne(ctx context.Context, job *domain.Job) error {
	s.metrics.IncPackages(ctx)
	ch := job.Change

	// heartbeats are filtered at queue entry; a leak here is a bug, not a
	// reason to retry
	if ch.ID == "" {
		s.log.Error().Int64("seq", ch.Seq).Msg("empty package id reached the pipeline")
		return nil
	}

	if job.Retry > 0 {
		s.sleep(backoffDelay(s.cfg.RetryBackoffBase, s.cfg.RetryBackoffPow, job.Retry))
	}

	if ch.Deleted {
		return perr.Gonef("package %s flagged deleted on the feed", ch.ID)
	}
	if len(ch.Changes) == 0 {
		s.log.Info().Str("package", ch.ID).Int64("seq", ch.Seq).Msg("change carries no revisions")
		return nil
	}

	raw, err := s.registry.GetDoc(ctx, ch.ID, ch.Changes[0].Rev)
	if err != nil {
		// a lookup failure means the document vanished between the feed
		// emission and the fetch; same outcome as a deleted flag
		if perr.IsCode(err, perr.ErrorCodeNotFound) {
			return perr.Wrapf(err, perr.ErrorCodeGone, "package %s gone at fetch", ch.ID)
		}
		return perr.Wrapf(err, perr.ErrorCodeUnavailable, "fetch %s@%s", ch.ID, ch.Changes[0].Rev)
	}

	rec, err := s.format.Format(ch.ID, raw)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeUnknown, "format %s", ch.ID)
	}
	if rec == nil {
		s.log.Debug().Str("package", ch.ID).Msg("not indexable, skipped")
		return nil
	}
	return s.index.Upsert(ctx, rec)
}

// lostRecord builds the forensic payload for an exhausted job
func (s *Svc) lostRecord(job *domain.Job, err error) search.LostRecord {
	return search.LostRecord{
		ObjectID: job.Change.ID,
		Seq:      job.Change.Seq,
		Attempts: job.Retry,
		Error:    err.Error(),
		RunID:    s.runID,
		FailedAt: s.now().UTC(),
	}
}
