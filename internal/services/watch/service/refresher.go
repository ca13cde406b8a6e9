package service

import (
	"context"
	"strconv"
	"time"

	"pkgsearch/internal/adapters/search"
	perr "pkgsearch/internal/platform/errors"
	"pkgsearch/internal/services/watch/domain"
)

// refreshBatch bounds how many stale records one sweep re-enqueues
const refreshBatch = 20

// runRefresher sweeps the index for stale records on a timer.
// Best effort: a failed sweep logs and waits for the next tick
func (s *Svc) runRefresher(ctx context.Context) {
	t := time.NewTimer(s.cfg.RefreshPeriod)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.refreshStale(ctx); err != nil {
				s.log.Warn().Err(err).Msg("refresh sweep failed")
			}
			t.Reset(s.cfg.RefreshPeriod)
		}
	}
}

// refreshStale finds the oldest expiry bucket via facet statistics and
// re-enqueues its records as synthetic changes. Records the live feed has
// touched more recently than the indexed copy are skipped: a fresher update
// is already in flight
func (s *Svc) refreshStale(ctx context.Context) error {
	res, err := s.index.Search(ctx, search.Query{
		Facets:            []string{search.FacetExpiresAt},
		HitsPerPage:       0,
		SortFacetValuesBy: "alpha",
	})
	if err != nil {
		return err
	}
	buckets := res.Facets[search.FacetExpiresAt]
	if len(buckets) == 0 {
		return nil
	}

	oldest := ""
	for v := range buckets {
		if oldest == "" || v < oldest {
			oldest = v
		}
	}
	epoch, err := strconv.ParseInt(oldest, 10, 64)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeUnknown, "bad expiry facet value %q", oldest)
	}
	if time.UnixMilli(epoch).After(s.now()) {
		return nil
	}

	res, err = s.index.Search(ctx, search.Query{
		FacetFilters: []string{search.FacetExpiresAt + ":" + oldest},
		HitsPerPage:  refreshBatch,
	})
	if err != nil {
		return err
	}

	injected := 0
	for _, hit := range res.Hits {
		if hit.Rev == "" {
			continue
		}
		s.mu.Lock()
		seen, ok := s.lastSeen[hit.ObjectID]
		s.mu.Unlock()
		if ok && seen.After(time.UnixMilli(hit.Modified)) {
			continue
		}
		s.queue.Unshift(&domain.Job{
			Change: domain.Change{
				ID:      hit.ObjectID,
				Seq:     domain.SyntheticSeq,
				Changes: []domain.ChangeRev{{Rev: hit.Rev}},
			},
			IgnoreSeq: true,
		})
		injected++
	}
	if injected > 0 {
		s.log.Info().Int("count", injected).Str("bucket", oldest).Msg("stale records re-enqueued")
	}
	return nil
}
