package service

import (
	"context"
	"sync"

	"pkgsearch/internal/platform/logger"
	"pkgsearch/internal/services/watch/domain"
)

// checkpointer is the only writer of the persisted sequence.
// Saves are serialized in submission order and each completes before the
// next begins; a non-positive seq or one not above the current mark is a
// no-op (a lower one is logged) so retries and synthetic refresh jobs can
// never move the low-water mark backwards
type checkpointer struct {
	mu    sync.Mutex
	store domain.StatePort
	log   logger.Logger

	cur    domain.State
	loaded bool
}

func newCheckpointer(store domain.StatePort) *checkpointer {
	return &checkpointer{store: store, log: *logger.Named("checkpoint")}
}

// Get returns the persisted state, reading through on first use
func (c *checkpointer) Get(ctx context.Context) (domain.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		st, err := c.store.Get(ctx)
		if err != nil {
			return domain.State{}, err
		}
		c.cur = st
		c.loaded = true
	}
	return c.cur, nil
}

// SaveStage persists the pipeline stage
func (c *checkpointer) SaveStage(ctx context.Context, stage string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.Save(ctx, domain.StatePatch{Stage: &stage}); err != nil {
		return err
	}
	c.cur.Stage = stage
	return nil
}

// SaveSeq persists a new low-water mark; monotonic, rejects seq <= 0
func (c *checkpointer) SaveSeq(ctx context.Context, seq int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq <= 0 || seq <= c.cur.Seq {
		if seq < c.cur.Seq {
			c.log.Debug().Int64("seq", seq).Int64("current", c.cur.Seq).Msg("stale seq save skipped")
		}
		return nil
	}
	if err := c.store.Save(ctx, domain.StatePatch{Seq: &seq}); err != nil {
		return err
	}
	c.cur.Seq = seq
	return nil
}

// Seq returns the in-memory view of the checkpoint
func (c *checkpointer) Seq() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur.Seq
}
