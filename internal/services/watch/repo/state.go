// Package repo persists the watch pipeline state
package repo

import (
	"context"

	perr "pkgsearch/internal/platform/errors"
	"pkgsearch/internal/platform/store"
	"pkgsearch/internal/services/watch/domain"
)

// stateRowID pins the single watch_state row
const stateRowID = 1

// State reads and writes the watch_state row
type State struct {
	db store.TxRunner
}

// NewState binds the repo to a TxRunner
func NewState(db store.TxRunner) *State {
	if db == nil {
		panic("watch repo requires a non nil TxRunner")
	}
	return &State{db: db}
}

// EnsureSchema creates the state table when missing.
// The watcher owns this single table, so no migration tool is involved
func (r *State) EnsureSchema(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
		create table if not exists watch_state (
			id         smallint primary key,
			stage      text not null default '',
			seq        bigint not null default 0,
			updated_at timestamptz not null default now()
		)`)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "ensure watch_state")
	}
	return nil
}

// Get loads the persisted state; a missing row is the zero state
func (r *State) Get(ctx context.Context) (domain.State, error) {
	var st domain.State
	rows, err := r.db.Query(ctx, `select stage, seq from watch_state where id = $1`, stateRowID)
	if err != nil {
		return st, perr.Wrap(err, perr.ErrorCodeUnavailable, "read watch_state")
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&st.Stage, &st.Seq); err != nil {
			return st, perr.Wrap(err, perr.ErrorCodeUnavailable, "scan watch_state")
		}
	}
	return st, rows.Err()
}

// Save applies a partial update; nil fields keep their stored value
func (r *State) Save(ctx context.Context, patch domain.StatePatch) error {
	_, err := r.db.Exec(ctx, `
		insert into watch_state (id, stage, seq, updated_at)
		values ($1, coalesce($2, ''), coalesce($3, 0), now())
		on conflict (id) do update set
			stage      = coalesce($2, watch_state.stage),
			seq        = coalesce($3, watch_state.seq),
			updated_at = now()`,
		stateRowID, patch.Stage, patch.Seq)
	if err != nil {
		return perr.Wrap(err, perr.ErrorCodeUnavailable, "write watch_state")
	}
	return nil
}
