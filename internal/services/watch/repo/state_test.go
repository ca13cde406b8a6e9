package repo

import (
	"context"
	"strings"
	"testing"

	"pkgsearch/internal/platform/store"
	"pkgsearch/internal/platform/testkit"
	"pkgsearch/internal/services/watch/domain"
)

// fakeDB records statements and serves one scripted state row
type fakeDB struct {
	execs [][]any // sql + args
	row   *domain.State
}

type fakeTag struct{}

func (fakeTag) String() string      { return "OK" }
func (fakeTag) RowsAffected() int64 { return 1 }

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (store.CommandTag, error) {
	f.execs = append(f.execs, append([]any{sql}, args...))
	return fakeTag{}, nil
}

func (f *fakeDB) Query(_ context.Context, _ string, _ ...any) (store.Rows, error) {
	return &fakeRows{state: f.row}, nil
}

func (f *fakeDB) QueryRow(_ context.Context, _ string, _ ...any) store.Row {
	return &fakeRows{state: f.row}
}

func (f *fakeDB) Tx(ctx context.Context, fn func(q store.RowQuerier) error) error { return fn(f) }

type fakeRows struct {
	state *domain.State
	done  bool
}

func (r *fakeRows) Next() bool {
	if r.state == nil || r.done {
		return false
	}
	r.done = true
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	*(dest[0].(*string)) = r.state.Stage
	*(dest[1].(*int64)) = r.state.Seq
	return nil
}

func (r *fakeRows) Err() error { return nil }
func (r *fakeRows) Close()     {}

func TestNewState_RequiresDB(t *testing.T) {
	testkit.MustPanic(t, func() { NewState(nil) })
}

func TestGet_MissingRowIsZeroState(t *testing.T) {
	r := NewState(&fakeDB{})
	st, err := r.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.Stage != "" || st.Seq != 0 {
		t.Fatalf("state = %+v, want zero", st)
	}
}

func TestGet(t *testing.T) {
	r := NewState(&fakeDB{row: &domain.State{Stage: "watch", Seq: 99}})
	st, err := r.Get(context.Background())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if st.Stage != "watch" || st.Seq != 99 {
		t.Fatalf("state = %+v", st)
	}
}

func TestSave_PartialPatchKeepsOtherFields(t *testing.T) {
	db := &fakeDB{}
	r := NewState(db)

	seq := int64(7)
	if err := r.Save(context.Background(), domain.StatePatch{Seq: &seq}); err != nil {
		t.Fatalf("save: %v", err)
	}

	if len(db.execs) != 1 {
		t.Fatalf("execs = %d, want 1", len(db.execs))
	}
	sql := db.execs[0][0].(string)
	if !strings.Contains(sql, "coalesce") || !strings.Contains(sql, "on conflict") {
		t.Fatalf("save sql lacks partial-update shape:\n%s", sql)
	}
	// args: row id, nil stage, seq pointer
	if db.execs[0][2] != (*string)(nil) {
		t.Fatalf("stage arg = %#v, want nil pointer", db.execs[0][2])
	}
	if got := db.execs[0][3].(*int64); got == nil || *got != 7 {
		t.Fatalf("seq arg = %#v, want 7", db.execs[0][3])
	}
}
