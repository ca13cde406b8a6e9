package service

import (
	"context"
	"testing"

	"pkgsearch/internal/services/watch/domain"
)

func TestCheckpointer_Monotonic(t *testing.T) {
	st := &fakeState{}
	c := newCheckpointer(st)
	ctx := context.Background()

	if _, err := c.Get(ctx); err != nil {
		t.Fatalf("get: %v", err)
	}
	for _, seq := range []int64{5, 10, 7, 10, 12} {
		if err := c.SaveSeq(ctx, seq); err != nil {
			t.Fatalf("save %d: %v", seq, err)
		}
	}

	if got := st.savedSeqs(); len(got) != 3 || got[0] != 5 || got[1] != 10 || got[2] != 12 {
		t.Fatalf("persisted seqs = %v, want [5 10 12]", got)
	}
	if c.Seq() != 12 {
		t.Fatalf("in-memory seq = %d, want 12", c.Seq())
	}
}

func TestCheckpointer_RejectsNonPositiveSeq(t *testing.T) {
	st := &fakeState{}
	c := newCheckpointer(st)
	ctx := context.Background()

	if err := c.SaveSeq(ctx, domain.SyntheticSeq); err != nil {
		t.Fatalf("save sentinel: %v", err)
	}
	if err := c.SaveSeq(ctx, 0); err != nil {
		t.Fatalf("save zero: %v", err)
	}
	if got := st.savedSeqs(); len(got) != 0 {
		t.Fatalf("persisted seqs = %v, want none", got)
	}
}

func TestCheckpointer_StagePreservesSeq(t *testing.T) {
	st := &fakeState{state: domain.State{Stage: "", Seq: 42}}
	c := newCheckpointer(st)
	ctx := context.Background()

	if _, err := c.Get(ctx); err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := c.SaveStage(ctx, domain.StageWatch); err != nil {
		t.Fatalf("save stage: %v", err)
	}
	if st.state.Stage != domain.StageWatch || st.state.Seq != 42 {
		t.Fatalf("state = %+v, want stage watch with seq 42", st.state)
	}
	// stale seq from before the stored mark is refused
	if err := c.SaveSeq(ctx, 41); err != nil {
		t.Fatalf("save stale: %v", err)
	}
	if got := st.savedSeqs(); len(got) != 0 {
		t.Fatalf("persisted seqs = %v, want none", got)
	}
}
