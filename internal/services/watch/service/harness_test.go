package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"pkgsearch/internal/adapters/registry"
	"pkgsearch/internal/adapters/search"
	"pkgsearch/internal/services/watch/domain"
)

// fakeFeed delivers scripted changes and records pause/resume/stop calls
type fakeFeed struct {
	events chan domain.Change

	mu      sync.Mutex
	pauses  int
	resumes int
	stops   int
}

func newFakeFeed(buf int) *fakeFeed {
	return &fakeFeed{events: make(chan domain.Change, buf)}
}

func (f *fakeFeed) Events() <-chan domain.Change { return f.events }

func (f *fakeFeed) Pause() {
	f.mu.Lock()
	f.pauses++
	f.mu.Unlock()
}

func (f *fakeFeed) Resume() {
	f.mu.Lock()
	f.resumes++
	f.mu.Unlock()
}

func (f *fakeFeed) Stop() {
	f.mu.Lock()
	if f.stops == 0 {
		close(f.events)
	}
	f.stops++
	f.mu.Unlock()
}

func (f *fakeFeed) emit(ch domain.Change) { f.events <- ch }

func (f *fakeFeed) counts() (pauses, resumes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pauses, f.resumes
}

// fakeRegistry scripts document fetches; fetchErr fires per call in order
type fakeRegistry struct {
	feed *fakeFeed

	mu       sync.Mutex
	fetches  []string // "id@rev"
	fetchErr map[string][]error
	gate     chan struct{} // when set, each fetch waits for one token
}

func newFakeRegistry(feed *fakeFeed) *fakeRegistry {
	return &fakeRegistry{feed: feed, fetchErr: make(map[string][]error)}
}

func (r *fakeRegistry) Changes(_ context.Context, _ int64) (domain.Feed, error) {
	return r.feed, nil
}

func (r *fakeRegistry) GetDoc(_ context.Context, id, rev string) ([]byte, error) {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetches = append(r.fetches, id+"@"+rev)
	if errs := r.fetchErr[id]; len(errs) > 0 {
		err := errs[0]
		r.fetchErr[id] = errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return []byte(`{"_id":"` + id + `","_rev":"` + rev + `"}`), nil
}

func (r *fakeRegistry) Info(_ context.Context) (registry.Info, error) {
	return registry.Info{UpdateSeq: 0}, nil
}

func (r *fakeRegistry) failNext(id string, errs ...error) {
	r.mu.Lock()
	r.fetchErr[id] = append(r.fetchErr[id], errs...)
	r.mu.Unlock()
}

func (r *fakeRegistry) fetchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fetches)
}

// fakeIndex records mutations and serves scripted search results
type fakeIndex struct {
	mu        sync.Mutex
	upserts   []string
	deletes   []string
	upsertErr map[string][]error
	deleteErr map[string][]error
	results   []search.Result
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		upsertErr: make(map[string][]error),
		deleteErr: make(map[string][]error),
	}
}

func (ix *fakeIndex) Upsert(_ context.Context, rec *search.Record) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if errs := ix.upsertErr[rec.ObjectID]; len(errs) > 0 {
		err := errs[0]
		ix.upsertErr[rec.ObjectID] = errs[1:]
		if err != nil {
			return err
		}
	}
	ix.upserts = append(ix.upserts, rec.ObjectID+"@"+rec.Rev)
	return nil
}

func (ix *fakeIndex) Delete(_ context.Context, objectID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if errs := ix.deleteErr[objectID]; len(errs) > 0 {
		err := errs[0]
		ix.deleteErr[objectID] = errs[1:]
		if err != nil {
			return err
		}
	}
	ix.deletes = append(ix.deletes, objectID)
	return nil
}

func (ix *fakeIndex) Search(_ context.Context, _ search.Query) (search.Result, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if len(ix.results) == 0 {
		return search.Result{}, nil
	}
	res := ix.results[0]
	ix.results = ix.results[1:]
	return res, nil
}

func (ix *fakeIndex) failNextDelete(objectID string, errs ...error) {
	ix.mu.Lock()
	ix.deleteErr[objectID] = append(ix.deleteErr[objectID], errs...)
	ix.mu.Unlock()
}

func (ix *fakeIndex) snapshot() (upserts, deletes []string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return append([]string(nil), ix.upserts...), append([]string(nil), ix.deletes...)
}

// fakeLost records forensic writes
type fakeLost struct {
	mu      sync.Mutex
	objects []string
}

func (l *fakeLost) UpsertObject(_ context.Context, objectID string, _ any) error {
	l.mu.Lock()
	l.objects = append(l.objects, objectID)
	l.mu.Unlock()
	return nil
}

func (l *fakeLost) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.objects)
}

// fakeState records every persisted patch
type fakeState struct {
	mu     sync.Mutex
	state  domain.State
	seqLog []int64
}

func (s *fakeState) Get(_ context.Context) (domain.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

func (s *fakeState) Save(_ context.Context, patch domain.StatePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if patch.Stage != nil {
		s.state.Stage = *patch.Stage
	}
	if patch.Seq != nil {
		s.state.Seq = *patch.Seq
		s.seqLog = append(s.seqLog, *patch.Seq)
	}
	return nil
}

func (s *fakeState) seq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Seq
}

func (s *fakeState) savedSeqs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.seqLog...)
}

// passFormatter emits a minimal record carrying the fetched revision
type passFormatter struct{}

func (passFormatter) Format(id string, raw []byte) (*search.Record, error) {
	rev := ""
	// raw is the fake doc built above; pull the rev back out without a parser
	const marker = `"_rev":"`
	if i := indexOf(raw, marker); i >= 0 {
		rest := raw[i+len(marker):]
		if j := indexOf(rest, `"`); j >= 0 {
			rev = string(rest[:j])
		}
	}
	return &search.Record{ObjectID: id, Name: id, Rev: rev}, nil
}

func indexOf(b []byte, sub string) int {
	for i := 0; i+len(sub) <= len(b); i++ {
		if string(b[i:i+len(sub)]) == sub {
			return i
		}
	}
	return -1
}

// testRig bundles a service over fakes with instant sleeps
type testRig struct {
	svc   *Svc
	feed  *fakeFeed
	reg   *fakeRegistry
	index *fakeIndex
	lost  *fakeLost
	state *fakeState

	runDone chan error
	cancel  context.CancelFunc
}

func newTestRig(t *testing.T, cfg Config) *testRig {
	t.Helper()
	if cfg.MaxPrefetch == 0 {
		cfg.MaxPrefetch = 100
	}
	if cfg.RetryBackoffBase == 0 {
		cfg.RetryBackoffBase = time.Millisecond
	}
	if cfg.RetryBackoffPow == 0 {
		cfg.RetryBackoffPow = 2
	}
	if cfg.RetrySkipped == 0 {
		cfg.RetrySkipped = time.Hour
	}
	if cfg.TotalSeqEvery == 0 {
		cfg.TotalSeqEvery = time.Hour
	}

	feed := newFakeFeed(64)
	rig := &testRig{
		feed:    feed,
		reg:     newFakeRegistry(feed),
		index:   newFakeIndex(),
		lost:    &fakeLost{},
		state:   &fakeState{},
		runDone: make(chan error, 1),
	}
	rig.svc = New(cfg, rig.reg, rig.index, rig.lost, passFormatter{}, rig.state, nil)
	rig.svc.sleep = func(time.Duration) {}
	return rig
}

// start runs the service loop in the background
func (r *testRig) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go func() { r.runDone <- r.svc.Run(ctx) }()
	// wait for the queue to exist before tests drive the feed
	deadline := time.Now().Add(2 * time.Second)
	for r.queue() == nil {
		if time.Now().After(deadline) {
			t.Fatal("service did not start")
		}
		time.Sleep(time.Millisecond)
	}
}

// finish closes the feed and waits for a clean drain
func (r *testRig) finish(t *testing.T) {
	t.Helper()
	r.feed.Stop()
	select {
	case err := <-r.runDone:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}
	if r.cancel != nil {
		r.cancel()
	}
}

// queue reads the service queue with the same lock Run uses to publish it
func (r *testRig) queue() *orderedQueue {
	r.svc.mu.Lock()
	defer r.svc.mu.Unlock()
	return r.svc.queue
}

// waitIdle blocks until the queue is drained
func (r *testRig) waitIdle(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if q := r.queue(); q != nil && q.Len() == 0 && q.Running() == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("queue never went idle")
		}
		time.Sleep(time.Millisecond)
	}
}

func rev(r string) []domain.ChangeRev { return []domain.ChangeRev{{Rev: r}} }
