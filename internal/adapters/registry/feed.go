package registry

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Feed is one continuous change subscription.
// Pause stops reading from the socket, so backpressure reaches the server;
// Resume and Stop are safe from any goroutine and idempotent
type Feed struct {
	c      *Client
	events chan Change
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	cond    *sync.Cond
	paused  bool
	stopped bool
	since   int64
}

// Changes opens the feed starting after the given sequence.
// Events are delivered in seq order; heartbeats come through with an empty id.
// Transport errors reconnect internally with capped backoff
func (c *Client) Changes(ctx context.Context, since int64) (*Feed, error) {
	fctx, cancel := context.WithCancel(ctx)
	f := &Feed{
		c:      c,
		events: make(chan Change),
		cancel: cancel,
		done:   make(chan struct{}),
		since:  since,
	}
	f.cond = sync.NewCond(&f.mu)
	go f.run(fctx)
	return f, nil
}

// Events returns the delivery channel; closed after Stop
func (f *Feed) Events() <-chan Change { return f.events }

// Pause suspends socket reads until Resume
func (f *Feed) Pause() {
	f.mu.Lock()
	f.paused = true
	f.mu.Unlock()
}

// Resume lifts a Pause
func (f *Feed) Resume() {
	f.mu.Lock()
	f.paused = false
	f.mu.Unlock()
	f.cond.Broadcast()
}

// Stop tears down the subscription; idempotent, never blocks on the consumer
func (f *Feed) Stop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	f.mu.Unlock()
	f.cond.Broadcast()
	f.cancel()
}

// run owns the connection lifecycle: connect, read lines, reconnect on error
func (f *Feed) run(ctx context.Context) {
	defer close(f.events)
	defer close(f.done)

	// wake cond waiters when the context dies without an explicit Stop
	go func() {
		<-ctx.Done()
		f.cond.Broadcast()
	}()

	attempt := 0
	for {
		if f.waitResumed(ctx) {
			return
		}
		ok := f.streamOnce(ctx, &attempt)
		if !ok {
			return
		}
		delay := backoffDelay(f.c.opts.ReconnectBase, f.c.opts.ReconnectMax, attempt)
		attempt++
		f.c.log.Warn().Int64("since", f.sinceNow()).Dur("backoff", delay).Msg("change feed disconnected; reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// streamOnce runs one connection until error. Returns false when the feed is done
func (f *Feed) streamOnce(ctx context.Context, attempt *int) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.c.changesURL(f.sinceNow()), nil)
	if err != nil {
		return false
	}
	req.Header.Set("User-Agent", f.c.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.c.stream.Do(req)
	if err != nil {
		return ctx.Err() == nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		f.c.log.Warn().Int("status", resp.StatusCode).Msg("change feed bad status")
		return ctx.Err() == nil
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for {
		if f.waitResumed(ctx) {
			return false
		}
		if !sc.Scan() {
			return ctx.Err() == nil
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			// transport heartbeat; surface it as an empty-id change so the
			// consumer's heartbeat handling stays on one codepath
			if !f.deliver(ctx, Change{}) {
				return false
			}
			continue
		}
		var ev changesLine
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			f.c.log.Warn().Str("line", line).Err(err).Msg("change feed unparsable line")
			continue
		}
		if ev.Seq > 0 {
			f.setSince(ev.Seq)
		}
		*attempt = 0
		if !f.deliver(ctx, Change{ID: ev.ID, Seq: ev.Seq, Deleted: ev.Deleted, Changes: ev.Changes}) {
			return false
		}
	}
}

// deliver hands one change to the consumer, or reports shutdown
func (f *Feed) deliver(ctx context.Context, ch Change) bool {
	select {
	case f.events <- ch:
		return true
	case <-ctx.Done():
		return false
	}
}

// waitResumed blocks while paused; reports true when the feed should exit
func (f *Feed) waitResumed(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.paused && !f.stopped && ctx.Err() == nil {
		f.cond.Wait()
	}
	return f.stopped || ctx.Err() != nil
}

func (f *Feed) sinceNow() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.since
}

func (f *Feed) setSince(seq int64) {
	f.mu.Lock()
	f.since = seq
	f.mu.Unlock()
}

// backoffDelay doubles base per attempt up to max
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base << uint(min(attempt, 16))
	if d > max || d <= 0 {
		return max
	}
	return d
}
