// Package registry provides a client for a CouchDB-compatible package registry:
// database info, document fetch by revision, and the continuous change feed
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	perr "pkgsearch/internal/platform/errors"
	"pkgsearch/internal/platform/logger"
)

const (
	defaultTimeout       = 30 * time.Second
	defaultUA            = "pkgsearch-watcher"
	defaultHeartbeat     = 30 * time.Second
	defaultReconnectBase = 500 * time.Millisecond
	defaultReconnectMax  = 30 * time.Second
)

// Options configures the Client
type Options struct {
	// BaseURL is the registry root, Database the replicated db name
	BaseURL  string
	Database string

	UserAgent string

	// Timeout bounds unary requests (info, doc fetch). The feed connection
	// is long-lived and has no client-side timeout; it ends only when the
	// server closes it or the context is cancelled
	Timeout time.Duration

	// Heartbeat asks the server to emit keepalives on the change feed
	Heartbeat time.Duration

	// Reconnect backoff for the feed transport
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
}

// Client is a minimal registry REST client
type Client struct {
	http   *http.Client
	stream *http.Client
	opts   Options
	log    logger.Logger
	now    func() time.Time
	sleep  func(time.Duration)
}

// NewClient creates a new Client with sane defaults
func NewClient(o Options) *Client {
	if o.UserAgent == "" {
		o.UserAgent = defaultUA
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = defaultHeartbeat
	}
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = defaultReconnectBase
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = defaultReconnectMax
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	return &Client{
		http:   &http.Client{Timeout: o.Timeout},
		stream: &http.Client{},
		opts:   o,
		log:    *logger.Named("registry"),
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// Info returns the database summary, used for the head-sequence gauge
func (c *Client) Info(ctx context.Context) (Info, error) {
	var out Info
	body, err := c.get(ctx, c.dbURL(""))
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, perr.Wrap(err, perr.ErrorCodeUnknown, "decode registry info")
	}
	return out, nil
}

// GetDoc fetches the raw document at a specific revision.
// A lookup-failure body maps to a NotFound error carrying the upstream message
func (c *Client) GetDoc(ctx context.Context, id, rev string) ([]byte, error) {
	u := c.dbURL(url.PathEscape(id))
	if rev != "" {
		u += "?rev=" + url.QueryEscape(rev)
	}
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}

	// Some registries answer 200 with an error body; mirror the status check
	var probe lookupProbe
	if err := json.Unmarshal(body, &probe); err == nil && probe.Error != "" && probe.ID == "" {
		return nil, perr.NotFoundf("doc %s@%s: %s: %s", id, rev, probe.Error, probe.Reason)
	}
	return body, nil
}

// get issues one GET and maps non-200 statuses to perr codes
func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnknown, "registry new request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "registry request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "registry read body")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		var probe lookupProbe
		_ = json.Unmarshal(body, &probe)
		return nil, perr.NotFoundf("registry %d: %s: %s", resp.StatusCode, probe.Error, probe.Reason)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, perr.Newf(perr.ErrorCodeTooManyRequests, "registry rate limited")
	case resp.StatusCode >= 500:
		return nil, perr.Unavailablef("registry status %d", resp.StatusCode)
	default:
		return nil, perr.Internalf("registry status %d", resp.StatusCode)
	}
}

func (c *Client) dbURL(tail string) string {
	u := c.opts.BaseURL + "/" + c.opts.Database
	if tail != "" {
		u += "/" + tail
	}
	return u
}

func (c *Client) changesURL(since int64) string {
	q := url.Values{}
	q.Set("feed", "continuous")
	q.Set("style", "main_only")
	q.Set("since", fmt.Sprintf("%d", since))
	q.Set("include_docs", "false")
	q.Set("heartbeat", fmt.Sprintf("%d", c.opts.Heartbeat.Milliseconds()))
	return c.dbURL("_changes") + "?" + q.Encode()
}
