// Package search provides a client for the downstream search index API:
// idempotent upserts and deletes by objectID plus faceted search
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	perr "pkgsearch/internal/platform/errors"
	"pkgsearch/internal/platform/logger"
)

const (
	defaultTimeout = 15 * time.Second
	defaultUA      = "pkgsearch-watcher"
)

// Options configures the Client
type Options struct {
	BaseURL   string
	AppID     string
	APIKey    string
	UserAgent string
	Timeout   time.Duration
}

// Client talks to the index API; Index binds it to one named index
type Client struct {
	http *http.Client
	opts Options
	log  logger.Logger
}

// NewClient creates a new Client with sane defaults
func NewClient(o Options) *Client {
	if o.UserAgent == "" {
		o.UserAgent = defaultUA
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	return &Client{
		http: &http.Client{Timeout: o.Timeout},
		opts: o,
		log:  *logger.Named("search"),
	}
}

// Index returns a handle bound to one index name
func (c *Client) Index(name string) *Index { return &Index{c: c, name: name} }

// Index is a named index handle
type Index struct {
	c    *Client
	name string
}

// Name returns the index name
func (ix *Index) Name() string { return ix.name }

// Upsert writes the record under its objectID; idempotent
func (ix *Index) Upsert(ctx context.Context, rec *Record) error {
	return ix.UpsertObject(ctx, rec.ObjectID, rec)
}

// UpsertObject writes an arbitrary payload under an objectID; idempotent
func (ix *Index) UpsertObject(ctx context.Context, objectID string, v any) error {
	_, err := ix.c.do(ctx, http.MethodPut, ix.objectPath(objectID), v)
	return err
}

// Delete removes the record; a missing object is success
func (ix *Index) Delete(ctx context.Context, objectID string) error {
	_, err := ix.c.do(ctx, http.MethodDelete, ix.objectPath(objectID), nil)
	if perr.IsCode(err, perr.ErrorCodeNotFound) {
		return nil
	}
	return err
}

// Search runs one faceted query against the index
func (ix *Index) Search(ctx context.Context, q Query) (Result, error) {
	var out Result
	body, err := ix.c.do(ctx, http.MethodPost, "/1/indexes/"+url.PathEscape(ix.name)+"/query", q)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, perr.Wrap(err, perr.ErrorCodeUnknown, "decode search result")
	}
	return out, nil
}

func (ix *Index) objectPath(objectID string) string {
	return "/1/indexes/" + url.PathEscape(ix.name) + "/" + url.PathEscape(objectID)
}

// do issues one request and maps non-2xx statuses to perr codes
func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var rd io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, perr.Wrap(err, perr.ErrorCodeUnknown, "encode index payload")
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.opts.BaseURL+path, rd)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnknown, "index new request")
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Content-Type", "application/json")
	if c.opts.AppID != "" {
		req.Header.Set("X-Application-ID", c.opts.AppID)
	}
	if c.opts.APIKey != "" {
		req.Header.Set("X-API-Key", c.opts.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "index request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "index read body")
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, perr.NotFoundf("index %s: %s", resp.Status, apiMessage(body))
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, perr.Newf(perr.ErrorCodeTooManyRequests, "index rate limited")
	case resp.StatusCode >= 500:
		return nil, perr.Unavailablef("index status %d: %s", resp.StatusCode, apiMessage(body))
	default:
		return nil, perr.Internalf("index status %d: %s", resp.StatusCode, apiMessage(body))
	}
}

func apiMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil && eb.Message != "" {
		return eb.Message
	}
	return string(body)
}
