// Package download implements the generic streaming transport: it fetches
// URLs into spooled temporary files and reports transfer state to a
// progress tracker.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/bdl/internal/engine"
	"github.com/example/bdl/internal/item"
	"github.com/example/bdl/internal/progress"
)

const (
	// DefaultTimeout bounds a single fetch.
	DefaultTimeout = 5 * time.Second

	// DefaultLimit caps concurrent fetches in FetchAll.
	DefaultLimit = 4
)

// Client fetches remote content. The zero value is not usable, use New.
type Client struct {
	httpClient *http.Client
	headers    map[string]string
	limit      int
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each fetch.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithLimit caps the number of concurrent fetches in FetchAll.
func WithLimit(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.limit = n
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithHeaders sets headers sent with every request.
func WithHeaders(headers map[string]string) Option {
	return func(c *Client) {
		c.headers = make(map[string]string, len(headers))
		for k, v := range headers {
			c.headers[k] = v
		}
	}
}

// New returns a Client with the default timeout and concurrency limit.
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limit:      DefaultLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch retrieves rawurl into an item whose payload is spooled to a
// temporary file. The item's extension comes from the response
// Content-Type subtype. Transfer state goes to tracker: Add on start,
// per-chunk percentage updates when the length is known, MarkFinished or
// MarkFailed at the end. A URL with an unsupported scheme yields (nil,
// nil): a tolerated skip the caller moves past.
func (c *Client) Fetch(ctx context.Context, rawurl string, tracker *progress.Tracker) (*item.Item, error) {
	if tracker == nil {
		tracker = progress.New()
	}
	tracker.Add(rawurl, 0)

	u, err := url.Parse(rawurl)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		tracker.MarkFailed(rawurl)
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		tracker.MarkFailed(rawurl)
		return nil, &Error{URL: rawurl, Err: err}
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		tracker.MarkFailed(rawurl)
		if isTimeout(err) {
			return nil, &TimeoutError{URL: rawurl}
		}
		return nil, &Error{URL: rawurl, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		tracker.MarkFailed(rawurl)
		return nil, &Error{URL: rawurl, Err: fmt.Errorf("status %s", resp.Status)}
	}

	tmp, err := os.CreateTemp("", "bdl-*")
	if err != nil {
		tracker.MarkFailed(rawurl)
		return nil, &Error{URL: rawurl, Err: err}
	}

	pw := &progressWriter{
		w:       tmp,
		url:     rawurl,
		total:   resp.ContentLength,
		tracker: tracker,
	}
	if _, err := io.Copy(pw, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		tracker.MarkFailed(rawurl)
		if isTimeout(err) {
			return nil, &TimeoutError{URL: rawurl}
		}
		return nil, &Error{URL: rawurl, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		tracker.MarkFailed(rawurl)
		return nil, &Error{URL: rawurl, Err: err}
	}

	tracker.MarkFinished(rawurl)
	return item.New(rawurl,
		item.WithExtension(contentSubtype(resp.Header.Get("Content-Type"))),
		item.WithTempFile(tmp.Name()),
	), nil
}

// FetchAll fetches urls with bounded concurrency and delivers the results
// strictly in input order. The first hard failure cancels outstanding
// fetches and surfaces through Err after the preceding slots drained.
func (c *Client) FetchAll(ctx context.Context, urls []string, tracker *progress.Tracker) engine.Items {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.limit)

	slots := make([]chan fetchResult, len(urls))
	for n := range slots {
		slots[n] = make(chan fetchResult, 1)
	}

	go func() {
		for n, u := range urls {
			n, u := n, u
			g.Go(func() error {
				it, err := c.Fetch(gctx, u, tracker)
				slots[n] <- fetchResult{item: it, err: err}
				return err
			})
		}
		g.Wait()
	}()

	return &fetchSequence{slots: slots, cancel: cancel, pos: -1}
}

type fetchResult struct {
	item *item.Item
	err  error
}

// fetchSequence adapts the per-slot result channels to the Items shape.
type fetchSequence struct {
	slots   []chan fetchResult
	cancel  context.CancelFunc
	pos     int
	current *item.Item
	err     error
}

func (s *fetchSequence) Next() bool {
	if s.err != nil {
		return false
	}
	s.pos++
	if s.pos >= len(s.slots) {
		s.current = nil
		return false
	}
	res := <-s.slots[s.pos]
	if res.err != nil {
		s.err = res.err
		s.current = nil
		s.cancel()
		return false
	}
	s.current = res.item
	return true
}

func (s *fetchSequence) Item() *item.Item { return s.current }

func (s *fetchSequence) Err() error { return s.err }

func (s *fetchSequence) Close() error {
	s.cancel()
	return nil
}

type progressWriter struct {
	w       io.Writer
	url     string
	total   int64
	written int64
	tracker *progress.Tracker
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.w.Write(p)
	pw.written += int64(n)
	if pw.total > 0 {
		pw.tracker.Update(pw.url, float64(pw.written)*100/float64(pw.total))
	}
	return n, err
}

func contentSubtype(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediatype, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if _, subtype, ok := strings.Cut(mediatype, "/"); ok {
		return subtype
	}
	return ""
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
