// Package webdir is the generic site driver shipped with the tool: it
// mirrors any static HTML directory listing by enumerating its anchors in
// document order.
package webdir

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"

	"github.com/example/bdl/internal/download"
	"github.com/example/bdl/internal/engine"
	"github.com/example/bdl/internal/item"
	"github.com/example/bdl/internal/progress"
)

// DriverName identifies this driver in configuration and listings.
const DriverName = "webdir"

// matchAll claims every URL on a handled host.
const matchAll = `^https?://`

// Driver mirrors static HTML directory listings. One driver serves the
// whole process; per-repository state lives in the engines it opens.
type Driver struct {
	hosts  []string
	client *download.Client
}

// Option configures a Driver.
type Option func(*Driver)

// WithHosts replaces the handled host list.
func WithHosts(hosts ...string) Option {
	return func(d *Driver) { d.hosts = hosts }
}

// WithClient replaces the transport client.
func WithClient(c *download.Client) Option {
	return func(d *Driver) { d.client = c }
}

// New returns a Driver claiming localhost by default. Directory listings
// are host-agnostic, so deployments extend the host list per site.
func New(opts ...Option) *Driver {
	d := &Driver{
		hosts:  []string{"localhost", "127.0.0.1"},
		client: download.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

var _ engine.Driver = (*Driver)(nil)

// Name implements engine.Driver.
func (d *Driver) Name() string { return DriverName }

// Sites implements engine.Driver: every handled host maps to the match-all
// pattern.
func (d *Driver) Sites() map[string][]string {
	sites := make(map[string][]string, len(d.hosts))
	for _, host := range d.hosts {
		sites[host] = []string{matchAll}
	}
	return sites
}

// RepoName deduces a local name from the last non-empty path segment,
// falling back to the host.
func (d *Driver) RepoName(rawurl string) (string, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", rawurl, err)
	}
	for _, segment := range reverse(strings.Split(u.Path, "/")) {
		if segment != "" {
			return segment, nil
		}
	}
	if u.Host == "" {
		return "", fmt.Errorf("no name deducible from %s", rawurl)
	}
	return u.Hostname(), nil
}

// Reachable reports whether the listing URL answers with a non-error
// status.
func (d *Driver) Reachable(ctx context.Context, rawurl string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawurl, nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 400
}

// Open implements engine.Driver.
func (d *Driver) Open(rawurl string, cfg map[string]string, tracker *progress.Tracker) (engine.Engine, error) {
	base, err := url.Parse(rawurl)
	if err != nil || base.Host == "" {
		return nil, &engine.InvalidURLError{URL: rawurl}
	}
	return &dirEngine{
		url:     rawurl,
		base:    base,
		client:  d.client,
		tracker: tracker,
	}, nil
}

func reverse(s []string) []string {
	out := make([]string, len(s))
	for n, v := range s {
		out[len(s)-1-n] = v
	}
	return out
}

// link is one enumerated listing entry.
type link struct {
	url   string
	title string
}

// dirEngine is one driver binding to one listing URL.
type dirEngine struct {
	url     string
	base    *url.URL
	client  *download.Client
	tracker *progress.Tracker
}

var _ engine.Engine = (*dirEngine)(nil)

func (e *dirEngine) PreConnect(ctx context.Context) error { return nil }

func (e *dirEngine) PreUpdate(ctx context.Context) error { return nil }

// listLinks fetches the listing document and returns its file links in
// document order. Parent, subdirectory, query and off-host links are
// skipped; link text becomes the title metadata.
func (e *dirEngine) listLinks(ctx context.Context) ([]link, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.url, nil)
	if err != nil {
		return nil, &engine.NetworkError{Name: DriverName, Err: err}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, &engine.NetworkError{Name: DriverName, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, &engine.NetworkError{Name: DriverName, Err: fmt.Errorf("status %s", resp.Status)}
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, &engine.ContentError{Name: DriverName, Err: err}
	}

	var links []link
	seen := make(map[string]bool)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if l, ok := e.fileLink(n); ok && !seen[l.url] {
				seen[l.url] = true
				links = append(links, l)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

// fileLink resolves one anchor against the listing URL and reports whether
// it points at a file of the listing.
func (e *dirEngine) fileLink(n *html.Node) (link, bool) {
	var href string
	for _, attr := range n.Attr {
		if attr.Key == "href" {
			href = attr.Val
			break
		}
	}
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "?") {
		return link{}, false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return link{}, false
	}
	u := e.base.ResolveReference(ref)
	if u.Host != e.base.Host || u.RawQuery != "" || u.Fragment != "" {
		return link{}, false
	}
	// Subdirectories and the parent listing are not files.
	if strings.HasSuffix(u.Path, "/") {
		return link{}, false
	}
	dir := e.base.Path
	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	rest, ok := strings.CutPrefix(u.Path, dir)
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return link{}, false
	}
	return link{url: u.String(), title: strings.TrimSpace(text(n))}, true
}

func text(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(text(c))
	}
	return b.String()
}

// CountAll implements engine.Engine.
func (e *dirEngine) CountAll(ctx context.Context) (int, error) {
	links, err := e.listLinks(ctx)
	if err != nil {
		return 0, err
	}
	return len(links), nil
}

// newLinks returns the links after last's URL in document order, or every
// link when last is nil or no longer listed.
func (e *dirEngine) newLinks(ctx context.Context, last *item.Item) ([]link, error) {
	links, err := e.listLinks(ctx)
	if err != nil {
		return nil, err
	}
	if last == nil {
		return links, nil
	}
	for n, l := range links {
		if l.url == last.URL() {
			return links[n+1:], nil
		}
	}
	return links, nil
}

// CountNew implements engine.Engine.
func (e *dirEngine) CountNew(ctx context.Context, last *item.Item, lastPosition int64) (int, error) {
	links, err := e.newLinks(ctx, last)
	if err != nil {
		return 0, err
	}
	return len(links), nil
}

// UpdateAll implements engine.Engine.
func (e *dirEngine) UpdateAll(ctx context.Context) (engine.Items, error) {
	links, err := e.listLinks(ctx)
	if err != nil {
		return nil, err
	}
	return e.fetchLinks(ctx, links), nil
}

// UpdateNew implements engine.Engine.
func (e *dirEngine) UpdateNew(ctx context.Context, last *item.Item, lastPosition int64) (engine.Items, error) {
	links, err := e.newLinks(ctx, last)
	if err != nil {
		return nil, err
	}
	return e.fetchLinks(ctx, links), nil
}

// UpdateSelection implements engine.Engine.
func (e *dirEngine) UpdateSelection(ctx context.Context, urls []string) (engine.Items, error) {
	links := make([]link, len(urls))
	for n, u := range urls {
		links[n] = link{url: u}
	}
	return e.fetchLinks(ctx, links), nil
}

// fetchLinks downloads the links concurrently, in listing order, and
// attaches each link's title as item metadata.
func (e *dirEngine) fetchLinks(ctx context.Context, links []link) engine.Items {
	urls := make([]string, len(links))
	titles := make(map[string]string, len(links))
	for n, l := range links {
		urls[n] = l.url
		if l.title != "" {
			titles[l.url] = l.title
		}
	}
	return &titledItems{
		Items:  e.client.FetchAll(ctx, urls, e.tracker),
		titles: titles,
	}
}

// titledItems decorates a fetch sequence with listing titles.
type titledItems struct {
	engine.Items
	titles map[string]string
}

func (t *titledItems) Item() *item.Item {
	it := t.Items.Item()
	if it == nil {
		return nil
	}
	if title, ok := t.titles[it.URL()]; ok {
		it.Metadata().Set("title", title)
	}
	return it
}
