package webdir

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"

	"github.com/example/bdl/internal/item"
	"github.com/example/bdl/internal/progress"
)

const listingPage = `<html><body>
<a href="../">Parent Directory</a>
<a href="a.txt">first</a>
<a href="b.txt">second</a>
<a href="sub/">subdir</a>
<a href="c.txt?sort=asc">sorted</a>
<a href="b.txt">second again</a>
<a href="http://other.test/x.txt">offsite</a>
</body></html>`

func newListingServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/feed/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feed/":
			fmt.Fprint(w, listingPage)
		case "/feed/a.txt", "/feed/b.txt":
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, "content of ", r.URL.Path)
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func openEngine(t *testing.T, srv *httptest.Server) *dirEngine {
	t.Helper()
	u, _ := url.Parse(srv.URL)
	d := New(WithHosts(u.Host))
	eng, err := d.Open(srv.URL+"/feed/", nil, progress.New())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return eng.(*dirEngine)
}

func TestListLinks(t *testing.T) {
	srv := newListingServer(t)
	eng := openEngine(t, srv)

	links, err := eng.listLinks(context.Background())
	if err != nil {
		t.Fatalf("listLinks: %v", err)
	}
	want := []string{srv.URL + "/feed/a.txt", srv.URL + "/feed/b.txt"}
	if len(links) != len(want) {
		t.Fatalf("got %d links, want %d: %+v", len(links), len(want), links)
	}
	for n, l := range links {
		if l.url != want[n] {
			t.Errorf("link %d = %s, want %s", n, l.url, want[n])
		}
	}
	if links[0].title != "first" {
		t.Errorf("title = %q, want %q", links[0].title, "first")
	}
}

func TestCountNewAfterLast(t *testing.T) {
	srv := newListingServer(t)
	eng := openEngine(t, srv)
	ctx := context.Background()

	all, err := eng.CountAll(ctx)
	if err != nil {
		t.Fatalf("CountAll: %v", err)
	}
	if all != 2 {
		t.Errorf("CountAll = %d, want 2", all)
	}

	last := item.New(srv.URL + "/feed/a.txt")
	n, err := eng.CountNew(ctx, last, 1)
	if err != nil {
		t.Fatalf("CountNew: %v", err)
	}
	if n != 1 {
		t.Errorf("CountNew after a.txt = %d, want 1", n)
	}

	// An unlisted last item falls back to the full listing.
	n, err = eng.CountNew(ctx, item.New(srv.URL+"/feed/gone.txt"), 9)
	if err != nil {
		t.Fatalf("CountNew: %v", err)
	}
	if n != 2 {
		t.Errorf("CountNew with unknown last = %d, want 2", n)
	}
}

func TestUpdateNewYieldsItemsWithTitles(t *testing.T) {
	srv := newListingServer(t)
	eng := openEngine(t, srv)

	items, err := eng.UpdateNew(context.Background(), nil, 0)
	if err != nil {
		t.Fatalf("UpdateNew: %v", err)
	}
	defer items.Close()

	var got []*item.Item
	for items.Next() {
		it := items.Item()
		if it == nil {
			continue
		}
		if it.HasTempFile() {
			t.Cleanup(func() { os.Remove(it.TempFile()) })
		}
		got = append(got, it)
	}
	if err := items.Err(); err != nil {
		t.Fatalf("sequence error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("fetched %d items, want 2", len(got))
	}
	if got[0].Metadata().Get("title") != "first" {
		t.Errorf("title metadata = %q", got[0].Metadata().Get("title"))
	}
	if !got[0].HasTempFile() {
		t.Error("payload should be spooled to a tempfile")
	}
	if got[0].Extension() != "plain" {
		t.Errorf("extension = %q, want content-type subtype", got[0].Extension())
	}
}

func TestReachable(t *testing.T) {
	srv := newListingServer(t)
	u, _ := url.Parse(srv.URL)
	d := New(WithHosts(u.Host))
	ctx := context.Background()

	if !d.Reachable(ctx, srv.URL+"/feed/") {
		t.Error("listing url should be reachable")
	}
	if d.Reachable(ctx, srv.URL+"/nowhere/") {
		t.Error("missing url should not be reachable")
	}
}

func TestRepoName(t *testing.T) {
	d := New()
	tests := []struct {
		url  string
		want string
	}{
		{"http://example.test/feed", "feed"},
		{"http://example.test/a/b/", "b"},
		{"http://example.test/", "example.test"},
	}
	for _, tt := range tests {
		got, err := d.RepoName(tt.url)
		if err != nil {
			t.Errorf("RepoName(%s): %v", tt.url, err)
			continue
		}
		if got != tt.want {
			t.Errorf("RepoName(%s) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestSites(t *testing.T) {
	d := New(WithHosts("mirror.test"))
	sites := d.Sites()
	if len(sites) != 1 {
		t.Fatalf("sites = %v", sites)
	}
	patterns, ok := sites["mirror.test"]
	if !ok || len(patterns) != 1 {
		t.Fatalf("patterns for mirror.test = %v", patterns)
	}
}
