package assetcache

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// origin is a switchable static-file server.
type origin struct {
	mu    sync.Mutex
	files map[string]string
	down  atomic.Bool
	hits  map[string]int
	posts atomic.Int32
}

func newOrigin(files map[string]string) *origin {
	return &origin{files: files, hits: make(map[string]int)}
}

func (o *origin) set(path, body string) {
	o.mu.Lock()
	o.files[path] = body
	o.mu.Unlock()
}

func (o *origin) count(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

func (o *origin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		o.posts.Add(1)
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, "posted")
		return
	}
	o.mu.Lock()
	o.hits[r.URL.RequestURI()]++
	body, ok := o.files[r.URL.Path]
	o.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("ETag", `"`+body+`"`)
	_, _ = io.WriteString(w, body)
}

type fixture struct {
	origin  *origin
	server  *httptest.Server
	storage *BoltStorage
	svc     *Service
}

func newFixture(t *testing.T, skipWaiting bool, files map[string]string) *fixture {
	t.Helper()
	o := newOrigin(files)
	srv := httptest.NewServer(o)

	storage, err := OpenBoltStorage(filepath.Join(t.TempDir(), "assets.db"), time.Second)
	if err != nil {
		t.Fatalf("OpenBoltStorage: %v", err)
	}
	svc, err := New(storage, zaptest.NewLogger(t), Options{
		Origin:      srv.URL,
		Version:     "v2",
		Manifest:    []string{"/index.html", "/app.js", "/missing.css"},
		SkipWaiting: skipWaiting,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f := &fixture{origin: o, server: srv, storage: storage, svc: svc}
	t.Cleanup(func() {
		svc.Close()
		srv.Close()
		storage.Close()
	})
	return f
}

func defaultFiles() map[string]string {
	return map[string]string{
		"/index.html": "<html>shell</html>",
		"/app.js":     "console.log(1)",
		"/style.css":  "body{}",
	}
}

func get(t *testing.T, h http.Handler, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewRejectsBadOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   error
	}{
		{"", ErrNoOrigin},
		{"ftp://example.com", ErrBadOrigin},
		{"/relative", ErrBadOrigin},
	}
	for _, tt := range tests {
		if _, err := New(nil, nil, Options{Origin: tt.origin}); err != tt.want {
			t.Errorf("New(%q) error = %v, want %v", tt.origin, err, tt.want)
		}
	}
}

func TestInstallPrecachesAndActivates(t *testing.T) {
	f := newFixture(t, true, defaultFiles())
	ctx := context.Background()

	for _, old := range []string{"studydesk-v1", "unrelated"} {
		if err := f.storage.Open(ctx, old); err != nil {
			t.Fatalf("Open(%s): %v", old, err)
		}
	}
	msgs, disconnect := f.svc.Connect()
	defer disconnect()

	if err := f.svc.Install(ctx); err != nil {
		t.Fatalf("Install: %v", err)
	}
	if got := f.svc.State(); got != StateActive {
		t.Fatalf("State = %q, want active", got)
	}

	names, err := f.storage.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if diff := cmp.Diff([]string{"studydesk-v2"}, names); diff != "" {
		t.Errorf("caches mismatch (-want +got):\n%s", diff)
	}

	for path, wantCached := range map[string]bool{"/index.html": true, "/app.js": true, "/missing.css": false} {
		e, err := f.storage.Match(ctx, "studydesk-v2", path)
		if err != nil {
			t.Fatalf("Match(%s): %v", path, err)
		}
		if (e != nil) != wantCached {
			t.Errorf("%s cached = %v, want %v", path, e != nil, wantCached)
		}
	}

	select {
	case msg := <-msgs:
		if msg.Type != MessageCacheUpdated || msg.Version != "v2" {
			t.Errorf("broadcast = %+v", msg)
		}
	default:
		t.Fatal("expected CACHE_UPDATED broadcast")
	}
}

func TestWaitingVersionActivatesOnSkipWaiting(t *testing.T) {
	f := newFixture(t, false, defaultFiles())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs, disconnect := f.svc.Connect()
	defer disconnect()

	done := make(chan error, 1)
	go func() { done <- f.svc.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for f.svc.State() != StateWaiting {
		if time.Now().After(deadline) {
			t.Fatalf("State = %q, want waiting", f.svc.State())
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec := get(t, f.svc, "/app.js", nil)
	if rec.Header().Get("X-Cache") != "" {
		t.Errorf("waiting version intercepted request: X-Cache=%q", rec.Header().Get("X-Cache"))
	}

	if err := f.svc.Post(ctx, Message{Type: MessageSkipWaiting}); err != nil {
		t.Fatalf("Post: %v", err)
	}
	select {
	case msg := <-msgs:
		if msg.Type != MessageCacheUpdated {
			t.Errorf("broadcast = %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no CACHE_UPDATED after SKIP_WAITING")
	}
	if got := f.svc.State(); got != StateActive {
		t.Errorf("State = %q, want active", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestRunSkipsInstallWhenCacheExists(t *testing.T) {
	f := newFixture(t, true, defaultFiles())
	ctx, cancel := context.WithCancel(context.Background())

	if err := f.storage.Open(ctx, f.svc.CacheName()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- f.svc.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for f.svc.State() != StateActive {
		if time.Now().After(deadline) {
			t.Fatal("service never became active")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run: %v", err)
	}
	if n := f.origin.count("/index.html"); n != 0 {
		t.Errorf("origin fetched /index.html %d times, want 0", n)
	}
}

func TestCacheFirstWithBackgroundRefresh(t *testing.T) {
	f := newFixture(t, true, defaultFiles())
	ctx := context.Background()
	if err := f.svc.Install(ctx); err != nil {
		t.Fatalf("Install: %v", err)
	}

	f.origin.set("/app.js", "console.log(2)")

	rec := get(t, f.svc, "/app.js", nil)
	if rec.Code != http.StatusOK || rec.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("status=%d X-Cache=%q, want 200 HIT", rec.Code, rec.Header().Get("X-Cache"))
	}
	if got := rec.Body.String(); got != "console.log(1)" {
		t.Errorf("body = %q, want stale copy", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/plain; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}

	f.svc.wg.Wait()

	rec = get(t, f.svc, "/app.js", nil)
	if got := rec.Body.String(); got != "console.log(2)" {
		t.Errorf("body after refresh = %q, want refreshed copy", got)
	}
}

func TestRefreshFailureKeepsCachedCopy(t *testing.T) {
	f := newFixture(t, true, defaultFiles())
	ctx := context.Background()
	if err := f.svc.Install(ctx); err != nil {
		t.Fatalf("Install: %v", err)
	}

	f.server.CloseClientConnections()
	f.server.Close()

	rec := get(t, f.svc, "/app.js", nil)
	if rec.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("X-Cache = %q, want HIT", rec.Header().Get("X-Cache"))
	}
	f.svc.wg.Wait()

	e, err := f.storage.Match(ctx, f.svc.CacheName(), "/app.js")
	if err != nil || e == nil {
		t.Fatalf("Match = %v, %v", e, err)
	}
	if string(e.Body) != "console.log(1)" {
		t.Errorf("cached body = %q", e.Body)
	}
}

func TestMissFetchesAndCaches(t *testing.T) {
	f := newFixture(t, true, defaultFiles())
	ctx := context.Background()
	if err := f.svc.Install(ctx); err != nil {
		t.Fatalf("Install: %v", err)
	}

	rec := get(t, f.svc, "/style.css", nil)
	if rec.Code != http.StatusOK || rec.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("status=%d X-Cache=%q, want 200 MISS", rec.Code, rec.Header().Get("X-Cache"))
	}
	rec = get(t, f.svc, "/style.css", nil)
	if rec.Header().Get("X-Cache") != "HIT" || rec.Body.String() != "body{}" {
		t.Errorf("second request X-Cache=%q body=%q", rec.Header().Get("X-Cache"), rec.Body.String())
	}
}

func TestMissNon200IsNotCached(t *testing.T) {
	f := newFixture(t, true, defaultFiles())
	ctx := context.Background()
	if err := f.svc.Install(ctx); err != nil {
		t.Fatalf("Install: %v", err)
	}

	rec := get(t, f.svc, "/nope.png", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	e, err := f.storage.Match(ctx, f.svc.CacheName(), "/nope.png")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if e != nil {
		t.Error("404 response was cached")
	}
}

func TestOfflineFallbacks(t *testing.T) {
	f := newFixture(t, true, defaultFiles())
	ctx := context.Background()
	if err := f.svc.Install(ctx); err != nil {
		t.Fatalf("Install: %v", err)
	}
	f.server.Close()

	tests := []struct {
		name       string
		header     map[string]string
		wantStatus int
		wantBody   string
		wantType   string
	}{
		{
			name:       "navigation by fetch dest",
			header:     map[string]string{"Sec-Fetch-Dest": "document"},
			wantStatus: http.StatusOK,
			wantBody:   "<html>shell</html>",
			wantType:   "text/plain; charset=utf-8",
		},
		{
			name:       "navigation by accept",
			header:     map[string]string{"Accept": "text/html,application/xhtml+xml"},
			wantStatus: http.StatusOK,
			wantBody:   "<html>shell</html>",
			wantType:   "text/plain; charset=utf-8",
		},
		{
			name:       "asset",
			header:     map[string]string{"Accept": "image/png"},
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   "Offline - Resource not available",
			wantType:   "text/plain",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, f.svc, "/about", tt.header)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Body.String(); got != tt.wantBody {
				t.Errorf("body = %q, want %q", got, tt.wantBody)
			}
			if got := rec.Header().Get("Content-Type"); got != tt.wantType {
				t.Errorf("Content-Type = %q, want %q", got, tt.wantType)
			}
		})
	}
}

func TestNonGetPassesThrough(t *testing.T) {
	f := newFixture(t, true, defaultFiles())
	ctx := context.Background()
	if err := f.svc.Install(ctx); err != nil {
		t.Fatalf("Install: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/app.js", strings.NewReader("x"))
	rec := httptest.NewRecorder()
	f.svc.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated || rec.Body.String() != "posted" {
		t.Fatalf("status=%d body=%q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Cache") != "" {
		t.Errorf("POST was intercepted")
	}
	if n := f.origin.posts.Load(); n != 1 {
		t.Errorf("origin posts = %d, want 1", n)
	}
}

func TestCrossOriginPassesThrough(t *testing.T) {
	f := newFixture(t, true, defaultFiles())
	ctx := context.Background()
	if err := f.svc.Install(ctx); err != nil {
		t.Fatalf("Install: %v", err)
	}

	other := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "elsewhere")
	}))
	defer other.Close()

	rec := get(t, f.svc, other.URL+"/font.woff", nil)
	if rec.Body.String() != "elsewhere" || rec.Header().Get("X-Cache") != "" {
		t.Fatalf("body=%q X-Cache=%q", rec.Body.String(), rec.Header().Get("X-Cache"))
	}
	e, err := f.storage.Match(ctx, f.svc.CacheName(), "/font.woff")
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if e != nil {
		t.Error("cross-origin response was cached")
	}
}

func TestPostAfterClose(t *testing.T) {
	f := newFixture(t, true, defaultFiles())
	f.svc.Close()
	if err := f.svc.Post(context.Background(), Message{Type: MessageSkipWaiting}); err != ErrClosed {
		t.Errorf("Post error = %v, want ErrClosed", err)
	}
	msgs, _ := f.svc.Connect()
	if _, ok := <-msgs; ok {
		t.Error("Connect after Close returned an open channel")
	}
}

func TestServeMessage(t *testing.T) {
	f := newFixture(t, true, defaultFiles())

	tests := []struct {
		body string
		want int
	}{
		{`{"type":"SKIP_WAITING"}`, http.StatusAccepted},
		{`{}`, http.StatusBadRequest},
		{`not json`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/sw/message", strings.NewReader(tt.body))
		rec := httptest.NewRecorder()
		f.svc.ServeMessage(rec, req)
		if rec.Code != tt.want {
			t.Errorf("ServeMessage(%s) = %d, want %d", tt.body, rec.Code, tt.want)
		}
	}
}

func TestServeEventsStreamsBroadcasts(t *testing.T) {
	f := newFixture(t, true, defaultFiles())
	srv := httptest.NewServer(http.HandlerFunc(f.svc.ServeEvents))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("Content-Type = %q", got)
	}

	buf := make([]byte, 256)
	n, err := resp.Body.Read(buf)
	if err != nil || !strings.Contains(string(buf[:n]), ": connected") {
		t.Fatalf("preamble = %q, %v", buf[:n], err)
	}

	if err := f.svc.Activate(context.Background()); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	var got strings.Builder
	for !strings.Contains(got.String(), "\n\n") {
		n, err := resp.Body.Read(buf)
		got.Write(buf[:n])
		if err != nil {
			break
		}
	}
	want := "event: message\ndata: {\"type\":\"CACHE_UPDATED\",\"version\":\"v2\"}\n\n"
	if got.String() != want {
		t.Errorf("event = %q, want %q", got.String(), want)
	}
}
