package collydownloader

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-scheduler/internal/crawler"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "User-agent: *\nDisallow: /private\n")
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Method", r.Method)
		w.Header().Set("X-Agent", r.Header.Get("User-Agent"))
		w.Header().Set("X-Trace", r.Header.Get("X-Trace"))
		_, _ = w.Write(body)
	})
	mux.HandleFunc("/missing", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	mux.HandleFunc("/private/page", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "secret")
	})
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchGet(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	d := New(Config{UserAgent: "crawlsched-test", Timeout: time.Second}, nil)
	t.Cleanup(func() { _ = d.Close() })

	req := crawler.NewRequest(srv.URL+"/echo", nil)
	req.Header.Set("X-Trace", "abc")
	resp, err := d.Fetch(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, http.MethodGet, resp.Header.Get("X-Method"))
	require.Equal(t, "crawlsched-test", resp.Header.Get("X-Agent"))
	require.Equal(t, "abc", resp.Header.Get("X-Trace"))
	require.Same(t, req, resp.Request)
	require.Equal(t, srv.URL+"/echo", resp.URL)
	require.Positive(t, resp.Duration)
}

func TestFetchPostBody(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	d := New(Config{}, nil)

	req := crawler.NewRequest(srv.URL+"/echo", nil)
	req.Method = http.MethodPost
	req.Body = []byte("payload")
	resp, err := d.Fetch(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, http.MethodPost, resp.Header.Get("X-Method"))
	require.Equal(t, "payload", string(resp.Body))
}

func TestFetchSameURLTwice(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	d := New(Config{}, nil)

	for range 2 {
		_, err := d.Fetch(context.Background(), crawler.NewRequest(srv.URL+"/echo", nil))
		require.NoError(t, err)
	}
}

func TestFetchErrorStatusIsAResponse(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	d := New(Config{}, nil)

	resp, err := d.Fetch(context.Background(), crawler.NewRequest(srv.URL+"/missing", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestFetchRespectsRobots(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	strict := New(Config{RespectRobots: true}, nil)
	_, err := strict.Fetch(context.Background(), crawler.NewRequest(srv.URL+"/private/page", nil))
	require.ErrorIs(t, err, colly.ErrRobotsTxtBlocked)

	lax := New(Config{RespectRobots: false}, nil)
	resp, err := lax.Fetch(context.Background(), crawler.NewRequest(srv.URL+"/private/page", nil))
	require.NoError(t, err)
	require.Equal(t, "secret", string(resp.Body))
}

func TestFetchCanceled(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)
	d := New(Config{Timeout: 5 * time.Second}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := d.Fetch(ctx, crawler.NewRequest(srv.URL+"/slow", nil))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchUnreachable(t *testing.T) {
	t.Parallel()
	d := New(Config{Timeout: time.Second}, nil)
	_, err := d.Fetch(context.Background(), crawler.NewRequest("http://127.0.0.1:1/", nil))
	require.Error(t, err)
}

func TestBuildCollector(t *testing.T) {
	t.Parallel()

	d := New(Config{UserAgent: "coverage-agent", RespectRobots: true, MaxBodySize: 1024}, nil)
	var received bool
	collector := d.buildCollector(time.Unix(0, 0), &crawler.Response{}, &received, new(error))
	if collector.UserAgent != "coverage-agent" {
		t.Fatalf("expected user agent override, got %q", collector.UserAgent)
	}
	if collector.IgnoreRobotsTxt {
		t.Fatal("expected robots txt to be respected")
	}
	if !collector.AllowURLRevisit {
		t.Fatal("expected revisits to be allowed")
	}
	if collector.MaxBodySize != 1024 {
		t.Fatalf("expected max body size 1024, got %d", collector.MaxBodySize)
	}
	if d.robots == nil {
		t.Fatal("expected robots probe state")
	}
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	var (
		result   crawler.Response
		received bool
		fetchErr error
	)
	hooks := &stubHooks{}
	configureCollectorHooks(hooks, time.Unix(0, 0), &result, &received, &fetchErr)
	if hooks.onResponse == nil || hooks.onError == nil {
		t.Fatal("expected hooks to be registered")
	}

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request: &colly.Request{
			URL: mustParseURL(t, "https://example.com"),
		},
	})
	if !received || result.StatusCode != http.StatusCreated || string(result.Body) != "body" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Header.Get("X-Resp") != "ok" {
		t.Fatalf("expected headers copied, got %+v", result.Header)
	}

	hooks.onError(nil, errors.New("boom"))
	if fetchErr == nil || fetchErr.Error() != "boom" {
		t.Fatalf("expected fetchErr set, got %v", fetchErr)
	}
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse url %q: %v", raw, err)
	}
	return u
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
