package promote

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-scheduler/internal/crawler"
)

func htmlResponse(status int, body string) *crawler.Response {
	return &crawler.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": {"text/html"}},
		Body:       []byte(body),
	}
}

func TestHeuristicNeedsRender(t *testing.T) {
	t.Parallel()

	article := "<p>" + strings.Repeat("plain readable text ", 200) + "</p>"
	cases := []struct {
		name string
		resp *crawler.Response
		want bool
	}{
		{"empty body", htmlResponse(http.StatusOK, "  "), true},
		{"next mount", htmlResponse(http.StatusOK, `<html><body><div id="__next"></div></body></html>`), true},
		{"react root", htmlResponse(http.StatusOK, `<div data-reactroot></div>`), true},
		{"script heavy", htmlResponse(http.StatusOK, `<html><script>var a=1;window.boot(a);</script><p>t</p></html>`), true},
		{"filled mount", htmlResponse(http.StatusOK, `<div id="app">`+article+`</div>`), false},
		{"long article with scripts", htmlResponse(http.StatusOK, article+`<script>track()</script>`), false},
		{"no scripts", htmlResponse(http.StatusOK, `<p>short</p>`), false},
		{"not found", htmlResponse(http.StatusNotFound, ""), false},
		{"json", &crawler.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": {"application/json"}},
		}, false},
		{"nil", nil, false},
	}
	h := NewHeuristic(0)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, h.NeedsRender(tc.resp))
		})
	}
}

type stubDownloader struct {
	resp   *crawler.Response
	err    error
	calls  int
	closed bool
}

func (s *stubDownloader) Fetch(context.Context, *crawler.Request) (*crawler.Response, error) {
	s.calls++
	return s.resp, s.err
}

func (s *stubDownloader) Close() error {
	s.closed = true
	return nil
}

type fixedDetector bool

func (f fixedDetector) NeedsRender(*crawler.Response) bool { return bool(f) }

func TestFetchKeepsProbeWhenNotFlagged(t *testing.T) {
	probe := &stubDownloader{resp: htmlResponse(http.StatusOK, "<p>ok</p>")}
	render := &stubDownloader{}
	d, err := New(probe, render, fixedDetector(false), nil)
	require.NoError(t, err)

	resp, err := d.Fetch(context.Background(), crawler.NewRequest("https://example.com", nil))
	require.NoError(t, err)
	assert.Same(t, probe.resp, resp)
	assert.Zero(t, render.calls)
}

func TestFetchPromotes(t *testing.T) {
	probe := &stubDownloader{resp: htmlResponse(http.StatusOK, `<div id="root"></div>`)}
	render := &stubDownloader{resp: htmlResponse(http.StatusOK, "<p>rendered</p>")}
	d, err := New(probe, render, nil, nil)
	require.NoError(t, err)

	resp, err := d.Fetch(context.Background(), crawler.NewRequest("https://example.com", nil))
	require.NoError(t, err)
	assert.Same(t, render.resp, resp)
}

func TestFetchFallsBackWhenRenderFails(t *testing.T) {
	probe := &stubDownloader{resp: htmlResponse(http.StatusOK, "")}
	render := &stubDownloader{err: errors.New("chrome missing")}
	d, err := New(probe, render, fixedDetector(true), nil)
	require.NoError(t, err)

	resp, err := d.Fetch(context.Background(), crawler.NewRequest("https://example.com", nil))
	require.NoError(t, err)
	assert.Same(t, probe.resp, resp)
}

func TestFetchRenderCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	probe := &stubDownloader{resp: htmlResponse(http.StatusOK, "")}
	render := &stubDownloader{err: context.Canceled}
	d, err := New(probe, render, fixedDetector(true), nil)
	require.NoError(t, err)

	_, err = d.Fetch(ctx, crawler.NewRequest("https://example.com", nil))
	require.ErrorIs(t, err, context.Canceled)
}

func TestFetchSkipsNonGET(t *testing.T) {
	probe := &stubDownloader{resp: htmlResponse(http.StatusOK, "")}
	render := &stubDownloader{}
	d, err := New(probe, render, fixedDetector(true), nil)
	require.NoError(t, err)

	req := crawler.NewRequest("https://example.com", nil)
	req.Method = http.MethodPost
	_, err = d.Fetch(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, render.calls)
}

func TestFetchProbeError(t *testing.T) {
	probe := &stubDownloader{err: errors.New("dial failed")}
	d, err := New(probe, &stubDownloader{}, nil, nil)
	require.NoError(t, err)

	_, err = d.Fetch(context.Background(), crawler.NewRequest("https://example.com", nil))
	require.EqualError(t, err, "dial failed")
}

func TestNewAndClose(t *testing.T) {
	_, err := New(nil, &stubDownloader{}, nil, nil)
	require.Error(t, err)

	probe, render := &stubDownloader{}, &stubDownloader{}
	d, err := New(probe, render, nil, nil)
	require.NoError(t, err)
	require.NoError(t, d.Close())
	assert.True(t, probe.closed)
	assert.True(t, render.closed)
}
