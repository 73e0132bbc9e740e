package crawler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type countingFingerprinter struct {
	calls int
}

func (c *countingFingerprinter) Fingerprint(req *Request) string {
	c.calls++
	return req.Method + " " + req.URL
}

func TestRequestPriority(t *testing.T) {
	t.Parallel()

	req := NewRequest("https://example.com", nil)
	require.False(t, req.HasPriority())
	req.DefaultPriority(-3)
	require.Equal(t, -3, req.Priority())

	req.WithPriority(7)
	req.DefaultPriority(-4)
	require.True(t, req.HasPriority())
	require.Equal(t, 7, req.Priority())
}

func TestRequestFingerprintMemoized(t *testing.T) {
	t.Parallel()

	fp := &countingFingerprinter{}
	req := NewRequest("https://example.com/a", nil)
	first := req.Fingerprint(fp)
	req.URL = "https://example.com/b"
	second := req.Fingerprint(fp)

	require.Equal(t, first, second)
	require.Equal(t, 1, fp.calls)
}

func TestRequestCopyIsIndependent(t *testing.T) {
	t.Parallel()

	fp := &countingFingerprinter{}
	req := NewRequest("https://example.com/a", nil).WithPriority(2)
	req.Header.Set("X-Test", "1")
	req.SetMeta("retry_times", 1)
	_ = req.Fingerprint(fp)

	cp := req.Copy()
	cp.Header.Set("X-Test", "2")
	cp.SetMeta("retry_times", 2)
	cp.URL = "https://example.com/c"

	require.Equal(t, "1", req.Header.Get("X-Test"))
	require.Equal(t, 1, req.MetaInt("retry_times"))
	require.Equal(t, 2, cp.MetaInt("retry_times"))
	require.True(t, cp.HasPriority())
	require.Equal(t, 2, cp.Priority())
	require.Equal(t, "GET https://example.com/c", cp.Fingerprint(fp))
	require.Equal(t, 2, fp.calls)
}

func TestResultsAndFail(t *testing.T) {
	t.Parallel()

	req := NewRequest("https://example.com", nil)
	rec := Record{"k": "v"}

	var got []Result
	for r, err := range Results(req, rec) {
		require.NoError(t, err)
		got = append(got, r)
	}
	require.Len(t, got, 2)
	require.Same(t, req, got[0])

	boom := errors.New("boom")
	var errs []error
	for _, err := range Fail(boom) {
		errs = append(errs, err)
	}
	require.Equal(t, []error{boom}, errs)
}

func TestResultsStopsEarly(t *testing.T) {
	t.Parallel()

	n := 0
	for range Results(Record{}, Record{}, Record{}) {
		n++
		if n == 1 {
			break
		}
	}
	require.Equal(t, 1, n)
}

func TestCallbackSignature(t *testing.T) {
	t.Parallel()

	var cb Callback = func(_ context.Context, resp *Response) (Seq, error) {
		return Results(Record{"url": resp.URL}), nil
	}
	seq, err := cb(context.Background(), &Response{URL: "https://example.com"})
	require.NoError(t, err)
	for r := range seq {
		require.Equal(t, Record{"url": "https://example.com"}, r)
	}
}

func TestRunIDContext(t *testing.T) {
	ctx := context.Background()
	require.Empty(t, RunIDFromContext(ctx))
	require.Equal(t, "run-7", RunIDFromContext(WithRunID(ctx, "run-7")))
}
