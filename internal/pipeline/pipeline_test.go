package pipeline

import (
	"context"
	"errors"
	"maps"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-scheduler/internal/crawler"
)

type tagStage struct {
	key, value string
	seen       []crawler.Record
	opened     int
	closed     int
	closeErr   error
}

func (s *tagStage) ProcessRecord(_ context.Context, rec crawler.Record) (crawler.Record, error) {
	s.seen = append(s.seen, rec)
	out := maps.Clone(rec)
	out[s.key] = s.value
	return out, nil
}

func (s *tagStage) Open(context.Context) error {
	s.opened++
	return nil
}

func (s *tagStage) Close(context.Context) error {
	s.closed++
	return s.closeErr
}

type nilStage struct{}

func (nilStage) ProcessRecord(context.Context, crawler.Record) (crawler.Record, error) {
	return nil, nil
}

type failingOpener struct{}

func (failingOpener) Open(context.Context) error { return errors.New("no disk") }

func TestPipelineThreadsRecords(t *testing.T) {
	t.Parallel()

	first := &tagStage{key: "a", value: "1"}
	second := &tagStage{key: "b", value: "2"}
	p := New(first, second)

	out, err := p.Process(context.Background(), crawler.Record{"url": "https://example.com"})
	require.NoError(t, err)
	require.Equal(t, crawler.Record{"url": "https://example.com", "a": "1", "b": "2"}, out)
	require.Equal(t, crawler.Record{"url": "https://example.com", "a": "1"}, second.seen[0])
}

func TestPipelineDropStopsLaterStages(t *testing.T) {
	t.Parallel()

	after := &tagStage{key: "x", value: "y"}
	p := New(NewRequireFields("title"), after)

	_, err := p.Process(context.Background(), crawler.Record{"url": "u"})
	require.ErrorIs(t, err, ErrDropRecord)
	require.Empty(t, after.seen)

	out, err := p.Process(context.Background(), crawler.Record{"url": "u", "title": "t"})
	require.NoError(t, err)
	require.Equal(t, "y", out["x"])
}

func TestPipelineNilRecordIsDrop(t *testing.T) {
	t.Parallel()

	_, err := New(nilStage{}).Process(context.Background(), crawler.Record{})
	require.ErrorIs(t, err, ErrDropRecord)
}

func TestPipelineOpenAndClose(t *testing.T) {
	t.Parallel()

	a := &tagStage{closeErr: errors.New("flush failed")}
	b := &tagStage{}
	p := New(a, nil, b)
	require.Equal(t, 2, p.Len())

	require.NoError(t, p.Open(context.Background()))
	require.Equal(t, 1, a.opened)
	require.Equal(t, 1, b.opened)

	err := p.Close(context.Background())
	require.ErrorContains(t, err, "flush failed")
	require.Equal(t, 1, a.closed)
	require.Equal(t, 1, b.closed)
}

func TestPipelineOpenFailure(t *testing.T) {
	t.Parallel()

	later := &tagStage{}
	err := New(failingOpener{}, later).Open(context.Background())
	require.ErrorContains(t, err, "no disk")
	require.Zero(t, later.opened)
}
