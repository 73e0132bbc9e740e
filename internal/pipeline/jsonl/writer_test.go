package jsonl

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-scheduler/internal/crawler"
)

func TestNewRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Path: "  "})
	require.Error(t, err)
}

func TestWriterAppendsLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out", "records.jsonl")
	w, err := New(Config{Path: path})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = w.ProcessRecord(ctx, crawler.Record{"url": "early"})
	require.Error(t, err, "writes before open fail")

	require.NoError(t, w.Open(ctx))
	require.Error(t, w.Open(ctx), "double open is rejected")

	rec := crawler.Record{"url": "https://example.com", "depth": 1}
	out, err := w.ProcessRecord(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, rec, out)
	_, err = w.ProcessRecord(ctx, crawler.Record{"url": "https://example.com/2"})
	require.NoError(t, err)
	require.NoError(t, w.Close(ctx))
	require.NoError(t, w.Close(ctx), "close is idempotent")

	// A second crawl appends to the same file.
	require.NoError(t, w.Open(ctx))
	_, err = w.ProcessRecord(ctx, crawler.Record{"url": "https://example.com/3"})
	require.NoError(t, err)
	require.NoError(t, w.Close(ctx))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		urls = append(urls, line["url"].(string))
	}
	require.NoError(t, scanner.Err())
	require.Equal(t, []string{"https://example.com", "https://example.com/2", "https://example.com/3"}, urls)
}
