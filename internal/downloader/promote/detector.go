package promote

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/crawl-scheduler/internal/crawler"
)

// DefaultMinTextBytes is the visible text below which a script-heavy page is
// considered a client-rendered shell.
const DefaultMinTextBytes = 2048

// mountPoints are the empty containers single-page apps render into.
var mountPoints = []string{"#__next", "#root", "#app", "[data-reactroot]"}

// Heuristic flags pages whose content is produced by JavaScript.
type Heuristic struct {
	MinTextBytes int
}

// NewHeuristic creates a detector. minTextBytes <= 0 uses DefaultMinTextBytes.
func NewHeuristic(minTextBytes int) *Heuristic {
	if minTextBytes <= 0 {
		minTextBytes = DefaultMinTextBytes
	}
	return &Heuristic{MinTextBytes: minTextBytes}
}

// NeedsRender reports whether resp should be fetched again in a browser.
func (h *Heuristic) NeedsRender(resp *crawler.Response) bool {
	if resp == nil || resp.StatusCode != http.StatusOK {
		return false
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return false
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return false
	}

	for _, sel := range mountPoints {
		mount := doc.Find(sel).First()
		if mount.Length() > 0 && strings.TrimSpace(mount.Text()) == "" {
			return true
		}
	}

	scripts := doc.Find("script")
	if scripts.Length() == 0 {
		return false
	}
	var scriptBytes int
	scripts.Each(func(_ int, s *goquery.Selection) {
		scriptBytes += len(s.Text())
	})
	doc.Find("script, style, noscript").Remove()
	text := len(strings.Join(strings.Fields(doc.Find("body").Text()), " "))
	if text >= h.MinTextBytes {
		return false
	}
	// Thin pages where scripts outweigh the readable text.
	return scriptBytes > 0 && scriptBytes*100/(scriptBytes+text+1) >= 25
}
