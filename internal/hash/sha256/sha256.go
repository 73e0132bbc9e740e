// Package sha256 provides the SHA-256 request fingerprinter.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/JakeFAU/crawl-scheduler/internal/crawler"
)

// Fingerprinter implements crawler.Fingerprinter over method, normalized URL
// and body. Headers do not participate.
type Fingerprinter struct{}

// New returns a SHA-256 fingerprinter.
func New() *Fingerprinter {
	return &Fingerprinter{}
}

// Fingerprint returns the hex digest identifying req.
func (f *Fingerprinter) Fingerprint(req *crawler.Request) string {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	target, err := crawler.NormalizeURL(req.URL)
	if err != nil {
		target = req.URL
	}

	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(target))
	h.Write([]byte{0})
	h.Write(req.Body)
	return hex.EncodeToString(h.Sum(nil))
}
