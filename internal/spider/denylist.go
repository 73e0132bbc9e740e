package spider

import (
	"slices"
	"strings"
)

// denylist matches hosts against exact names and "*.suffix" or ".suffix"
// patterns. A suffix pattern also matches the bare domain.
type denylist struct {
	exact    map[string]struct{}
	suffixes []string
}

func newDenylist(patterns []string) *denylist {
	d := &denylist{exact: make(map[string]struct{})}
	for _, raw := range patterns {
		p := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case p == "":
		case strings.HasPrefix(p, "*.") || strings.HasPrefix(p, "."):
			suffix := strings.TrimLeft(p, "*.")
			if suffix != "" && !slices.Contains(d.suffixes, suffix) {
				d.suffixes = append(d.suffixes, suffix)
			}
		default:
			d.exact[p] = struct{}{}
		}
	}
	if len(d.exact) == 0 && len(d.suffixes) == 0 {
		return nil
	}
	return d
}

func (d *denylist) denies(host string) bool {
	if d == nil || host == "" {
		return false
	}
	if _, ok := d.exact[host]; ok {
		return true
	}
	for _, s := range d.suffixes {
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}
	return false
}
