package scheduler

import (
	"fmt"

	"github.com/JakeFAU/crawl-scheduler/internal/crawler"
)

// PriorityPolicy computes the default priority of a request produced from
// parent. parent is nil for seeds and rescheduled requests.
type PriorityPolicy func(parent *crawler.Response) int

// DepthFirst schedules follow-ups ahead of their parent's siblings.
func DepthFirst(parent *crawler.Response) int {
	if parent == nil || parent.Request == nil {
		return 0
	}
	return parent.Request.Priority() - 1
}

// BreadthFirst schedules follow-ups behind their parent's siblings.
func BreadthFirst(parent *crawler.Response) int {
	if parent == nil || parent.Request == nil {
		return 0
	}
	return parent.Request.Priority() + 1
}

// ParsePriorityPolicy maps a config name to a policy.
func ParsePriorityPolicy(name string) (PriorityPolicy, error) {
	switch name {
	case "", "depth_first":
		return DepthFirst, nil
	case "breadth_first":
		return BreadthFirst, nil
	default:
		return nil, fmt.Errorf("unknown priority policy %q", name)
	}
}
