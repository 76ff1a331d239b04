package config

import (
	"strings"

	"github.com/paivaspol/mahimahi/pkg/errors"
	"github.com/paivaspol/mahimahi/pkg/urlutil"
)

// Dependency priorities, highest first. The effective priority of a child is
// the trailing vroom-priority column when present, else the priority column.
const (
	PriorityVeryHigh = "VeryHigh"
	PriorityHigh     = "High"
	PriorityMedium   = "Medium"
)

// Child is one dependency of a parent URL.
type Child struct {
	URL      string
	Type     string
	Priority string
}

// Dependencies maps each parent URL (trailing slash stripped) to its
// children, preserving file order.
type Dependencies struct {
	children map[string][]Child
}

// LoadDependencies reads space-separated dependency lines:
//
//	<parent-url> <ignored> <child-url> <ignored> <resource-type> <priority> [<vroom-priority>]
func LoadDependencies(path string) (*Dependencies, error) {
	d := &Dependencies{children: make(map[string][]Child)}
	err := readLines(path, func(line string) error {
		fields := strings.Fields(line)
		if len(fields) < 6 {
			return errors.NewIOError("parsing dependency file",
				errors.NewParseError("short dependency line: "+line, nil))
		}
		parent := urlutil.RemoveTrailingSlash(fields[0])
		child := Child{
			URL:      fields[2],
			Type:     fields[4],
			Priority: fields[5],
		}
		if len(fields) >= 7 {
			child.Priority = fields[6]
		}
		d.children[parent] = append(d.children[parent], child)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ChildrenOf returns the dependencies of a URL, trailing slash ignored.
func (d *Dependencies) ChildrenOf(url string) []Child {
	if d == nil {
		return nil
	}
	return d.children[urlutil.RemoveTrailingSlash(url)]
}

// Empty reports whether the table has no entries.
func (d *Dependencies) Empty() bool {
	return d == nil || len(d.children) == 0
}

// IsPreloadPriority reports whether a child priority is high enough to earn
// a preload Link entry.
func IsPreloadPriority(priority string) bool {
	switch priority {
	case PriorityVeryHigh, PriorityHigh, PriorityMedium:
		return true
	}
	return false
}
