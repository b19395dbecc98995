package sink

import (
	"fmt"

	"github.com/gobwas/glob"
)

// GlobFilter filters change events using glob patterns on the tenant code and
// the messaging channel tag.
type GlobFilter struct {
	tenantGlobs  []glob.Glob
	channelGlobs []glob.Glob
}

// NewGlobFilter creates a new glob-based filter.
// Empty patterns match everything.
func NewGlobFilter(tenantPatterns, channelPatterns []string) (*GlobFilter, error) {
	filter := &GlobFilter{
		tenantGlobs:  make([]glob.Glob, 0, len(tenantPatterns)),
		channelGlobs: make([]glob.Glob, 0, len(channelPatterns)),
	}

	for _, pattern := range tenantPatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid tenant pattern %q: %w", pattern, err)
		}
		filter.tenantGlobs = append(filter.tenantGlobs, g)
	}

	for _, pattern := range channelPatterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid channel pattern %q: %w", pattern, err)
		}
		filter.channelGlobs = append(filter.channelGlobs, g)
	}

	return filter, nil
}

// Match returns true if the tenant and channel match the configured patterns.
// If no patterns are configured, all events match.
func (f *GlobFilter) Match(tenant, channel string) bool {
	tenantMatch := len(f.tenantGlobs) == 0
	if !tenantMatch {
		for _, g := range f.tenantGlobs {
			if g.Match(tenant) {
				tenantMatch = true
				break
			}
		}
	}
	if !tenantMatch {
		return false
	}

	channelMatch := len(f.channelGlobs) == 0
	if !channelMatch {
		for _, g := range f.channelGlobs {
			if g.Match(channel) {
				channelMatch = true
				break
			}
		}
	}
	return channelMatch
}
