package request

import (
	"sort"
	"strings"
)

// DefaultTags are the request kinds accepted when none are configured:
// want to sell, want to buy and want to trade.
var DefaultTags = []string{"#wts", "#wtb", "#wtt"}

// TagSet is a case-insensitive set of allowed leading tags.
type TagSet map[string]struct{}

// NewTagSet builds a set from tags, lower-casing and trimming each one.
// Empty input yields DefaultTags.
func NewTagSet(tags []string) TagSet {
	set := make(TagSet, len(tags))
	for _, t := range tags {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			set[t] = struct{}{}
		}
	}
	if len(set) == 0 {
		for _, t := range DefaultTags {
			set[t] = struct{}{}
		}
	}
	return set
}

// Match returns the lower-cased first token of text when it is an allowed tag.
func (s TagSet) Match(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", false
	}
	tag := strings.ToLower(fields[0])
	_, ok := s[tag]
	return tag, ok
}

// List returns the tags in sorted order.
func (s TagSet) List() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
