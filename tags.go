package ddmetrics

import (
	"sort"
	"strings"
)

// Tags represents a list of tags. Tags can be of two forms:
// 1. "key:value". "value" may contain column(s) as well.
// 2. "tag". No column.
// Order is preserved on the wire, duplicates are allowed.
type Tags []string

// String returns a comma-separated string representation of the tags.
func (tags Tags) String() string {
	return strings.Join(tags, ",")
}

// SortedString returns a comma-separated string representation of a sorted
// copy of the tags. The receiver is not modified.
func (tags Tags) SortedString() string {
	sorted := tags.Copy()
	sort.Strings(sorted)
	return sorted.String()
}

// Concat returns a new Tags with the additional ones added.
// The result is never nil.
func (tags Tags) Concat(additional Tags) Tags {
	t := make(Tags, 0, len(tags)+len(additional))
	t = append(t, tags...)
	t = append(t, additional...)
	return t
}

// Copy returns a copy of the Tags
func (tags Tags) Copy() Tags {
	if tags == nil {
		return nil
	}
	tagCopy := make(Tags, len(tags))
	copy(tagCopy, tags)
	return tagCopy
}

// IdentityKey returns the buffer key for a metric name and its tags.  Tag
// order does not matter, and host is deliberately not part of the key.
func IdentityKey(name string, tags Tags) string {
	return name + "#" + tags.SortedString()
}
