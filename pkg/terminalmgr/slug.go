package terminalmgr

import (
	"regexp"
	"strings"
)

var slugNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// slugify derives a stable machine key from a human-readable name: lower
// case, runs of non-alphanumeric characters collapsed to a single
// underscore, leading/trailing underscores trimmed.
func slugify(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = slugNonAlnum.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}

// childKey derives a dynamic sensor's child key from its parent key and the
// row identifier reported by the owning command's output. Children are
// always keyed by id, never by the row's display name, so a renamed row
// does not orphan its historical key.
func childKey(parentKey, rowID string) string {
	return parentKey + "_" + slugify(rowID)
}
