package generation

import (
	"fmt"
	"slices"
	"strings"
)

const (
	// MaxTags is the largest number of tags a generation may carry
	MaxTags = 32

	// MaxTagLength is the longest permitted tag, in bytes
	MaxTagLength = 64
)

// NormalizeTags trims every tag, drops duplicates keeping the first
// occurrence and rejects empty or oversized tags. The result is never nil.
func NormalizeTags(tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			return nil, fmt.Errorf("tags cannot be empty")
		}
		if len(tag) > MaxTagLength {
			return nil, fmt.Errorf("tag %q exceeds %d characters", tag, MaxTagLength)
		}
		if !slices.Contains(out, tag) {
			out = append(out, tag)
		}
	}
	if len(out) > MaxTags {
		return nil, fmt.Errorf("at most %d tags are allowed, got %d", MaxTags, len(out))
	}
	return out, nil
}

// ApplyTagUpdate appends add to current and then drops everything in remove.
// A tag present in both add and remove ends up absent. Display order of the
// surviving tags is preserved.
func ApplyTagUpdate(current, add, remove []string) []string {
	out := make([]string, 0, len(current)+len(add))
	for _, tag := range slices.Concat(current, add) {
		if slices.Contains(out, tag) || slices.Contains(remove, tag) {
			continue
		}
		out = append(out, tag)
	}
	return out
}

// HasAllTags reports whether tags contains every entry in required.
func HasAllTags(tags, required []string) bool {
	for _, want := range required {
		if !slices.Contains(tags, want) {
			return false
		}
	}
	return true
}
