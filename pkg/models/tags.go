package models

import (
	"slices"
	"strings"
)

// SubjectTags returns the subject tags carried in an execution context: the comma separated
// "tags" list plus the single "tag" set by contact.tag_added events.
func SubjectTags(ctx map[string]string) []string {
	var tags []string

	for _, tag := range strings.Split(ctx[ContextTags], ",") {
		if tag = strings.TrimSpace(tag); tag != "" && !slices.Contains(tags, tag) {
			tags = append(tags, tag)
		}
	}

	if tag := strings.TrimSpace(ctx[ContextTag]); tag != "" && !slices.Contains(tags, tag) {
		tags = append(tags, tag)
	}

	return tags
}

// HasContextTag reports whether the context carries the tag, ignoring case.
func HasContextTag(ctx map[string]string, tag string) bool {
	for _, known := range SubjectTags(ctx) {
		if strings.EqualFold(known, tag) {
			return true
		}
	}

	return false
}

// WithContextTag returns the "tags" entry with tag added.
func WithContextTag(ctx map[string]string, tag string) string {
	tags := SubjectTags(ctx)
	if !slices.ContainsFunc(tags, func(known string) bool { return strings.EqualFold(known, tag) }) {
		tags = append(tags, tag)
	}

	return strings.Join(tags, ",")
}

// WithoutContextTag returns the "tags" entry with tag removed.
func WithoutContextTag(ctx map[string]string, tag string) string {
	tags := slices.DeleteFunc(SubjectTags(ctx), func(known string) bool { return strings.EqualFold(known, tag) })

	return strings.Join(tags, ",")
}
