package models

import "strings"

// Tag is a label deduplicated by its normalized name.
type Tag struct {
	ID   int64
	Name string
}

// NormalizeTagName trims surrounding whitespace.
func NormalizeTagName(name string) string { return strings.TrimSpace(name) }

// TagKey is the uniqueness key of a tag name.
func TagKey(name string) string { return strings.ToLower(NormalizeTagName(name)) }
