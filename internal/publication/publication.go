// Package publication defines the records harvested from the listing and
// detail stages and the rules for reconciling them.
package publication

import "strings"

// AuthorRef names one author of a publication. Profile is empty when the
// author was not resolved from a structured person link.
type AuthorRef struct {
	Name    string `json:"name"`
	Profile string `json:"profile"`
}

// Record is a publication at any enrichment stage. Link is its identity.
type Record struct {
	Title         string      `json:"title"`
	Link          string      `json:"link"`
	Authors       []AuthorRef `json:"authors"`
	PublishedDate *string     `json:"published_date"`
	Abstract      string      `json:"abstract"`
}

// Stub is the title/link pair captured from a listing page.
type Stub struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

// Record expands the stub into a record with every other field empty.
func (s Stub) Record() Record {
	return Record{
		Title:   s.Title,
		Link:    s.Link,
		Authors: []AuthorRef{},
	}
}

// StringPtr returns nil for an empty (after trimming) value.
func StringPtr(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

// UniqueAuthors drops empty names and repeated names, comparing trimmed
// names exactly. The first occurrence keeps its position and profile.
func UniqueAuthors(in []AuthorRef) []AuthorRef {
	out := make([]AuthorRef, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, a := range in {
		a.Name = strings.TrimSpace(a.Name)
		if a.Name == "" {
			continue
		}
		if _, ok := seen[a.Name]; ok {
			continue
		}
		seen[a.Name] = struct{}{}
		out = append(out, a)
	}
	return out
}

// UniqueStrings trims values and drops empties and repeats, preserving order.
func UniqueStrings(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// NamesToAuthors wraps bare names as authors without profile links.
func NamesToAuthors(names []string) []AuthorRef {
	out := make([]AuthorRef, 0, len(names))
	for _, n := range UniqueStrings(names) {
		out = append(out, AuthorRef{Name: n})
	}
	return out
}
