// Package matcher turns "Artist - Title" queries into search requests and
// picks the single most trustworthy file out of a noisy result set.
package matcher

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Separator splits the artist and title parts of queries and filenames.
const Separator = " - "

// Query is a normalized download request. It is immutable once built.
type Query struct {
	// Raw is the text as the user typed it.
	Raw string
	// Search is what is sent to the network. It is looser than the matching
	// rules: lowercased, with every separator collapsed to a single space.
	Search string
	// Segments is Raw split on Separator, matched positionally against
	// candidate filenames.
	Segments []string
}

// NewQuery normalizes raw command text. Any string is accepted; text without
// a separator yields a single segment.
func NewQuery(raw string) Query {
	raw = norm.NFC.String(raw)
	return Query{
		Raw:      raw,
		Search:   strings.ReplaceAll(strings.ToLower(raw), Separator, " "),
		Segments: strings.Split(raw, Separator),
	}
}
