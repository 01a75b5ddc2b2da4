package matcher

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"seekbot/internal/utils"
	"seekbot/pkg/models"
)

const (
	// MinBitRate is the lowest bitrate, in kbps, a result may report.
	MinBitRate = 320
	// RequiredExt is the case-sensitive suffix every accepted filename has.
	RequiredExt = ".mp3"
)

// NoiseWords mark alternate versions. A filename containing one is only
// accepted when the query asks for it too.
var NoiseWords = []string{
	"remix", "rmx", "edit", "cover", "live", "mix", "bootleg", "acapella",
	"mashup",
}

// Reason names the first admissibility rule a result failed.
type Reason string

const (
	Admissible      Reason = ""
	RejectBitRate   Reason = "bitrate"
	RejectNoSlot    Reason = "no_slot"
	RejectExtension Reason = "extension"
	RejectTokens    Reason = "tokens"
	RejectNoise     Reason = "noise"
)

// Selection is the outcome of evaluating one search response.
type Selection struct {
	// Best is nil when nothing was admissible.
	Best       *models.SearchResult
	Admissible int
	Raw        int
	Rejected   map[Reason]int
}

// NoMatch reports whether the search produced results but none passed.
func (s Selection) NoMatch() bool {
	return s.Best == nil
}

// Evaluate checks a single result against the query and returns the first
// rule it fails, or Admissible.
func Evaluate(result models.SearchResult, query Query) Reason {
	if result.BitRate < MinBitRate {
		return RejectBitRate
	}
	if !result.HasFreeSlot {
		return RejectNoSlot
	}
	if !strings.HasSuffix(result.Filename, RequiredExt) {
		return RejectExtension
	}

	filename := norm.NFC.String(utils.Basename(result.Filename))
	if !matchSegments(strings.Split(filename, Separator), query.Segments) {
		return RejectTokens
	}
	if containsUnrequestedNoise(filename, query.Raw) {
		return RejectNoise
	}
	return Admissible
}

// matchSegments requires every query segment to be contained, ignoring case
// and punctuation, in the filename segment at the same position.
func matchSegments(filenameSegments, querySegments []string) bool {
	for i, piece := range querySegments {
		if i >= len(filenameSegments) {
			return false
		}
		if !segmentContains(filenameSegments[i], piece) {
			return false
		}
	}
	return true
}

// segmentContains folds both sides before comparing. A piece made only of
// punctuation folds to "" and is compared as plain lowercase text instead,
// so it never matches everything.
func segmentContains(segment, piece string) bool {
	folded := fold(piece)
	if folded == "" && piece != "" {
		return strings.Contains(strings.ToLower(segment), strings.ToLower(piece))
	}
	return strings.Contains(fold(segment), folded)
}

// fold lowercases s and turns every run of non-alphanumeric runes into a
// single space, so "Title (Remix)" and "title remix" compare equal.
func fold(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = false
			continue
		}
		space = true
	}
	return b.String()
}

// containsUnrequestedNoise checks the whole query text, not the matching
// segment, so "Title Remix" also permits a remix tagged in the artist part.
func containsUnrequestedNoise(filename, rawQuery string) bool {
	filename = strings.ToLower(filename)
	rawQuery = strings.ToLower(rawQuery)
	for _, word := range NoiseWords {
		if strings.Contains(filename, word) && !strings.Contains(rawQuery, word) {
			return true
		}
	}
	return false
}

// Filter returns the admissible results in their original order together
// with per-reason rejection counts.
func Filter(results []models.SearchResult, query Query) ([]models.SearchResult, map[Reason]int) {
	admissible := make([]models.SearchResult, 0, len(results))
	rejected := make(map[Reason]int)

	for _, r := range results {
		reason := Evaluate(r, query)
		if reason != Admissible {
			rejected[reason]++
			continue
		}
		admissible = append(admissible, r)
	}

	return admissible, rejected
}

// Select filters results and picks the fastest admissible one. On equal
// speed the result seen first wins.
func Select(results []models.SearchResult, query Query) Selection {
	admissible, rejected := Filter(results, query)

	selection := Selection{
		Admissible: len(admissible),
		Raw:        len(results),
		Rejected:   rejected,
	}

	for i := range admissible {
		if selection.Best == nil || admissible[i].Speed > selection.Best.Speed {
			best := admissible[i]
			selection.Best = &best
		}
	}

	return selection
}
