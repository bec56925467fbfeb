package services

import (
	"sort"
	"strings"
)

// Separator is one entry of the prioritized boundary pattern list. Patterns
// are plain substrings, not regular expressions, so the priority list can be
// supplied verbatim from configuration. Lower Rank means a structurally
// stronger boundary.
type Separator struct {
	Pattern string
	Rank    int

	// SplitBefore places the boundary at the start of the match instead of
	// after it, so the matched text (a heading marker) opens the next chunk
	// rather than closing the previous one.
	SplitBefore bool

	// Structural marks boundaries strong enough for the assembler to close a
	// chunk before reaching the base size (section starts, table ends).
	Structural bool
}

// TableEndMarker is the inline marker upstream extraction leaves after each
// table's rendered text. It outranks paragraph and sentence separators so a
// table is never split internally by a lower-priority rule.
const TableEndMarker = "[TABLE_END]"

// DefaultSeparators returns the boundary priority list used when the
// configuration supplies none: section and subsection headings, table ends,
// then the plain-text separators from the deployment defaults.
func DefaultSeparators() []Separator {
	return []Separator{
		{Pattern: "\n## ", Rank: 0, SplitBefore: true, Structural: true},
		{Pattern: "\n### ", Rank: 1, SplitBefore: true, Structural: true},
		{Pattern: TableEndMarker, Rank: 2, Structural: true},
		{Pattern: "\n\n", Rank: 3},
		{Pattern: "\n", Rank: 4},
		{Pattern: ". ", Rank: 5},
		{Pattern: " ", Rank: 6},
	}
}

// SeparatorsFromPatterns builds a priority list from plain configured
// patterns, ranked after the built-in structural separators in the order
// given. Recognized structural markers keep their structural role.
func SeparatorsFromPatterns(patterns []string) []Separator {
	seps := make([]Separator, 0, len(patterns))
	for i, p := range patterns {
		if p == "" {
			continue
		}
		sep := Separator{Pattern: p, Rank: i}
		switch {
		case p == TableEndMarker:
			sep.Structural = true
		case strings.HasPrefix(p, "\n#"):
			sep.SplitBefore = true
			sep.Structural = true
		}
		seps = append(seps, sep)
	}
	return seps
}

// Boundary is one candidate split point produced by segmentation.
type Boundary struct {
	// Offset is the byte position in the text where a chunk may end.
	Offset int

	// Rank is the priority of the separator that produced this boundary;
	// lower is stronger. When separators collide at one offset the strongest
	// rank wins.
	Rank int

	// Structural mirrors the producing separator's structural flag.
	Structural bool
}

// Segment locates every candidate split point in text. For each separator,
// all non-overlapping occurrences are recorded; the union is returned sorted
// by offset, keeping the strongest rank at shared offsets. The final
// end-of-text boundary is always present, so a text with no separator matches
// yields exactly one candidate covering the whole text.
//
// Segmentation is pure and stateless over its input: calling it again with
// the same arguments restarts the same candidate sequence.
func Segment(text string, separators []Separator) []Boundary {
	if text == "" {
		return nil
	}
	if len(separators) == 0 {
		separators = DefaultSeparators()
	}

	best := make(map[int]Boundary)
	for _, sep := range separators {
		if sep.Pattern == "" {
			continue
		}
		from := 0
		for {
			idx := strings.Index(text[from:], sep.Pattern)
			if idx < 0 {
				break
			}
			idx += from
			offset := idx + len(sep.Pattern)
			if sep.SplitBefore {
				// The heading marker belongs to the next chunk; only its
				// leading newline closes the previous one.
				offset = idx
				if sep.Pattern[0] == '\n' {
					offset = idx + 1
				}
			}
			if offset > 0 && offset < len(text) {
				if prev, ok := best[offset]; !ok || sep.Rank < prev.Rank {
					best[offset] = Boundary{Offset: offset, Rank: sep.Rank, Structural: sep.Structural}
				}
			}
			from = idx + len(sep.Pattern)
		}
	}

	boundaries := make([]Boundary, 0, len(best)+1)
	for _, b := range best {
		boundaries = append(boundaries, b)
	}
	// End of text is always a valid, structural split point.
	boundaries = append(boundaries, Boundary{Offset: len(text), Rank: -1, Structural: true})

	sort.Slice(boundaries, func(i, j int) bool {
		return boundaries[i].Offset < boundaries[j].Offset
	})
	return boundaries
}
