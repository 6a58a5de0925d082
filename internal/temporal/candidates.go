package temporal

import (
	"github.com/JakeFAU/wiki-mirror/internal/markup"
	"github.com/JakeFAU/wiki-mirror/internal/mirror"
)

// Candidate is an unresolved link recorded under a year heading.
type Candidate struct {
	Year  int
	Title string
}

// ExtractCandidates walks the lines of a day page. A line that is exactly a
// bracketed year opens that year; while a year is open every relative link
// whose href is not itself a year becomes a candidate. Lines before the
// first heading contribute nothing. Repeated (year, title) pairs collapse.
func ExtractCandidates(blocks []markup.Block) []Candidate {
	var (
		out     []Candidate
		year    int
		inYear  bool
		present = make(map[Candidate]struct{})
	)
	for _, b := range blocks {
		line, ok := b.(markup.Line)
		if !ok {
			continue
		}
		if y, ok := markup.YearHeading(line.Nodes); ok {
			year, inYear = y, true
			continue
		}
		if !inYear {
			continue
		}
		for _, href := range markup.RelativeLinks(line.Nodes) {
			if mirror.IsYearKey(href) {
				continue
			}
			c := Candidate{Year: year, Title: href}
			if _, dup := present[c]; dup {
				continue
			}
			present[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// DistinctTitles returns the candidate titles in first-seen order.
func DistinctTitles(cands []Candidate) []string {
	seen := make(map[string]struct{}, len(cands))
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		if _, ok := seen[c.Title]; ok {
			continue
		}
		seen[c.Title] = struct{}{}
		out = append(out, c.Title)
	}
	return out
}
