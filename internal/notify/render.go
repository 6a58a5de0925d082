package notify

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/wiki-mirror/internal/mirror"
)

// Classification actions offered per page.
var actions = []string{"register", "exclude", "clip"}

// Renderer formats digest lines with signed action links.
type Renderer struct {
	signer *Signer
	site   string
}

// NewRenderer constructs a Renderer for links under https://{site}.
func NewRenderer(signer *Signer, site string) (*Renderer, error) {
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	site = strings.TrimSuffix(strings.TrimPrefix(site, "https://"), "/")
	if site == "" {
		return nil, fmt.Errorf("notify site url is required")
	}
	return &Renderer{signer: signer, site: site}, nil
}

// ActionURL returns the signed link for one action on one page.
func (r *Renderer) ActionURL(action string, pageID int64) string {
	return fmt.Sprintf("https://%s/api/article/%s?token=%s", r.site, action, url.QueryEscape(r.signer.Token(pageID)))
}

// Lines renders the digest header followed by one line per page.
func (r *Renderer) Lines(pages []mirror.UnclassifiedPage) []string {
	out := make([]string, 0, len(pages)+2)
	out = append(out, fmt.Sprintf("**%d unclassified pages**", len(pages)), "")
	for _, p := range pages {
		links := make([]string, len(actions))
		for i, a := range actions {
			links[i] = fmt.Sprintf("[%s](%s)", a, r.ActionURL(a, p.ID))
		}
		out = append(out, fmt.Sprintf("- %s (%s)", p.Title, strings.Join(links, " | ")))
	}
	return out
}

// Chunk packs lines into chunks of at most budget runes, joined by
// newlines. A line is never split across chunks. A single line longer than
// the budget is cut back to the last complete action link so that it fits its
// own chunk; the number of lines cut is returned.
func Chunk(lines []string, budget int) ([]string, int) {
	if budget <= 0 || len(lines) == 0 {
		return nil, 0
	}
	var (
		chunks    []string
		cur       strings.Builder
		size      int
		count     int
		truncated int
	)
	for _, line := range lines {
		n := utf8.RuneCountInString(line)
		if n > budget {
			line = truncateLine(line, budget)
			n = utf8.RuneCountInString(line)
			truncated++
		}
		if count > 0 && size+1+n > budget {
			chunks = append(chunks, cur.String())
			cur.Reset()
			size, count = 0, 0
		}
		if count > 0 {
			cur.WriteByte('\n')
			size++
		}
		cur.WriteString(line)
		size += n
		count++
	}
	if count > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks, truncated
}

// truncateLine cuts s to at most n runes and drops a trailing link whose
// URL the cut left incomplete.
func truncateLine(s string, n int) string {
	cut := truncateRunes(s, n)
	open := strings.LastIndex(cut, "[")
	if open >= 0 && !strings.Contains(cut[open:], ")") {
		cut = strings.TrimRight(cut[:open], " |(")
	}
	return cut
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
