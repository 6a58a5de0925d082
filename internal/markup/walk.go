package markup

import (
	"strconv"
	"strings"
)

// Flatten renders a node subtree back to raw text, unwrapping decorations
// and quotes so only their inner text remains.
func Flatten(nodes []Node) string {
	var b strings.Builder
	for _, n := range nodes {
		switch v := n.(type) {
		case Decoration:
			b.WriteString(Flatten(v.Nodes))
		case Quote:
			b.WriteString(Flatten(v.Nodes))
		default:
			b.WriteString(n.Raw())
		}
	}
	return b.String()
}

// YearHeading reports the year of a line whose flattened text is exactly
// a bracketed four digit year such as "[2019]".
func YearHeading(nodes []Node) (int, bool) {
	text := strings.TrimSpace(Flatten(nodes))
	if len(text) != 6 || text[0] != '[' || text[5] != ']' {
		return 0, false
	}
	inner := text[1:5]
	for i := 0; i < len(inner); i++ {
		if inner[i] < '0' || inner[i] > '9' {
			return 0, false
		}
	}
	year, err := strconv.Atoi(inner)
	if err != nil {
		return 0, false
	}
	return year, true
}

// RelativeLinks collects the hrefs of relative links anywhere in the tree,
// descending through decorations and quotes, in document order.
func RelativeLinks(nodes []Node) []string {
	var out []string
	var walk func([]Node)
	walk = func(nodes []Node) {
		for _, n := range nodes {
			switch v := n.(type) {
			case Link:
				if v.PathType == PathRelative {
					out = append(out, v.Href)
				}
			case Decoration:
				walk(v.Nodes)
			case Quote:
				walk(v.Nodes)
			case Plain, HashTag, Code, Icon, Image:
			}
		}
	}
	walk(nodes)
	return out
}
