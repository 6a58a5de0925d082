package markup

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ErrMalformed is returned for text that cannot be parsed.
var ErrMalformed = errors.New("malformed markup")

// Options controls Parse.
type Options struct {
	// HasTitle treats the first line as the page title.
	HasTitle bool
}

var (
	decorationPrefix = regexp.MustCompile(`^([*!"#%&'()+,\-./{|}<>_~]+) `)
	iconPattern      = regexp.MustCompile(`^(.+)\.icon(?:\*\d+)?$`)
	imagePattern     = regexp.MustCompile(`(?i)(\.(png|jpe?g|gif|svg|webp)(\?.*)?$)|^https?://(i\.)?gyazo\.com/`)
)

// Parse converts page text into blocks.
func Parse(text string, opts Options) ([]Block, error) {
	if !utf8.ValidString(text) {
		return nil, errors.Join(ErrMalformed, errors.New("text is not valid UTF-8"))
	}
	if strings.IndexByte(text, 0) >= 0 {
		return nil, errors.Join(ErrMalformed, errors.New("text contains NUL bytes"))
	}

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}

	blocks := make([]Block, 0, len(lines))
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if opts.HasTitle && i == 0 {
			blocks = append(blocks, Title{Text: line})
			continue
		}
		indent := indentOf(line)
		rest := line[indent:]

		switch {
		case strings.HasPrefix(rest, "code:"):
			body, next := collectIndented(lines, i+1, indent)
			blocks = append(blocks, CodeBlock{
				Indent:   indent,
				FileName: strings.TrimPrefix(rest, "code:"),
				Content:  strings.Join(body, "\n"),
			})
			i = next - 1
		case strings.HasPrefix(rest, "table:"):
			body, next := collectIndented(lines, i+1, indent)
			cells := make([][]string, 0, len(body))
			for _, row := range body {
				cells = append(cells, strings.Split(row, "\t"))
			}
			blocks = append(blocks, Table{
				Indent: indent,
				Name:   strings.TrimPrefix(rest, "table:"),
				Cells:  cells,
			})
			i = next - 1
		default:
			blocks = append(blocks, Line{Indent: indent, Nodes: parseLine(rest)})
		}
	}
	return blocks, nil
}

func indentOf(line string) int {
	n := 0
	for n < len(line) && (line[n] == ' ' || line[n] == '\t') {
		n++
	}
	return n
}

// collectIndented gathers the lines deeper than indent starting at from,
// stripping indent+1 leading whitespace characters from each.
func collectIndented(lines []string, from, indent int) ([]string, int) {
	var body []string
	i := from
	for ; i < len(lines); i++ {
		if indentOf(lines[i]) <= indent {
			break
		}
		body = append(body, lines[i][indent+1:])
	}
	return body, i
}

func parseLine(text string) []Node {
	if strings.HasPrefix(text, ">") {
		return []Node{Quote{Nodes: parseInline(text[1:])}}
	}
	return parseInline(text)
}

func parseInline(s string) []Node {
	var (
		nodes []Node
		plain strings.Builder
	)
	flush := func() {
		if plain.Len() > 0 {
			nodes = append(nodes, Plain{Text: plain.String()})
			plain.Reset()
		}
	}
	emit := func(n Node) {
		flush()
		nodes = append(nodes, n)
	}

	for i := 0; i < len(s); {
		switch {
		case s[i] == '`':
			if end := strings.IndexByte(s[i+1:], '`'); end >= 0 {
				emit(Code{Text: s[i+1 : i+1+end]})
				i += end + 2
				continue
			}
		case strings.HasPrefix(s[i:], "[["):
			if end := strings.Index(s[i+2:], "]]"); end > 0 {
				inner := s[i+2 : i+2+end]
				emit(Decoration{Decos: []string{"*-1"}, Nodes: parseInline(inner), raw: s[i : i+4+end]})
				i += end + 4
				continue
			}
		case s[i] == '[':
			if n, width, ok := parseBracket(s[i:]); ok {
				emit(n)
				i += width
				continue
			}
		case s[i] == '#' && atWordStart(s, i):
			end := wordEnd(s, i+1)
			if end > i+1 {
				emit(HashTag{Href: s[i+1 : end]})
				i = end
				continue
			}
		case (strings.HasPrefix(s[i:], "https://") || strings.HasPrefix(s[i:], "http://")) && atWordStart(s, i):
			end := wordEnd(s, i)
			emit(Link{PathType: PathAbsolute, Href: s[i:end], raw: s[i:end]})
			i = end
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		plain.WriteRune(r)
		i += size
	}
	flush()
	return nodes
}

// parseBracket parses a bracket expression at the start of s.
func parseBracket(s string) (Node, int, bool) {
	if m := decorationPrefix.FindStringSubmatch(s[1:]); m != nil {
		if end := matchBracket(s); end > len(m[0]) {
			return Decoration{
				Decos: decosOf(m[1]),
				Nodes: parseInline(s[1+len(m[0]) : end]),
				raw:   s[:end+1],
			}, end + 1, true
		}
	}

	first := strings.IndexByte(s, ']')
	if first < 0 {
		return nil, 0, false
	}
	raw := s[:first+1]
	content := s[1:first]
	if strings.TrimSpace(content) == "" {
		return Plain{Text: raw}, len(raw), true
	}
	return bracketNode(content, raw), len(raw), true
}

// matchBracket returns the index of the bracket closing s[0], honoring nesting.
func matchBracket(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func bracketNode(content, raw string) Node {
	if m := iconPattern.FindStringSubmatch(content); m != nil {
		pt := PathRelative
		if strings.HasPrefix(m[1], "/") {
			pt = PathRoot
		}
		return Icon{PathType: pt, Path: m[1], raw: raw}
	}

	fields := strings.Fields(content)
	var urls, words []string
	for _, f := range fields {
		if isURL(f) {
			urls = append(urls, f)
		} else {
			words = append(words, f)
		}
	}
	if len(urls) > 0 {
		href := urls[0]
		if imagePattern.MatchString(href) {
			img := Image{Src: href, raw: raw}
			if len(urls) > 1 {
				img.Link = urls[1]
			}
			return img
		}
		return Link{PathType: PathAbsolute, Href: href, Content: strings.Join(words, " "), raw: raw}
	}
	if strings.HasPrefix(content, "/") {
		return Link{PathType: PathRoot, Href: content, raw: raw}
	}
	return Link{PathType: PathRelative, Href: content, raw: raw}
}

func decosOf(prefix string) []string {
	var decos []string
	if stars := strings.Count(prefix, "*"); stars > 0 {
		decos = append(decos, "*-"+strconv.Itoa(min(stars, 10)))
	}
	for _, r := range prefix {
		if r != '*' {
			decos = append(decos, string(r))
		}
	}
	return decos
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}

func atWordStart(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return r == ' ' || r == '\t' || r == '　'
}

func wordEnd(s string, from int) int {
	for i, r := range s[from:] {
		if r == ' ' || r == '\t' || r == '　' || r == '[' || r == ']' {
			return from + i
		}
	}
	return len(s)
}
