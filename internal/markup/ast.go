// Package markup parses wiki page text into a tree of blocks and inline nodes.
//
// Blocks and nodes are closed sum types: every variant implements an
// unexported marker method, so a type switch over the exported variants is
// exhaustive. Trees are acyclic and owned by the caller of Parse.
package markup

// Block is one of Title, Line, CodeBlock or Table.
type Block interface {
	isBlock()
}

// Title is the first line of a page.
type Title struct {
	Text string
}

// Line is an ordinary line of inline nodes.
type Line struct {
	Indent int
	Nodes  []Node
}

// CodeBlock is a "code:" block and its indented body.
type CodeBlock struct {
	Indent   int
	FileName string
	Content  string
}

// Table is a "table:" block; each row is split on tabs.
type Table struct {
	Indent int
	Name   string
	Cells  [][]string
}

func (Title) isBlock()     {}
func (Line) isBlock()      {}
func (CodeBlock) isBlock() {}
func (Table) isBlock()     {}

// PathType classifies a link target.
type PathType string

// Link path types.
const (
	PathRelative PathType = "relative"
	PathRoot     PathType = "root"
	PathAbsolute PathType = "absolute"
)

// Node is one of Plain, Link, HashTag, Decoration, Code, Icon, Quote or Image.
type Node interface {
	isNode()
	// Raw returns the source text the node was parsed from.
	Raw() string
}

// Plain is literal text.
type Plain struct {
	Text string
}

// Link is a bracketed or bare link.
type Link struct {
	PathType PathType
	Href     string
	Content  string
	raw      string
}

// HashTag is a "#tag" reference to a relative page.
type HashTag struct {
	Href string
}

// Decoration wraps nodes in styling such as bold or strike-through.
type Decoration struct {
	Decos []string
	Nodes []Node
	raw   string
}

// Code is inline code.
type Code struct {
	Text string
}

// Icon is a page rendered as an icon.
type Icon struct {
	PathType PathType
	Path     string
	raw      string
}

// Quote is a line starting with ">".
type Quote struct {
	Nodes []Node
}

// Image is an embedded image, optionally linking elsewhere.
type Image struct {
	Src  string
	Link string
	raw  string
}

func (Plain) isNode()      {}
func (Link) isNode()       {}
func (HashTag) isNode()    {}
func (Decoration) isNode() {}
func (Code) isNode()       {}
func (Icon) isNode()       {}
func (Quote) isNode()      {}
func (Image) isNode()      {}

// Raw implements Node.
func (n Plain) Raw() string { return n.Text }

// Raw implements Node.
func (n Link) Raw() string {
	if n.raw != "" {
		return n.raw
	}
	return "[" + n.Href + "]"
}

// Raw implements Node.
func (n HashTag) Raw() string { return "#" + n.Href }

// Raw implements Node.
func (n Decoration) Raw() string { return n.raw }

// Raw implements Node.
func (n Code) Raw() string { return "`" + n.Text + "`" }

// Raw implements Node.
func (n Icon) Raw() string { return n.raw }

// Raw implements Node.
func (n Quote) Raw() string {
	return ">" + joinRaw(n.Nodes)
}

// Raw implements Node.
func (n Image) Raw() string { return n.raw }

func joinRaw(nodes []Node) string {
	var out []byte
	for _, n := range nodes {
		out = append(out, n.Raw()...)
	}
	return string(out)
}
