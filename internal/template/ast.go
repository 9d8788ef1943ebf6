// Package template resolves ${name} placeholders in dashboard query text.
// It supports typed parameter substitution and relative-date expressions
// such as ${yyyy-MM-dd-7d}.
package template

// Position tracks source location for error reporting.
type Position struct {
	File   string
	Line   int
	Column int
}

// Node is the interface for all template AST nodes.
type Node interface {
	Pos() Position
	node() // marker method to restrict implementation
}

// nodeBase provides common Position handling for all nodes.
type nodeBase struct {
	pos Position
}

func (n *nodeBase) Pos() Position { return n.pos }
func (n *nodeBase) node()         {}

// TextNode represents literal query text (passed through unchanged).
type TextNode struct {
	nodeBase
	Text string
}

// PlaceholderNode represents a ${...} reference. Name holds the text
// between the delimiters, trimmed.
type PlaceholderNode struct {
	nodeBase
	Name string
}

// Template is a parsed query.
type Template struct {
	File  string
	Nodes []Node
}

// Placeholders returns the distinct placeholder names in order of first use.
func (t *Template) Placeholders() []string {
	seen := make(map[string]bool)
	var names []string
	for _, n := range t.Nodes {
		if p, ok := n.(*PlaceholderNode); ok && !seen[p.Name] {
			seen[p.Name] = true
			names = append(names, p.Name)
		}
	}
	return names
}
