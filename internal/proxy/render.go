package proxy

import (
	"fmt"

	"github.com/charmbracelet/lipgloss/tree"
)

// Tree renders the subtree below c: child containers, leaves with their
// locators and every extension with its symbol and source.
func (c *Container) Tree() string {
	n, ok := c.t.nodes[c.id]
	if !ok {
		return ""
	}
	return c.t.render(n).String()
}

func (t *Tree) render(n *node) *tree.Tree {
	out := tree.Root(t.label(n))
	if n.children != nil {
		for _, name := range n.children.names() {
			id, _ := n.children.get(name)
			out.Child(t.render(t.nodes[id]))
		}
	}
	for _, name := range n.exts.names() {
		id, _ := n.exts.get(name)
		out.Child(t.render(t.nodes[id]))
	}
	return out
}

func (t *Tree) label(n *node) string {
	var s string
	switch n.kind {
	case KindContainer:
		s = n.name
		if n.id == t.root {
			s = "(root)"
		}
	case KindResource:
		s = fmt.Sprintf("%s -> %s", n.name, n.locator)
	case KindExtension:
		m := n.ext.meta
		s = fmt.Sprintf("%s (%s %s from %s)", n.name, m.Kind, m.Symbol, m.Source)
		if n.ext.object != nil {
			s += " [instance]"
		}
	}
	if v := variantOf(n); v != "" {
		s += " [patched: " + v + "]"
	}
	return s
}
