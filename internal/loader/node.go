package loader

import "strings"

// Node is one element of a parsed document. Names are local names: the
// namespace is kept in Space but never used for lookup, so prefixed and
// unprefixed documents map the same way.
type Node struct {
	Name     string
	Space    string
	Attrs    map[string]string
	Text     string
	Children []*Node

	// Line is the 1-based line of the start tag.
	Line int
}

// Child returns the first direct child called name.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns the direct children called name, in document order.
func (n *Node) ChildrenNamed(name string) []*Node {
	if n == nil {
		return nil
	}
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Find follows a slash-separated path of child names and returns the first
// match. An empty path returns n itself.
func (n *Node) Find(path string) *Node {
	cur := n
	for _, step := range splitPath(path) {
		cur = cur.Child(step)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// FindAll returns every node reachable through path, branching on repeated
// elements at each step.
func (n *Node) FindAll(path string) []*Node {
	if n == nil {
		return nil
	}
	cur := []*Node{n}
	for _, step := range splitPath(path) {
		var next []*Node
		for _, c := range cur {
			next = append(next, c.ChildrenNamed(step)...)
		}
		if len(next) == 0 {
			return nil
		}
		cur = next
	}
	return cur
}

// Value returns the trimmed text at path. ok is false when the element is
// absent or empty.
func (n *Node) Value(path string) (string, bool) {
	found := n.Find(path)
	if found == nil || found.Text == "" {
		return "", false
	}
	return found.Text, true
}

// Attr returns the attribute called name, or "".
func (n *Node) Attr(name string) string {
	if n == nil {
		return ""
	}
	return n.Attrs[name]
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}
