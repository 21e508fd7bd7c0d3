package wabin

import (
	"fmt"
	"sort"
	"strings"
)

// Node is a single stanza in the binary XML tree. Content is nil, a
// []byte payload, or an ordered []Node child list; the order of children
// is significant, the order of Attrs is not.
type Node struct {
	Tag     string
	Attrs   map[string]string
	Content interface{}
}

// GetChildren returns the child node list, or nil when the content is
// absent or binary.
func (n *Node) GetChildren() []Node {
	if n == nil || n.Content == nil {
		return nil
	}
	children, ok := n.Content.([]Node)
	if !ok {
		return nil
	}
	return children
}

// GetChildByTag returns a pointer to the first direct child with the
// given tag.
func (n *Node) GetChildByTag(tag string) (*Node, bool) {
	children := n.GetChildren()
	for i := range children {
		if children[i].Tag == tag {
			return &children[i], true
		}
	}
	return nil, false
}

// GetChildrenByTag returns every direct child with the given tag, in
// document order.
func (n *Node) GetChildrenByTag(tag string) []Node {
	var out []Node
	for _, child := range n.GetChildren() {
		if child.Tag == tag {
			out = append(out, child)
		}
	}
	return out
}

// GetAttr returns an attribute value and whether it was present.
func (n *Node) GetAttr(key string) (string, bool) {
	if n == nil || n.Attrs == nil {
		return "", false
	}
	v, ok := n.Attrs[key]
	return v, ok
}

// AttrOr returns the attribute value or a default when absent.
func (n *Node) AttrOr(key, def string) string {
	if v, ok := n.GetAttr(key); ok {
		return v
	}
	return def
}

// ContentBytes returns the binary content, or nil for absent/list
// content.
func (n *Node) ContentBytes() []byte {
	if n == nil {
		return nil
	}
	b, _ := n.Content.([]byte)
	return b
}

// ContentString returns the binary content decoded as UTF-8.
func (n *Node) ContentString() string {
	return string(n.ContentBytes())
}

// XMLString renders the node as indented pseudo-XML for logs and tests.
// It is not part of the wire format.
func (n *Node) XMLString() string {
	var b strings.Builder
	n.xmlString(&b, 0)
	return b.String()
}

func (n *Node) xmlString(b *strings.Builder, depth int) {
	indent := strings.Repeat("  ", depth)
	b.WriteString(indent)
	b.WriteByte('<')
	b.WriteString(n.Tag)
	keys := make([]string, 0, len(n.Attrs))
	for k := range n.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=%q", k, n.Attrs[k])
	}
	switch content := n.Content.(type) {
	case nil:
		b.WriteString("/>")
	case []byte:
		fmt.Fprintf(b, ">%x</%s>", content, n.Tag)
	case []Node:
		b.WriteString(">\n")
		for i := range content {
			content[i].xmlString(b, depth+1)
			b.WriteByte('\n')
		}
		b.WriteString(indent)
		fmt.Fprintf(b, "</%s>", n.Tag)
	}
}
