// ABOUTME: Splits stored message markup into plain text, style and data values
// ABOUTME: Text that is not a single element is returned unchanged

package export

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ParseMarkup extracts the first text node, the root style attribute and the
// space-joined attribute values of a <data> child from a message such as
// `<span style='color: blue;'>Pick one<data value="3"/></span>`.
func ParseMarkup(text string) (plain, data, style string) {
	plain = text

	if root := singleElement(text); root != nil {
		plain = firstText(root)
		style = attr(root, "style")
		if d := findChild(root, atom.Data); d != nil {
			values := make([]string, 0, len(d.Attr))
			for _, a := range d.Attr {
				values = append(values, a.Val)
			}
			data = strings.Join(values, " ")
		}
	}

	plain = strings.TrimSpace(plain)
	plain = strings.TrimSuffix(plain, "\n")
	return plain, data, style
}

// singleElement parses text as a fragment and returns its root when the
// fragment is exactly one element.
func singleElement(text string) *html.Node {
	if !strings.HasPrefix(strings.TrimSpace(text), "<") {
		return nil
	}
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(text), body)
	if err != nil {
		return nil
	}

	var root *html.Node
	for _, n := range nodes {
		switch {
		case n.Type == html.TextNode && strings.TrimSpace(n.Data) == "":
			continue
		case n.Type == html.ElementNode && root == nil:
			root = n
		default:
			return nil
		}
	}
	return root
}

func firstText(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := firstText(c); t != "" {
			return t
		}
	}
	return ""
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func findChild(n *html.Node, a atom.Atom) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}
	}
	return nil
}
