package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Selector returns a stable address for an element: the id selector when
// the element carries an id, otherwise the parent's selector extended with
// a positional step, for example "#list > li:nth-of-type(3)". The result
// resolves back to the same node through Document.First as long as the
// tree between the nearest id (or the root) and the node is unchanged.
func Selector(n *html.Node) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	if id, ok := Attr(n, "id"); ok && id != "" {
		return "#" + escapeIdent(id)
	}
	position := 1
	for sibling := n.PrevSibling; sibling != nil; sibling = sibling.PrevSibling {
		if sibling.Type == html.ElementNode && sibling.Data == n.Data {
			position += 1
		}
	}
	step := fmt.Sprintf("%s:nth-of-type(%d)", n.Data, position)
	if parentSelector := Selector(n.Parent); parentSelector != "" {
		return parentSelector + " > " + step
	}
	return step
}

// escapeIdent makes s safe for a css identifier position. Letters, digits,
// hyphen, underscore, and non-ascii pass through; a leading digit becomes a
// hex escape; everything else gets a backslash.
func escapeIdent(s string) string {
	b := &strings.Builder{}
	for i, r := range s {
		switch {
		case 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z', r == '-', r == '_', r > 0x7f:
			b.WriteRune(r)
		case '0' <= r && r <= '9':
			if i == 0 {
				fmt.Fprintf(b, "\\%x ", r)
			} else {
				b.WriteRune(r)
			}
		default:
			b.WriteRune('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}
