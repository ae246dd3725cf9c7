package live

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/pagelove/dom-primitives/dom"
)

// wire attributes that mark an element as a mutation section
const (
	attrMethod = "data-method"
	attrTarget = "data-target"
	attrSource = "data-source"
)

// frameItem is one decoded section in payload order: either an update or
// the decode failure for that section.
type frameItem struct {
	update *Update

	// set on decode failure
	section string
	err     error
}

// decodeFrame parses a frame payload and scans it for mutation sections.
// A malformed section becomes an error item and decoding continues, so one
// bad section does not take down the rest of the frame.
func decodeFrame(payload []byte) ([]frameItem, error) {
	nodes, err := dom.ParseFragment(string(payload))
	if err != nil {
		return nil, err
	}
	items := []frameItem{}
	for _, node := range nodes {
		scanSections(node, &items)
	}
	return items, nil
}

// scanSections walks the fragment in document order. An element carrying
// either wire attribute is a section; wrapper elements above sections are
// descended through, while a section's own subtree is content and is not
// scanned further.
func scanSections(node *html.Node, items *[]frameItem) {
	if node.Type == html.ElementNode {
		_, hasMethod := dom.Attr(node, attrMethod)
		_, hasTarget := dom.Attr(node, attrTarget)
		if hasMethod || hasTarget {
			*items = append(*items, decodeSection(node))
			return
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		scanSections(child, items)
	}
}

func decodeSection(section *html.Node) frameItem {
	methodValue, ok := dom.Attr(section, attrMethod)
	if !ok || strings.TrimSpace(methodValue) == "" {
		return errorItem(section, ErrMissingMethod)
	}
	address, ok := dom.Attr(section, attrTarget)
	if !ok || strings.TrimSpace(address) == "" {
		return errorItem(section, ErrMissingTarget)
	}

	var method Method
	switch Method(strings.ToUpper(strings.TrimSpace(methodValue))) {
	case MethodPut:
		method = MethodPut
	case MethodPost:
		method = MethodPost
	case MethodDelete:
		method = MethodDelete
	default:
		return errorItem(section, fmt.Errorf("%w: %q", ErrUnknownMethod, methodValue))
	}

	update := &Update{
		Method:  method,
		Address: address,
	}
	if sourceUrl, ok := dom.Attr(section, attrSource); ok {
		update.SourceUrl = sourceUrl
	}
	if method != MethodDelete {
		update.Content = detachChildren(section)
	}
	return frameItem{update: update}
}

func errorItem(section *html.Node, err error) frameItem {
	markup, renderErr := dom.Render(section)
	if renderErr != nil {
		markup = ""
	}
	return frameItem{section: markup, err: err}
}

func detachChildren(n *html.Node) []*html.Node {
	children := []*html.Node{}
	for child := n.FirstChild; child != nil; child = n.FirstChild {
		n.RemoveChild(child)
		children = append(children, child)
	}
	return children
}
