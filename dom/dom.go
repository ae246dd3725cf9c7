// Package dom wraps an html node tree with selector addressing and the
// mutation primitives the live update stream needs.
package dom

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/andybalholm/cascadia"
)

// Document owns a parsed html tree and resolves selector addresses against
// it. Resolution is first-match in document order. Compiled selectors are
// cached because update streams repeat the same addresses heavily.
//
// Document does not lock the tree. Callers that mutate concurrently hold
// their own lock around resolve+mutate pairs; the live client serializes
// whole frames for this reason.
type Document struct {
	root *html.Node

	cacheLock sync.Mutex
	matchers  map[string]cascadia.SelectorGroup
}

// NewDocument wraps an already parsed tree. The root is typically a
// DocumentNode from html.Parse but any subtree root works.
func NewDocument(root *html.Node) *Document {
	return &Document{
		root:     root,
		matchers: map[string]cascadia.SelectorGroup{},
	}
}

// Parse reads a complete html document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	return NewDocument(root), nil
}

func ParseString(markup string) (*Document, error) {
	return Parse(strings.NewReader(markup))
}

func (self *Document) Root() *html.Node {
	return self.root
}

// First returns the first node matching the address in document order, or
// nil when nothing matches. The error is non-nil only when the address does
// not parse as a selector.
func (self *Document) First(address string) (*html.Node, error) {
	matcher, err := self.matcher(address)
	if err != nil {
		return nil, err
	}
	return cascadia.Query(self.root, matcher), nil
}

// All returns every node matching the address in document order.
func (self *Document) All(address string) ([]*html.Node, error) {
	matcher, err := self.matcher(address)
	if err != nil {
		return nil, err
	}
	return cascadia.QueryAll(self.root, matcher), nil
}

// Render serializes the whole document.
func (self *Document) Render() (string, error) {
	return Render(self.root)
}

func (self *Document) matcher(address string) (cascadia.SelectorGroup, error) {
	self.cacheLock.Lock()
	defer self.cacheLock.Unlock()
	if matcher, ok := self.matchers[address]; ok {
		return matcher, nil
	}
	matcher, err := cascadia.ParseGroup(address)
	if err != nil {
		return nil, fmt.Errorf("parse address %q: %w", address, err)
	}
	self.matchers[address] = matcher
	return matcher, nil
}

// ParseFragment parses markup as a fragment in body context and returns the
// top level nodes, detached. This follows innerHTML parsing rules, so
// context-dependent tags like td outside a table are dropped the way a
// browser would drop them.
func ParseFragment(markup string) ([]*html.Node, error) {
	context := &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	}
	return html.ParseFragment(strings.NewReader(markup), context)
}

// Render serializes the subtree rooted at n.
func Render(n *html.Node) (string, error) {
	b := &strings.Builder{}
	if err := html.Render(b, n); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Attr returns the value of the named attribute on an element node.
func Attr(n *html.Node, name string) (string, bool) {
	if n.Type != html.ElementNode {
		return "", false
	}
	for _, attr := range n.Attr {
		if attr.Key == name {
			return attr.Val, true
		}
	}
	return "", false
}

// Detach removes n from its parent, clearing the sibling links so n can be
// inserted elsewhere. Detaching a parentless node is a no-op.
func Detach(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// Replace swaps replacement into the tree position of old. The replacement
// is detached from any previous position first.
func Replace(old *html.Node, replacement *html.Node) error {
	parent := old.Parent
	if parent == nil {
		return fmt.Errorf("cannot replace a node with no parent")
	}
	Detach(replacement)
	parent.InsertBefore(replacement, old)
	parent.RemoveChild(old)
	return nil
}

// AppendChildren appends the nodes, in order, as the last children of
// parent. Each node is detached from any previous position first.
func AppendChildren(parent *html.Node, nodes []*html.Node) {
	for _, n := range nodes {
		Detach(n)
		parent.AppendChild(n)
	}
}

// ContentNodes filters a parsed fragment down to its meaningful nodes:
// elements and non-whitespace text, in order. Whitespace runs between
// elements, comments, and doctypes are dropped.
func ContentNodes(nodes []*html.Node) []*html.Node {
	content := []*html.Node{}
	for _, n := range nodes {
		switch n.Type {
		case html.ElementNode:
			content = append(content, n)
		case html.TextNode:
			if strings.TrimSpace(n.Data) != "" {
				content = append(content, n)
			}
		}
	}
	return content
}

// SoleElement returns the single element in a parsed fragment. It reports
// false when the fragment holds no element, more than one, or any
// non-whitespace text alongside one.
func SoleElement(nodes []*html.Node) (*html.Node, bool) {
	var element *html.Node
	for _, n := range nodes {
		switch n.Type {
		case html.ElementNode:
			if element != nil {
				return nil, false
			}
			element = n
		case html.TextNode:
			if strings.TrimSpace(n.Data) != "" {
				return nil, false
			}
		}
	}
	if element == nil {
		return nil, false
	}
	return element, true
}
