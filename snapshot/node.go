// Package snapshot turns a live page state into a self-contained HTML
// snapshot and back.
//
// The in-page script (recorder/internal/browser/inject.js) walks the DOM and
// ships a flat Capture over the binding channel. Decode rebuilds the tree,
// Serialize writes it as HTML with the interactive state encoded in
// private "__sr_" attributes, Restore parses such HTML back into a tree,
// and Render produces the viewer document with the state re-applied.
package snapshot

import (
	"time"

	"github.com/llnl/session-recorder/session"
)

// Kind is the DOM node type. Values match Node.nodeType.
type Kind uint8

const (
	ElementNode Kind = 1
	TextNode    Kind = 3
)

// Dialog open modes.
const (
	DialogModal    = "modal"
	DialogNonModal = "non-modal"
)

// Attr is one attribute as found on the element.
type Attr struct {
	Name  string
	Value string
}

// Rect is an element's bounding client rect in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// State is the live state of an element that outerHTML does not carry.
// Nil pointers mean "not applicable", not "false".
type State struct {
	Value       *string
	Checked     *bool
	Selected    *bool
	ScrollTop   float64
	ScrollLeft  float64
	CurrentSrc  string
	Rect        *Rect
	PopoverOpen *bool
	Dialog      string
	// StyleText is the CSSOM rule text of a <style> element. When nil the
	// element's text children are used.
	StyleText *string
	// Custom marks an element whose tag is a registered custom element.
	Custom bool
}

// ShadowRoot is an open shadow root attached to an element.
type ShadowRoot struct {
	Children      []*Node
	AdoptedSheets []string
}

// Node is an element or text node of a captured document.
type Node struct {
	Kind     Kind
	Tag      string
	Attrs    []Attr
	Text     string
	Children []*Node
	Shadow   *ShadowRoot
	State    State
}

// Attr returns the value of the named attribute.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Document is a captured page.
type Document struct {
	Doctype   string
	Root      *Node
	Viewport  session.Viewport
	URL       string
	Timestamp time.Time
	// Warnings collects per-node extraction failures reported by the page.
	Warnings []string
}

// Walk visits every node of the tree, shadow roots included, in document
// order. It uses an explicit stack so arbitrarily deep trees are fine.
func Walk(root *Node, fn func(*Node)) {
	if root == nil {
		return
	}
	stack := []*Node{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		fn(n)
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
		if n.Shadow != nil {
			for i := len(n.Shadow.Children) - 1; i >= 0; i-- {
				stack = append(stack, n.Shadow.Children[i])
			}
		}
	}
}

// Find returns the first element matching pred in document order.
func Find(root *Node, pred func(*Node) bool) *Node {
	var found *Node
	Walk(root, func(n *Node) {
		if found == nil && n.Kind == ElementNode && pred(n) {
			found = n
		}
	})
	return found
}
