package snapshot

import (
	"fmt"
	"time"

	"github.com/llnl/session-recorder/session"
)

// Capture is the page-side payload: a pre-order list of nodes where every
// node points at its parent by index. A flat list keeps the JSON shallow no
// matter how deep the DOM is.
type Capture struct {
	Doctype   string           `json:"doctype"`
	URL       string           `json:"url"`
	Viewport  session.Viewport `json:"viewport"`
	Timestamp int64            `json:"timestamp"`
	Nodes     []WireNode       `json:"nodes"`
	Resources []Inline         `json:"resources,omitempty"`
	Warnings  []string         `json:"warnings,omitempty"`
}

// WireNode is one node of a Capture. Keys are short because a capture is
// sent twice per action. InShadow places the node in the parent's shadow
// root instead of its light children; HasShadow marks a host whose open
// shadow root may be empty.
type WireNode struct {
	Parent        int         `json:"p"`
	InShadow      bool        `json:"sh,omitempty"`
	Kind          Kind        `json:"k"`
	Tag           string      `json:"t,omitempty"`
	Attrs         [][2]string `json:"a,omitempty"`
	Text          string      `json:"x,omitempty"`
	Value         *string     `json:"v,omitempty"`
	Checked       *bool       `json:"c,omitempty"`
	Selected      *bool       `json:"s,omitempty"`
	ScrollTop     float64     `json:"st,omitempty"`
	ScrollLeft    float64     `json:"sl,omitempty"`
	CurrentSrc    string      `json:"cs,omitempty"`
	Rect          *Rect       `json:"r,omitempty"`
	Popover       *bool       `json:"po,omitempty"`
	Dialog        string      `json:"dl,omitempty"`
	StyleText     *string     `json:"css,omitempty"`
	Custom        bool        `json:"ce,omitempty"`
	HasShadow     bool        `json:"hs,omitempty"`
	AdoptedSheets []string    `json:"as,omitempty"`
}

// Inline is a resource the page could read directly, such as the CSSOM
// text of a same-origin stylesheet.
type Inline struct {
	URL         string `json:"url"`
	Content     string `json:"content"`
	ContentType string `json:"contentType"`
}

// Decode rebuilds the node tree of a Capture. The first node is the
// document element; every other node must reference an earlier node.
func Decode(c *Capture) (*Document, error) {
	if len(c.Nodes) == 0 {
		return nil, fmt.Errorf("snapshot: decode: empty capture")
	}
	nodes := make([]*Node, len(c.Nodes))
	for i, w := range c.Nodes {
		n := &Node{
			Kind: w.Kind,
			Tag:  w.Tag,
			Text: w.Text,
			State: State{
				Value:       w.Value,
				Checked:     w.Checked,
				Selected:    w.Selected,
				ScrollTop:   w.ScrollTop,
				ScrollLeft:  w.ScrollLeft,
				CurrentSrc:  w.CurrentSrc,
				Rect:        w.Rect,
				PopoverOpen: w.Popover,
				Dialog:      w.Dialog,
				StyleText:   w.StyleText,
				Custom:      w.Custom,
			},
		}
		if w.Kind != ElementNode && w.Kind != TextNode {
			return nil, fmt.Errorf("snapshot: decode: node %d: unsupported kind %d", i, w.Kind)
		}
		if len(w.Attrs) > 0 {
			n.Attrs = make([]Attr, len(w.Attrs))
			for j, a := range w.Attrs {
				n.Attrs[j] = Attr{Name: a[0], Value: a[1]}
			}
		}
		if w.HasShadow || len(w.AdoptedSheets) > 0 {
			n.Shadow = &ShadowRoot{AdoptedSheets: w.AdoptedSheets}
		}
		nodes[i] = n

		if i == 0 {
			if w.Parent != -1 || w.Kind != ElementNode {
				return nil, fmt.Errorf("snapshot: decode: first node must be the root element")
			}
			continue
		}
		if w.Parent < 0 || w.Parent >= i {
			return nil, fmt.Errorf("snapshot: decode: node %d: parent %d out of order", i, w.Parent)
		}
		parent := nodes[w.Parent]
		if parent.Kind != ElementNode {
			return nil, fmt.Errorf("snapshot: decode: node %d: parent %d is not an element", i, w.Parent)
		}
		if w.InShadow {
			if parent.Shadow == nil {
				parent.Shadow = &ShadowRoot{}
			}
			parent.Shadow.Children = append(parent.Shadow.Children, n)
		} else {
			parent.Children = append(parent.Children, n)
		}
	}

	return &Document{
		Doctype:   c.Doctype,
		Root:      nodes[0],
		Viewport:  c.Viewport,
		URL:       c.URL,
		Timestamp: time.UnixMilli(c.Timestamp),
		Warnings:  c.Warnings,
	}, nil
}
