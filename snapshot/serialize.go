package snapshot

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/llnl/session-recorder/session"
)

// Synthetic attribute names. A page attribute that already starts with
// AttrPrefix is written as AttrEscaped+name and restored under its own
// name, so it is never read back as state.
const (
	AttrPrefix         = "__sr_"
	AttrEscaped        = "__sr_page_"
	AttrValue          = "__sr_value_"
	AttrChecked        = "__sr_checked_"
	AttrSelected       = "__sr_selected_"
	AttrScrollTop      = "__sr_scroll_top_"
	AttrScrollLeft     = "__sr_scroll_left_"
	AttrCurrentSrc     = "__sr_current_src_"
	AttrBoundingRect   = "__sr_bounding_rect_"
	AttrPopoverOpen    = "__sr_popover_open_"
	AttrDialogOpen     = "__sr_dialog_open_"
	AttrCustomElements = "__sr_custom_elements_"
	AttrAdoptedSheet   = "__sr_adopted_sheet_"
)

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// IsVoid reports whether tag never takes a closing tag.
func IsVoid(tag string) bool { return voidElements[strings.ToLower(tag)] }

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", `"`, "&quot;", "<", "&lt;", ">", "&gt;")
)

// Bundle is the serialized form of a Document.
type Bundle struct {
	Doctype   string
	HTML      string
	Viewport  session.Viewport
	URL       string
	Timestamp time.Time
}

// Bytes returns the file content: doctype followed by the HTML.
func (b Bundle) Bytes() []byte {
	return []byte(b.Doctype + b.HTML)
}

// Serialize writes doc as HTML with its live state encoded in synthetic
// attributes.
func Serialize(doc *Document) Bundle {
	w := &writer{custom: customElements(doc.Root)}
	w.write(doc.Root)
	return Bundle{
		Doctype:   doc.Doctype,
		HTML:      w.b.String(),
		Viewport:  doc.Viewport,
		URL:       doc.URL,
		Timestamp: doc.Timestamp,
	}
}

// excluded reports whether an element is dropped together with its subtree:
// scripts would re-execute in the viewer and CSP meta tags would block the
// rewritten resource URLs.
func excluded(n *Node) bool {
	switch strings.ToLower(n.Tag) {
	case "script", "noscript":
		return true
	case "meta":
		for _, a := range n.Attrs {
			if strings.EqualFold(a.Name, "http-equiv") &&
				strings.EqualFold(strings.TrimSpace(a.Value), "content-security-policy") {
				return true
			}
		}
	}
	return false
}

func customElements(root *Node) []string {
	seen := make(map[string]bool)
	Walk(root, func(n *Node) {
		if n.Kind == ElementNode && n.State.Custom && strings.Contains(n.Tag, "-") {
			seen[strings.ToLower(n.Tag)] = true
		}
	})
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// item is one unit of pending output on the writer's stack: either a node
// to open or a literal closing tag.
type item struct {
	node  *Node
	close string
}

type writer struct {
	b      strings.Builder
	custom []string
	// render switches to viewer output: native state attributes and
	// adopted sheets as <style>.
	render bool
}

func (w *writer) write(root *Node) {
	stack := []item{{node: root}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if it.node == nil {
			w.b.WriteString(it.close)
			continue
		}
		n := it.node
		if n.Kind == TextNode {
			textEscaper.WriteString(&w.b, n.Text)
			continue
		}
		if n.Kind != ElementNode || excluded(n) {
			continue
		}

		tag := strings.ToLower(n.Tag)
		w.openTag(tag, n)
		if voidElements[tag] {
			continue
		}

		if tag == "style" {
			w.b.WriteString(styleContent(n))
			w.b.WriteString("</style>")
			continue
		}
		if w.render && tag == "textarea" && n.State.Value != nil {
			textEscaper.WriteString(&w.b, *n.State.Value)
			w.b.WriteString("</textarea>")
			continue
		}

		stack = append(stack, item{close: "</" + tag + ">"})
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, item{node: n.Children[i]})
		}
		if n.Shadow != nil {
			w.b.WriteString(`<template shadowrootmode="open">`)
			for _, css := range n.Shadow.AdoptedSheets {
				if w.render {
					w.b.WriteString("<style>")
					w.b.WriteString(neutralizeStyleEnd(css))
					w.b.WriteString("</style>")
					continue
				}
				w.b.WriteString("<template " + AttrAdoptedSheet + ">")
				textEscaper.WriteString(&w.b, css)
				w.b.WriteString("</template>")
			}
			stack = append(stack, item{close: "</template>"})
			for i := len(n.Shadow.Children) - 1; i >= 0; i-- {
				stack = append(stack, item{node: n.Shadow.Children[i]})
			}
		}
	}
}

func (w *writer) openTag(tag string, n *Node) {
	w.b.WriteByte('<')
	w.b.WriteString(tag)

	s := n.State
	skip := func(name string) bool {
		if !w.render {
			return false
		}
		switch strings.ToLower(name) {
		case "value":
			return tag == "input" && s.Value != nil
		case "checked":
			return tag == "input" && s.Checked != nil
		case "selected":
			return tag == "option" && s.Selected != nil
		case "open":
			return tag == "dialog" && s.Dialog != ""
		}
		return false
	}
	for _, a := range n.Attrs {
		if skip(a.Name) {
			continue
		}
		if strings.HasPrefix(strings.ToLower(a.Name), AttrPrefix) {
			w.attr(AttrEscaped+a.Name, a.Value)
			continue
		}
		w.attr(a.Name, a.Value)
	}

	if w.render {
		w.nativeState(tag, s)
	}
	if s.Value != nil && (tag == "input" || tag == "textarea") {
		w.attr(AttrValue, *s.Value)
	}
	if s.Checked != nil && tag == "input" {
		w.attr(AttrChecked, strconv.FormatBool(*s.Checked))
	}
	if s.Selected != nil && tag == "option" {
		w.attr(AttrSelected, strconv.FormatBool(*s.Selected))
	}
	if s.ScrollTop != 0 {
		w.attr(AttrScrollTop, formatFloat(s.ScrollTop))
	}
	if s.ScrollLeft != 0 {
		w.attr(AttrScrollLeft, formatFloat(s.ScrollLeft))
	}
	if s.CurrentSrc != "" && tag == "img" {
		w.attr(AttrCurrentSrc, s.CurrentSrc)
	}
	if s.Rect != nil && (tag == "canvas" || tag == "iframe" || tag == "frame") {
		if data, err := json.Marshal(s.Rect); err == nil {
			w.attr(AttrBoundingRect, string(data))
		}
	}
	if s.PopoverOpen != nil {
		w.attr(AttrPopoverOpen, strconv.FormatBool(*s.PopoverOpen))
	}
	if s.Dialog != "" && tag == "dialog" {
		w.attr(AttrDialogOpen, s.Dialog)
	}
	if tag == "body" && len(w.custom) > 0 {
		w.attr(AttrCustomElements, strings.Join(w.custom, ","))
	}
	w.b.WriteByte('>')
}

// nativeState writes the standard attributes that make a parsed document
// show the recorded state without any script.
func (w *writer) nativeState(tag string, s State) {
	switch tag {
	case "input":
		if s.Value != nil {
			w.attr("value", *s.Value)
		}
		if s.Checked != nil && *s.Checked {
			w.b.WriteString(" checked")
		}
	case "option":
		if s.Selected != nil && *s.Selected {
			w.b.WriteString(" selected")
		}
	case "dialog":
		if s.Dialog == DialogNonModal {
			w.b.WriteString(" open")
		}
	}
}

func (w *writer) attr(name, value string) {
	w.b.WriteByte(' ')
	w.b.WriteString(name)
	w.b.WriteString(`="`)
	attrEscaper.WriteString(&w.b, value)
	w.b.WriteByte('"')
}

// styleContent returns the CSS of a <style> element: the CSSOM text when
// the page could read it, the original text otherwise. CSS is raw text in
// HTML, so it is not entity-escaped.
func styleContent(n *Node) string {
	if n.State.StyleText != nil {
		return neutralizeStyleEnd(*n.State.StyleText)
	}
	var b strings.Builder
	for _, c := range n.Children {
		if c.Kind == TextNode {
			b.WriteString(c.Text)
		}
	}
	return neutralizeStyleEnd(b.String())
}

// neutralizeStyleEnd keeps CSS text from terminating its <style> element
// early. "<\/style" is read by CSS the same way inside strings and is
// invalid (and ignored) elsewhere.
func neutralizeStyleEnd(css string) string {
	if !strings.Contains(strings.ToLower(css), "</style") {
		return css
	}
	var b strings.Builder
	lower := strings.ToLower(css)
	for {
		i := strings.Index(lower, "</style")
		if i < 0 {
			b.WriteString(css)
			return b.String()
		}
		b.WriteString(css[:i])
		b.WriteString(`<\/`)
		css, lower = css[i+2:], lower[i+2:]
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
