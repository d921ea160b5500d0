package snapshot

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Restore parses serialized snapshot HTML back into a Document, moving the
// synthetic attributes into State and declarative shadow templates into
// ShadowRoot.
func Restore(src string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("snapshot: restore: %w", err)
	}

	doc := &Document{}
	var htmlEl *html.Node
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		switch {
		case c.Type == html.DoctypeNode:
			doc.Doctype = doctypeString(c)
		case c.Type == html.ElementNode && c.DataAtom == atom.Html:
			htmlEl = c
		}
	}
	if htmlEl == nil {
		return nil, fmt.Errorf("snapshot: restore: no document element")
	}

	// host is nil while converting shadow root content: a shadow root is
	// not an element and cannot carry another shadow template.
	type frame struct {
		src  *html.Node
		host *Node
		out  *[]*Node
	}
	custom := make(map[string]bool)
	doc.Root = convertElement(htmlEl)
	stack := []frame{{htmlEl, doc.Root, &doc.Root.Children}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for c := f.src.FirstChild; c != nil; c = c.NextSibling {
			switch c.Type {
			case html.TextNode:
				*f.out = append(*f.out, &Node{Kind: TextNode, Text: c.Data})
			case html.ElementNode:
				if f.host != nil && f.host.Shadow == nil && isShadowTemplate(c) {
					sr := &ShadowRoot{}
					for t := c.FirstChild; t != nil; t = t.NextSibling {
						if isAdoptedSheet(t) {
							sr.AdoptedSheets = append(sr.AdoptedSheets, textContent(t))
						}
					}
					f.host.Shadow = sr
					stack = append(stack, frame{c, nil, &sr.Children})
					continue
				}
				if f.host == nil && isAdoptedSheet(c) {
					continue
				}
				n := convertElement(c)
				if c.DataAtom == atom.Body {
					if v, ok := attrValue(c, AttrCustomElements); ok {
						for _, name := range strings.Split(v, ",") {
							if name = strings.TrimSpace(name); name != "" {
								custom[strings.ToLower(name)] = true
							}
						}
					}
				}
				*f.out = append(*f.out, n)
				stack = append(stack, frame{c, n, &n.Children})
			}
		}
	}

	if len(custom) > 0 {
		Walk(doc.Root, func(n *Node) {
			if n.Kind == ElementNode && custom[strings.ToLower(n.Tag)] {
				n.State.Custom = true
			}
		})
	}
	return doc, nil
}

func isShadowTemplate(n *html.Node) bool {
	if n.Type != html.ElementNode || n.DataAtom != atom.Template {
		return false
	}
	v, ok := attrValue(n, "shadowrootmode")
	return ok && strings.EqualFold(v, "open")
}

func isAdoptedSheet(n *html.Node) bool {
	if n.Type != html.ElementNode || n.DataAtom != atom.Template {
		return false
	}
	_, ok := attrValue(n, AttrAdoptedSheet)
	return ok
}

func attrValue(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func textContent(n *html.Node) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
	}
	return b.String()
}

func doctypeString(n *html.Node) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE ")
	b.WriteString(n.Data)
	var public, system string
	for _, a := range n.Attr {
		switch a.Key {
		case "public":
			public = a.Val
		case "system":
			system = a.Val
		}
	}
	if public != "" {
		b.WriteString(` PUBLIC "` + public + `"`)
		if system != "" {
			b.WriteString(` "` + system + `"`)
		}
	} else if system != "" {
		b.WriteString(` SYSTEM "` + system + `"`)
	}
	b.WriteByte('>')
	return b.String()
}

// convertElement copies tag and attributes, decoding synthetic attributes
// into State. Malformed synthetic values are ignored.
func convertElement(src *html.Node) *Node {
	n := &Node{Kind: ElementNode, Tag: src.Data}
	s := &n.State
	for _, a := range src.Attr {
		name := a.Key
		if a.Namespace != "" {
			name = a.Namespace + ":" + a.Key
		}
		if !strings.HasPrefix(name, AttrPrefix) {
			n.Attrs = append(n.Attrs, Attr{Name: name, Value: a.Val})
			continue
		}
		if orig, ok := strings.CutPrefix(name, AttrEscaped); ok {
			n.Attrs = append(n.Attrs, Attr{Name: orig, Value: a.Val})
			continue
		}
		switch name {
		case AttrValue:
			v := a.Val
			s.Value = &v
		case AttrChecked:
			s.Checked = parseBool(a.Val)
		case AttrSelected:
			s.Selected = parseBool(a.Val)
		case AttrScrollTop:
			s.ScrollTop, _ = strconv.ParseFloat(a.Val, 64)
		case AttrScrollLeft:
			s.ScrollLeft, _ = strconv.ParseFloat(a.Val, 64)
		case AttrCurrentSrc:
			s.CurrentSrc = a.Val
		case AttrBoundingRect:
			var r Rect
			if json.Unmarshal([]byte(a.Val), &r) == nil {
				s.Rect = &r
			}
		case AttrPopoverOpen:
			s.PopoverOpen = parseBool(a.Val)
		case AttrDialogOpen:
			if a.Val == DialogModal || a.Val == DialogNonModal {
				s.Dialog = a.Val
			}
		}
	}
	return n
}

func parseBool(v string) *bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil
	}
	return &b
}
