package snapshot

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func el(tag string, attrs []Attr, children ...*Node) *Node {
	return &Node{Kind: ElementNode, Tag: tag, Attrs: attrs, Children: children}
}

func text(s string) *Node { return &Node{Kind: TextNode, Text: s} }

func page(body ...*Node) *Document {
	return &Document{
		Doctype: "<!DOCTYPE html>",
		Root: el("html", nil,
			el("head", nil, el("title", nil, text("t"))),
			el("body", nil, body...),
		),
	}
}

func TestSerialize_FormAndScrollState(t *testing.T) {
	box := el("input", []Attr{{"type", "checkbox"}})
	box.State.Checked = ptr(true)
	field := el("input", []Attr{{"type", "text"}, {"value", "old"}})
	field.State.Value = ptr(`a "quoted" <value>`)
	scroller := el("div", []Attr{{"class", "list"}}, text("items"))
	scroller.State.ScrollTop = 120

	out := Serialize(page(box, field, scroller)).HTML

	assert.Contains(t, out, `<input type="checkbox" __sr_checked_="true">`)
	assert.Contains(t, out, `__sr_value_="a &quot;quoted&quot; &lt;value&gt;"`)
	assert.Contains(t, out, `<div class="list" __sr_scroll_top_="120">items</div>`)
	assert.NotContains(t, out, "__sr_scroll_left_")
}

func TestSerialize_VoidElements(t *testing.T) {
	out := Serialize(page(
		el("img", []Attr{{"src", "a.png"}}),
		el("div", nil),
		el("br", nil),
	)).HTML

	assert.Contains(t, out, `<img src="a.png"><div></div><br></body>`)
	assert.NotContains(t, out, "</img>")
	assert.NotContains(t, out, "</br>")
}

func TestSerialize_Exclusions(t *testing.T) {
	doc := page(
		el("script", nil, text("alert(1)")),
		el("noscript", nil, text("enable js")),
		el("p", []Attr{{"__sr_value_", "forged"}, {"id", "x"}}, text("kept")),
	)
	head := doc.Root.Children[0]
	head.Children = append(head.Children,
		el("meta", []Attr{{"http-equiv", "Content-Security-Policy"}, {"content", "default-src 'none'"}}),
		el("meta", []Attr{{"charset", "utf-8"}}),
	)

	out := Serialize(doc).HTML
	assert.NotContains(t, out, "script")
	assert.NotContains(t, out, "enable js")
	assert.NotContains(t, out, "Content-Security-Policy")
	assert.Contains(t, out, `<p __sr_page___sr_value_="forged" id="x">kept</p>`)
	assert.NotContains(t, out, ` __sr_value_="forged"`)
	assert.Contains(t, out, `<meta charset="utf-8">`)
}

func TestRestore_PageAttrWithPrivatePrefix(t *testing.T) {
	in := el("input", []Attr{{"__sr_value_", "forged"}, {"name", "q"}})
	out := Serialize(page(in)).HTML

	doc, err := Restore(out)
	require.NoError(t, err)
	got := Find(doc.Root, func(n *Node) bool { return n.Tag == "input" })
	require.NotNil(t, got)
	assert.Nil(t, got.State.Value)
	assert.Equal(t, []Attr{{"__sr_value_", "forged"}, {"name", "q"}}, got.Attrs)

	// Serializing again escapes it the same way.
	assert.Equal(t, out, Serialize(doc).HTML)
}

func TestSerialize_StyleIsRawText(t *testing.T) {
	style := el("style", nil, text(`a > b { content: "&"; }`))
	cssom := el("style", nil, text("ignored"))
	cssom.State.StyleText = ptr(`p { color: red } </style><script>x()</script>`)

	doc := page()
	head := doc.Root.Children[0]
	head.Children = append(head.Children, style, cssom)

	out := Serialize(doc).HTML
	assert.Contains(t, out, `<style>a > b { content: "&"; }</style>`)
	assert.Contains(t, out, `<style>p { color: red } <\/style><script>x()</script></style>`)
	assert.NotContains(t, out, "ignored")
}

func TestSerialize_ShadowAndCustomElements(t *testing.T) {
	host := el("x-card", []Attr{{"id", "c"}}, el("span", nil, text("light")))
	host.State.Custom = true
	host.Shadow = &ShadowRoot{
		Children:      []*Node{el("p", nil, text("inside"))},
		AdoptedSheets: []string{"p { color: red }"},
	}
	other := el("a-widget", nil)
	other.State.Custom = true

	out := Serialize(page(host, other)).HTML
	assert.Contains(t, out, `<body __sr_custom_elements_="a-widget,x-card">`)
	assert.Contains(t, out, `<x-card id="c"><template shadowrootmode="open">`+
		`<template __sr_adopted_sheet_>p { color: red }</template>`+
		`<p>inside</p></template><span>light</span></x-card>`)
}

func TestSerialize_DeepTree(t *testing.T) {
	const depth = 20000
	root := el("div", nil)
	cur := root
	for i := 0; i < depth; i++ {
		next := el("div", nil)
		cur.Children = []*Node{next}
		cur = next
	}
	out := Serialize(page(root)).HTML
	assert.Equal(t, depth+1, strings.Count(out, "</div>"))
}

func TestRestore_RoundTrip(t *testing.T) {
	scroller := el("div", []Attr{{"class", "list"}}, text("a & b"))
	scroller.State.ScrollTop = 120
	scroller.State.ScrollLeft = 4.5
	box := el("input", []Attr{{"type", "checkbox"}})
	box.State.Checked = ptr(false)
	field := el("textarea", nil, text("orig"))
	field.State.Value = ptr("typed")
	dlg := el("dialog", nil, text("hi"))
	dlg.State.Dialog = DialogModal
	canvas := el("canvas", nil)
	canvas.State.Rect = &Rect{X: 1, Y: 2, Width: 300, Height: 150}
	host := el("x-card", nil, el("span", nil, text("light")))
	host.State.Custom = true
	host.Shadow = &ShadowRoot{
		Children:      []*Node{el("p", nil, text("inside"))},
		AdoptedSheets: []string{"p { color: red }"},
	}

	first := Serialize(page(scroller, box, field, dlg, canvas, host))
	doc, err := Restore(string(first.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, "<!DOCTYPE html>", doc.Doctype)

	second := Serialize(doc)
	assert.Equal(t, first.HTML, second.HTML)

	got := Find(doc.Root, func(n *Node) bool { return n.Tag == "div" })
	require.NotNil(t, got)
	assert.Equal(t, 120.0, got.State.ScrollTop)
	assert.Equal(t, 4.5, got.State.ScrollLeft)

	input := Find(doc.Root, func(n *Node) bool { return n.Tag == "input" })
	require.NotNil(t, input)
	require.NotNil(t, input.State.Checked)
	assert.False(t, *input.State.Checked)

	cv := Find(doc.Root, func(n *Node) bool { return n.Tag == "canvas" })
	require.NotNil(t, cv)
	assert.Equal(t, &Rect{X: 1, Y: 2, Width: 300, Height: 150}, cv.State.Rect)

	card := Find(doc.Root, func(n *Node) bool { return n.Tag == "x-card" })
	require.NotNil(t, card)
	require.NotNil(t, card.Shadow)
	assert.True(t, card.State.Custom)
	assert.Equal(t, []string{"p { color: red }"}, card.Shadow.AdoptedSheets)
	require.Len(t, card.Shadow.Children, 1)
	assert.Equal(t, "p", card.Shadow.Children[0].Tag)
}

func TestRestore_NoDocumentElement(t *testing.T) {
	// html.Parse always synthesizes <html>, so any input restores.
	doc, err := Restore("just text")
	require.NoError(t, err)
	assert.Equal(t, "html", doc.Root.Tag)
}

func TestRender(t *testing.T) {
	box := el("input", []Attr{{"type", "checkbox"}, {"checked", ""}})
	box.State.Checked = ptr(false)
	field := el("input", []Attr{{"value", "old"}})
	field.State.Value = ptr("new")
	dlg := el("dialog", []Attr{{"open", ""}})
	dlg.State.Dialog = DialogNonModal
	host := el("div", nil)
	host.Shadow = &ShadowRoot{AdoptedSheets: []string{"b { x: y }"}}

	out := Render(page(box, field, dlg, host), RenderOptions{})

	assert.True(t, strings.HasPrefix(out, "<!DOCTYPE html><html>"))
	assert.Contains(t, out, `<input type="checkbox" __sr_checked_="false">`)
	assert.Contains(t, out, `<input value="new" __sr_value_="new">`)
	assert.Contains(t, out, `<dialog open __sr_dialog_open_="non-modal">`)
	assert.Contains(t, out, `<template shadowrootmode="open"><style>b { x: y }</style></template>`)
	assert.Contains(t, out, "<script>")
	assert.True(t, strings.HasSuffix(out, "</script></body></html>"))

	bare := Render(page(box), RenderOptions{NoScript: true})
	assert.NotContains(t, bare, "<script>")
}

func TestRender_ShadowScroll(t *testing.T) {
	list := el("div", []Attr{{"class", "list"}})
	list.State.ScrollTop = 120
	host := el("x-feed", nil)
	host.Shadow = &ShadowRoot{Children: []*Node{list}}

	out, err := RenderHTML(string(Serialize(page(host)).Bytes()), RenderOptions{})
	require.NoError(t, err)

	// The scroll marker sits inside the declarative shadow root, which
	// document-level selectors cannot reach.
	assert.Contains(t, out, `<x-feed><template shadowrootmode="open"><div class="list" __sr_scroll_top_="120"></div></template></x-feed>`)
	assert.Contains(t, out, "el.shadowRoot")
	assert.Contains(t, out, "root.querySelectorAll('[' + attr + ']')")
}

func TestDecode(t *testing.T) {
	raw := `{
		"doctype": "<!DOCTYPE html>",
		"url": "https://x.test/",
		"viewport": {"width": 800, "height": 600},
		"timestamp": 1700000000000,
		"nodes": [
			{"p": -1, "k": 1, "t": "html"},
			{"p": 0, "k": 1, "t": "body"},
			{"p": 1, "k": 1, "t": "my-el", "ce": true, "hs": true, "as": ["a{}"]},
			{"p": 2, "k": 1, "t": "b", "sh": true},
			{"p": 3, "k": 3, "x": "shadow text"},
			{"p": 2, "k": 3, "x": "light"},
			{"p": 1, "k": 1, "t": "input", "a": [["type", "text"]], "v": "hi"}
		]
	}`
	var c Capture
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	doc, err := Decode(&c)
	require.NoError(t, err)

	assert.Equal(t, 800, doc.Viewport.Width)
	assert.Equal(t, int64(1700000000000), doc.Timestamp.UnixMilli())

	body := doc.Root.Children[0]
	require.Len(t, body.Children, 2)
	custom := body.Children[0]
	require.NotNil(t, custom.Shadow)
	assert.Len(t, custom.Shadow.Children, 1)
	assert.Len(t, custom.Children, 1)

	out := Serialize(doc).HTML
	assert.Equal(t, `<html><body __sr_custom_elements_="my-el"><my-el><template shadowrootmode="open">`+
		`<template __sr_adopted_sheet_>a{}</template><b>shadow text</b></template>light</my-el>`+
		`<input type="text" __sr_value_="hi"></body></html>`, out)
}

func TestDecode_Errors(t *testing.T) {
	cases := map[string][]WireNode{
		"empty":        nil,
		"no root":      {{Parent: 0, Kind: ElementNode, Tag: "html"}},
		"text root":    {{Parent: -1, Kind: TextNode, Text: "x"}},
		"forward ref":  {{Parent: -1, Kind: ElementNode, Tag: "html"}, {Parent: 2, Kind: ElementNode, Tag: "a"}},
		"text parent":  {{Parent: -1, Kind: ElementNode, Tag: "html"}, {Parent: 0, Kind: TextNode}, {Parent: 1, Kind: TextNode}},
		"unknown kind": {{Parent: -1, Kind: ElementNode, Tag: "html"}, {Parent: 0, Kind: 8}},
	}
	for name, nodes := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(&Capture{Nodes: nodes})
			assert.Error(t, err)
		})
	}
}
