package snapshot

import (
	_ "embed"
	"strings"
)

//go:embed restore.js
var restoreJS string

// RenderOptions controls viewer output.
type RenderOptions struct {
	// NoScript leaves out the state restoration script. Native state
	// (values, checked boxes, open non-modal dialogs) is still applied.
	NoScript bool
}

// Render produces the HTML the viewer shows for doc: form state as native
// attributes, adopted sheets as <style>, and a small script that re-applies
// scroll positions, modal dialogs, popovers and shadow roots on load.
func Render(doc *Document, opts RenderOptions) string {
	w := &writer{custom: customElements(doc.Root), render: true}
	w.write(doc.Root)
	out := w.b.String()

	if !opts.NoScript {
		script := "<script>" + neutralizeScriptEnd(restoreJS) + "</script>"
		if i := strings.LastIndex(out, "</body>"); i >= 0 {
			out = out[:i] + script + out[i:]
		} else {
			out += script
		}
	}
	return doc.Doctype + out
}

// RenderHTML restores a stored snapshot and renders it for the viewer.
func RenderHTML(src string, opts RenderOptions) (string, error) {
	doc, err := Restore(src)
	if err != nil {
		return "", err
	}
	return Render(doc, opts), nil
}

func neutralizeScriptEnd(js string) string {
	return strings.ReplaceAll(js, "</script", `<\/script`)
}
