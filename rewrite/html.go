package rewrite

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// adoptedSheetAttr marks a template holding an adopted stylesheet in
// serialized snapshots.
const adoptedSheetAttr = "__sr_adopted_sheet_"

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// HTML rewrites the references of a serialized snapshot: <link href>,
// <script src>, <img src|srcset>, <source src|srcset>, the recorded
// currentSrc, style attributes, <style> blocks and adopted sheets. Tokens
// that are not modified are copied from the input unchanged.
//
// A <base href> changes the base for everything after it and loses its
// href, since the rewritten references are relative to the snapshot file.
func (rw *Rewriter) HTML(src, base string) (string, Result) {
	var (
		res       Result
		b         strings.Builder
		inStyle   bool
		inAdopted bool
	)
	b.Grow(len(src))
	z := html.NewTokenizer(strings.NewReader(src))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() != io.EOF {
				// The tokenizer only fails on reader errors; keep what
				// we have plus the untouched rest.
				b.Write(z.Raw())
			}
			return b.String(), res
		}
		raw := string(z.Raw())

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tt == html.StartTagToken {
				switch tok.Data {
				case "style":
					inStyle = true
				case "template":
					inAdopted = hasAttr(tok, adoptedSheetAttr)
				}
			}
			if tok.Data == "base" {
				if href, ok := attr(tok, "href"); ok {
					base = Absolute(strings.TrimSpace(href), base)
					tok.Attr = dropAttr(tok.Attr, "href")
					b.WriteString(render(tok, tt))
					continue
				}
			}
			if rw.tag(&tok, base, &res) {
				b.WriteString(render(tok, tt))
				continue
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "style":
				inStyle = false
			case "template":
				inAdopted = false
			}
		case html.TextToken:
			switch {
			case inStyle:
				out, r := rw.CSS(raw, base)
				res.Add(r)
				b.WriteString(out)
				continue
			case inAdopted:
				css := html.UnescapeString(raw)
				out, r := rw.CSS(css, base)
				res.Add(r)
				if out != css {
					textEscaper.WriteString(&b, out)
					continue
				}
			}
		}
		b.WriteString(raw)
	}
}

// tag rewrites the reference attributes of one start tag in place and
// reports whether anything changed.
func (rw *Rewriter) tag(tok *html.Token, base string, res *Result) bool {
	changed := false
	for i := range tok.Attr {
		a := &tok.Attr[i]
		if a.Namespace != "" {
			continue
		}
		var out string
		var ok bool
		switch {
		case a.Key == "style":
			var r Result
			out, r = rw.CSS(a.Val, base)
			res.Add(r)
			ok = out != a.Val
		case a.Key == "__sr_current_src_":
			out, ok = rw.ref(a.Val, base, res)
		case a.Key == "srcset" && (tok.Data == "img" || tok.Data == "source"):
			out, ok = rw.srcset(a.Val, base, res)
		case a.Key == "href" && tok.Data == "link",
			a.Key == "src" && (tok.Data == "script" || tok.Data == "img" || tok.Data == "source"):
			out, ok = rw.ref(a.Val, base, res)
		}
		if ok {
			a.Val = out
			changed = true
		}
	}
	return changed
}

// srcset rewrites each candidate URL of a srcset, keeping descriptors.
func (rw *Rewriter) srcset(v, base string, res *Result) (string, bool) {
	parts := strings.Split(v, ",")
	changed := false
	for i, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		u, desc, _ := strings.Cut(trimmed, " ")
		out, ok := rw.ref(u, base, res)
		if !ok {
			continue
		}
		if desc = strings.TrimSpace(desc); desc != "" {
			out += " " + desc
		}
		if i > 0 {
			out = " " + out
		}
		parts[i] = out
		changed = true
	}
	if !changed {
		return v, false
	}
	return strings.Join(parts, ","), true
}

func render(tok html.Token, tt html.TokenType) string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(tok.Data)
	for _, a := range tok.Attr {
		b.WriteByte(' ')
		if a.Namespace != "" {
			b.WriteString(a.Namespace)
			b.WriteByte(':')
		}
		b.WriteString(a.Key)
		if a.Val == "" {
			continue
		}
		b.WriteString(`="`)
		b.WriteString(html.EscapeString(a.Val))
		b.WriteByte('"')
	}
	if tt == html.SelfClosingTagToken {
		b.WriteString("/>")
	} else {
		b.WriteByte('>')
	}
	return b.String()
}

func attr(tok html.Token, key string) (string, bool) {
	for _, a := range tok.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func hasAttr(tok html.Token, key string) bool {
	_, ok := attr(tok, key)
	return ok
}

func dropAttr(attrs []html.Attribute, key string) []html.Attribute {
	out := attrs[:0]
	for _, a := range attrs {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		out = append(out, a)
	}
	return out
}
