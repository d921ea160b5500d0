package rewrite

import (
	"regexp"
	"strings"

	"github.com/gorilla/css/scanner"
)

// CSS rewrites every url(...) reference and every @import "..." string in
// css. Text outside rewritten references is copied byte for byte.
func (rw *Rewriter) CSS(css, base string) (string, Result) {
	var res Result
	// The scanner folds \r, \f and NUL before tokenizing, which would
	// change bytes we do not own.
	if strings.ContainsAny(css, "\r\f\x00") {
		return rw.cssFallback(css, base, &res), res
	}
	out, ok := rw.cssScan(css, base, &res)
	if !ok {
		res = Result{}
		return rw.cssFallback(css, base, &res), res
	}
	return out, res
}

func (rw *Rewriter) cssScan(css, base string, res *Result) (string, bool) {
	var b strings.Builder
	b.Grow(len(css))
	s := scanner.New(css)
	importPending := false
	for {
		tok := s.Next()
		switch tok.Type {
		case scanner.TokenEOF:
			return b.String(), true
		case scanner.TokenError:
			return "", false
		case scanner.TokenURI:
			b.WriteString(rw.uriToken(tok.Value, base, res))
			importPending = false
			continue
		case scanner.TokenAtKeyword:
			importPending = strings.EqualFold(tok.Value, "@import")
		case scanner.TokenS, scanner.TokenComment:
		case scanner.TokenString:
			if importPending {
				b.WriteString(rw.stringRef(tok.Value, base, res))
				importPending = false
				continue
			}
		default:
			importPending = false
		}
		b.WriteString(tok.Value)
	}
}

// uriToken rewrites a url( ... ) token.
func (rw *Rewriter) uriToken(tok, base string, res *Result) string {
	inner := strings.TrimSpace(tok[len("url(") : len(tok)-1])
	if len(inner) >= 2 && (inner[0] == '"' || inner[0] == '\'') && inner[len(inner)-1] == inner[0] {
		inner = inner[1 : len(inner)-1]
	}
	out, ok := rw.ref(inner, base, res)
	if !ok {
		return tok
	}
	return "url('" + out + "')"
}

// stringRef rewrites a quoted string used as an @import target.
func (rw *Rewriter) stringRef(tok, base string, res *Result) string {
	q := tok[0]
	out, ok := rw.ref(tok[1:len(tok)-1], base, res)
	if !ok {
		return tok
	}
	return string(q) + out + string(q)
}

var (
	urlPattern    = regexp.MustCompile(`(?i)url\(\s*(?:"([^"]*)"|'([^']*)'|([^)"'\s]*))\s*\)`)
	importPattern = regexp.MustCompile(`(?i)(@import\s+)("[^"]*"|'[^']*')`)
)

// cssFallback is the regexp pass for input the scanner cannot take as is.
func (rw *Rewriter) cssFallback(css, base string, res *Result) string {
	css = urlPattern.ReplaceAllStringFunc(css, func(m string) string {
		sub := urlPattern.FindStringSubmatch(m)
		inner := sub[1] + sub[2] + sub[3]
		out, ok := rw.ref(inner, base, res)
		if !ok {
			return m
		}
		return "url('" + out + "')"
	})
	return importPattern.ReplaceAllStringFunc(css, func(m string) string {
		sub := importPattern.FindStringSubmatch(m)
		return sub[1] + rw.stringRef(sub[2], base, res)
	})
}
