package rewrite

import (
	"bytes"
	"errors"
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// urlAttrs are the attributes whose values are rewritten as references.
var urlAttrs = map[string]bool{
	"href":      true,
	"src":       true,
	"action":    true,
	"data-src":  true,
	"data-href": true,
}

// refreshPattern locates the URL inside a meta refresh content value.
var refreshPattern = regexp.MustCompile(`(?i)(url\s*=\s*)(['"]?)([^'"]*)`)

// rewriteHTML walks the token stream, rewriting reference attributes, meta
// refresh targets and inline CSS, and injects the interceptor script before
// the first </head>. Tokens that are not modified are copied byte for byte.
func (r *Rewriter) rewriteHTML(body []byte, rc Context) ([]byte, error) {
	var out bytes.Buffer
	out.Grow(len(body) + 4096)

	z := html.NewTokenizer(bytes.NewReader(body))
	inStyle := false
	injected := false

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if errors.Is(z.Err(), io.EOF) {
				return out.Bytes(), nil
			}
			return nil, z.Err()
		}
		// TagName lower-cases the buffer in place, so copy first.
		raw := append([]byte(nil), z.Raw()...)

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			inStyle = tt == html.StartTagToken && tok.Data == "style"
			if r.rewriteTag(&tok, rc) {
				out.WriteString(tok.String())
				continue
			}
		case html.EndTagToken:
			inStyle = false
			name, _ := z.TagName()
			if !injected && string(name) == "head" {
				script, err := Interceptor(rc)
				if err != nil {
					return nil, err
				}
				out.WriteString(script)
				injected = true
			}
		case html.TextToken:
			if inStyle {
				out.WriteString(r.rewriteCSSString(string(raw), rc))
				continue
			}
		}
		out.Write(raw)
	}
}

// rewriteTag rewrites the attributes of tok in place and reports whether any changed.
func (r *Rewriter) rewriteTag(tok *html.Token, rc Context) bool {
	changed := false
	refresh := tok.Data == "meta" && isRefresh(tok.Attr)

	for i, attr := range tok.Attr {
		var val string
		switch {
		case urlAttrs[attr.Key]:
			if skip(attr.Val, "data:", "javascript:", "#") {
				continue
			}
			p, err := rc.Proxied(attr.Val)
			if err != nil {
				r.unresolved(attr.Val, err)
				continue
			}
			val = p
		case attr.Key == "style":
			val = r.rewriteCSSString(attr.Val, rc)
		case refresh && attr.Key == "content":
			val = r.rewriteRefresh(attr.Val, rc)
		default:
			continue
		}
		if val != attr.Val {
			tok.Attr[i].Val = val
			changed = true
		}
	}
	return changed
}

func isRefresh(attrs []html.Attribute) bool {
	for _, a := range attrs {
		if a.Key == "http-equiv" && strings.EqualFold(strings.TrimSpace(a.Val), "refresh") {
			return true
		}
	}
	return false
}

// rewriteRefresh rewrites the url= part of a "N;url=..." value.
func (r *Rewriter) rewriteRefresh(content string, rc Context) string {
	loc := refreshPattern.FindStringSubmatchIndex(content)
	if loc == nil {
		return content
	}
	start, end := loc[6], loc[7]
	ref := strings.TrimSpace(content[start:end])
	if ref == "" {
		return content
	}
	p, err := rc.Proxied(ref)
	if err != nil {
		r.unresolved(ref, err)
		return content
	}
	return content[:start] + p + content[end:]
}
