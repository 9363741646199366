package rewrite

import (
	"regexp"
)

// cssURLPattern matches url(...) with single, double or no quotes.
var cssURLPattern = regexp.MustCompile(`(?i)url\(\s*(?:'([^']*)'|"([^"]*)"|([^'")\s]*))\s*\)`)

// rewriteCSS rewrites every url() reference to an absolute proxy URL.
// data: and fragment references, and references that fail to resolve, are
// left as they were.
func (r *Rewriter) rewriteCSS(css []byte, rc Context) []byte {
	return []byte(r.rewriteCSSString(string(css), rc))
}

func (r *Rewriter) rewriteCSSString(css string, rc Context) string {
	return cssURLPattern.ReplaceAllStringFunc(css, func(match string) string {
		sub := cssURLPattern.FindStringSubmatch(match)
		ref := sub[1] + sub[2] + sub[3]
		if ref == "" || skip(ref, "data:", "#") {
			return match
		}
		proxied, err := rc.ProxiedAbsolute(ref)
		if err != nil {
			r.unresolved(ref, err)
			return match
		}
		return `url("` + proxied + `")`
	})
}
