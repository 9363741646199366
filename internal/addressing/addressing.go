// Package addressing converts between target URLs and the proxy-relative
// references that carry them.
package addressing

import (
	"encoding/base64"
	"net/url"
	"regexp"
	"strings"
)

// Scheme is one convention for embedding a target URL in a proxy request.
type Scheme interface {
	// Name identifies the scheme in logs and metrics.
	Name() string
	// Prefix is what Encode places in front of the escaped target.
	Prefix() string
	// Encode returns the proxy-relative reference for an absolute target URL.
	Encode(target string) string
	// Decode extracts the candidate target string from an inbound request
	// URL. It never fails; validity is decided by the caller.
	Decode(u *url.URL) string
	// ForwardsBody reports whether non-GET methods and bodies reach the upstream.
	ForwardsBody() bool
}

// EscapeComponent percent-encodes s the way a browser's encodeURIComponent
// does for the characters that matter in a URL: everything except
// unreserved characters is escaped and spaces become %20.
func EscapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// QueryParam addresses targets as /?url=<escaped>. It is read-only.
type QueryParam struct{}

// Name implements Scheme.
func (QueryParam) Name() string { return "query" }

// Prefix implements Scheme.
func (QueryParam) Prefix() string { return "/?url=" }

// Encode implements Scheme.
func (q QueryParam) Encode(target string) string {
	return q.Prefix() + EscapeComponent(target)
}

// Decode implements Scheme.
func (QueryParam) Decode(u *url.URL) string {
	return u.Query().Get("url")
}

// ForwardsBody implements Scheme.
func (QueryParam) ForwardsBody() bool { return false }

// PathPrefix is the route prefix used by PathSegment.
const PathPrefix = "/proxy/"

// base64Pattern is the heuristic that routes a path segment to base64 decoding.
var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]+=*$`)

// PathSegment addresses targets as /proxy/<escaped>. A segment that looks
// like base64 is decoded as base64 first.
type PathSegment struct{}

// Name implements Scheme.
func (PathSegment) Name() string { return "path" }

// Prefix implements Scheme.
func (PathSegment) Prefix() string { return PathPrefix }

// Encode implements Scheme.
func (p PathSegment) Encode(target string) string {
	return p.Prefix() + EscapeComponent(target)
}

// Decode implements Scheme. A query string on the inbound request, such as
// one produced by a GET form submission, is appended to the decoded target.
func (PathSegment) Decode(u *url.URL) string {
	candidate := DecodeSegment(strings.TrimPrefix(u.EscapedPath(), PathPrefix))
	if u.RawQuery == "" {
		return candidate
	}
	if strings.Contains(candidate, "?") {
		return candidate + "&" + u.RawQuery
	}
	return candidate + "?" + u.RawQuery
}

// ForwardsBody implements Scheme.
func (PathSegment) ForwardsBody() bool { return true }

// DecodeSegment turns the part of the path after the /proxy/ prefix into a
// candidate string: base64 when the segment matches the base64 alphabet and
// decodes cleanly, otherwise percent-decoding, otherwise the raw segment.
//
// A percent-encoded value that happens to be valid base64 is decoded as base64.
func DecodeSegment(segment string) string {
	if base64Pattern.MatchString(segment) {
		if b, err := base64.StdEncoding.DecodeString(segment); err == nil {
			return string(b)
		}
	}
	if s, err := url.PathUnescape(segment); err == nil {
		return s
	}
	return segment
}
