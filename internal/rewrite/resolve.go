package rewrite

import (
	"fmt"
	"net/url"
	"strings"

	"rewrite-proxy-go/internal/addressing"
)

// Context is everything needed to rewrite one response. It is built per
// request and never shared.
type Context struct {
	Target      *url.URL
	ProxyOrigin string
	Scheme      addressing.Scheme
}

// Resolve turns a reference found in a document into an absolute URL string:
// protocol-relative and origin-relative references take the target's scheme
// and host, references starting with "http" are used verbatim, anything else
// is resolved against the target.
func (rc Context) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	t := rc.Target

	var abs string
	switch {
	case strings.HasPrefix(ref, "//"):
		abs = t.Scheme + ":" + ref
	case strings.HasPrefix(ref, "/"):
		abs = t.Scheme + "://" + t.Host + ref
	case strings.HasPrefix(ref, "http"):
		abs = ref
	default:
		u, err := t.Parse(ref)
		if err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrReference, ref, err)
		}
		return u.String(), nil
	}

	if _, err := url.Parse(abs); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrReference, ref, err)
	}
	return abs, nil
}

// Proxied returns the proxy-relative reference for ref.
func (rc Context) Proxied(ref string) (string, error) {
	abs, err := rc.Resolve(ref)
	if err != nil {
		return "", err
	}
	return rc.Scheme.Encode(abs), nil
}

// ProxiedAbsolute is Proxied prefixed with the proxy origin.
func (rc Context) ProxiedAbsolute(ref string) (string, error) {
	p, err := rc.Proxied(ref)
	if err != nil {
		return "", err
	}
	return rc.ProxyOrigin + p, nil
}

// skip reports whether ref starts with one of the given prefixes, ignoring
// case and leading whitespace.
func skip(ref string, prefixes ...string) bool {
	ref = strings.ToLower(strings.TrimSpace(ref))
	for _, p := range prefixes {
		if strings.HasPrefix(ref, p) {
			return true
		}
	}
	return false
}
