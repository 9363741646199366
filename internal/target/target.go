// Package target validates candidate target URLs before anything is fetched.
package target

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrInvalidURL is returned for candidates that are not absolute http(s) URLs.
	ErrInvalidURL = errors.New("invalid target URL")
	// ErrBlocked is returned for targets whose hostname matches the block-list.
	ErrBlocked = errors.New("target host is blocked")
)

// DefaultBlockedPrefixes covers loopback and private ranges by literal hostname prefix.
//
// Matching is textual: "172." blocks all of 172.0.0.0/8, IPv6 loopback is not
// covered, and DNS names resolving to private addresses pass.
var DefaultBlockedPrefixes = []string{
	"localhost",
	"127.0.0.1",
	"0.0.0.0",
	"10.",
	"192.168.",
	"172.",
}

// Classifier decides whether a candidate string may be proxied.
type Classifier struct {
	blocked []string
}

// NewClassifier creates a Classifier. A nil prefix list uses DefaultBlockedPrefixes.
func NewClassifier(blocked []string) *Classifier {
	if blocked == nil {
		blocked = DefaultBlockedPrefixes
	}
	return &Classifier{blocked: append([]string(nil), blocked...)}
}

// Validate parses candidate as an absolute http or https URL and checks it
// against the block-list. Returned errors wrap ErrInvalidURL or ErrBlocked.
func (c *Classifier) Validate(candidate string) (*url.URL, error) {
	u, err := url.Parse(candidate)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidURL, candidate, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %s: scheme must be http or https", ErrInvalidURL, candidate)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: %s: missing host", ErrInvalidURL, candidate)
	}

	host := u.Hostname()
	for _, prefix := range c.blocked {
		if strings.HasPrefix(host, prefix) {
			return nil, fmt.Errorf("%w: %s matches %q", ErrBlocked, host, prefix)
		}
	}
	return u, nil
}

// Blocked returns a copy of the configured prefixes.
func (c *Classifier) Blocked() []string {
	return append([]string(nil), c.blocked...)
}
