package target

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Accepts(t *testing.T) {
	c := NewClassifier(nil)

	tests := []string{
		"https://example.com",
		"http://example.com/dir/index.html?q=1#frag",
		"https://sub.example.org:8443/path",
		"http://8.8.8.8/",
		"https://[2001:db8::1]/",
	}
	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			u, err := c.Validate(raw)
			require.NoError(t, err)
			assert.Equal(t, raw, u.String())
		})
	}
}

func TestValidate_InvalidURL(t *testing.T) {
	c := NewClassifier(nil)

	tests := []struct {
		name      string
		candidate string
	}{
		{"plain words", "not a url"},
		{"relative path", "/page"},
		{"ftp scheme", "ftp://example.com/file"},
		{"javascript scheme", "javascript:alert(1)"},
		{"missing host", "https://"},
		{"bad escape", "https://example.com/%zz"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Validate(tt.candidate)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidURL), "err = %v", err)
			assert.False(t, errors.Is(err, ErrBlocked))
		})
	}
}

func TestValidate_Blocked(t *testing.T) {
	c := NewClassifier(nil)

	tests := []string{
		"http://localhost/",
		"http://localhost:8080/admin",
		"http://127.0.0.1/",
		"http://0.0.0.0:9000/",
		"http://10.1.2.3/",
		"http://192.168.1.1/admin",
		"http://172.16.0.1/",
		// Prefix matching is deliberately coarse.
		"http://172.200.1.1/",
		"http://localhost.example.com/",
	}
	for _, raw := range tests {
		t.Run(raw, func(t *testing.T) {
			_, err := c.Validate(raw)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrBlocked), "err = %v", err)
		})
	}
}

func TestValidate_KnownCoverageGaps(t *testing.T) {
	c := NewClassifier(nil)

	// Neither IPv6 loopback nor uppercase variants are matched by the literal prefixes.
	for _, raw := range []string{"http://[::1]/", "http://LOCALHOST/"} {
		_, err := c.Validate(raw)
		assert.NoError(t, err, raw)
	}
}

func TestNewClassifier_CustomPrefixes(t *testing.T) {
	c := NewClassifier([]string{"internal."})

	_, err := c.Validate("http://internal.corp/")
	assert.True(t, errors.Is(err, ErrBlocked))

	_, err = c.Validate("http://127.0.0.1/")
	assert.NoError(t, err)

	assert.Equal(t, []string{"internal."}, c.Blocked())
}
