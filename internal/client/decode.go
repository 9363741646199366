package client

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"rewrite-proxy-go/internal/model"
)

// decodeBody strips the Content-Encoding of resp in place. Codings are undone
// in reverse order of application. On an unsupported coding resp is left
// untouched and an error is returned.
func decodeBody(resp *model.ProxyResponse) error {
	codings := parseCodings(resp.Header.Get("Content-Encoding"))
	if len(codings) == 0 {
		return nil
	}
	for _, coding := range codings {
		if !supported(coding) {
			return fmt.Errorf("unsupported content coding %q", coding)
		}
	}

	// Decoders read headers while being built; keep those bytes so a failed
	// setup can hand the body back intact.
	rec := &recordingReader{r: resp.Body}
	var r io.Reader = rec
	var closers []io.Closer
	for i := len(codings) - 1; i >= 0; i-- {
		dr, err := newDecoder(codings[i], r)
		if err != nil {
			for j := len(closers) - 1; j >= 0; j-- {
				_ = closers[j].Close()
			}
			resp.Body = &replayBody{
				Reader: io.MultiReader(bytes.NewReader(rec.stop()), resp.Body),
				raw:    resp.Body,
			}
			return fmt.Errorf("%s decoder: %w", codings[i], err)
		}
		if c, ok := dr.(io.Closer); ok {
			closers = append(closers, c)
		}
		r = dr
	}

	rec.stop()
	resp.Body = &decodedBody{Reader: r, closers: closers, raw: resp.Body}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Decoded = true
	return nil
}

func parseCodings(header string) []string {
	var out []string
	for _, part := range strings.Split(header, ",") {
		coding := strings.ToLower(strings.TrimSpace(part))
		if coding == "" || coding == "identity" {
			continue
		}
		out = append(out, coding)
	}
	return out
}

func supported(coding string) bool {
	switch coding {
	case "gzip", "x-gzip", "deflate", "br", "zstd":
		return true
	}
	return false
}

func newDecoder(coding string, r io.Reader) (io.Reader, error) {
	switch coding {
	case "gzip", "x-gzip":
		return gzip.NewReader(r)
	case "deflate":
		return newDeflateReader(r)
	case "br":
		return brotli.NewReader(r), nil
	case "zstd":
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	}
	return nil, fmt.Errorf("unsupported content coding %q", coding)
}

// newDeflateReader accepts both zlib-wrapped streams (RFC 9110) and the raw
// DEFLATE streams some servers send instead.
func newDeflateReader(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if isZlibHeader(head) {
		return zlib.NewReader(br)
	}
	return flate.NewReader(br), nil
}

func isZlibHeader(b []byte) bool {
	if len(b) < 2 {
		return false
	}
	return b[0]&0x0f == 8 && (uint16(b[0])<<8|uint16(b[1]))%31 == 0
}

// decodedBody reads decoded bytes and closes the decoder chain and the
// underlying response body together.
type decodedBody struct {
	io.Reader
	closers []io.Closer
	raw     io.Closer
}

func (d *decodedBody) Close() error {
	for i := len(d.closers) - 1; i >= 0; i-- {
		_ = d.closers[i].Close()
	}
	return d.raw.Close()
}

// recordingReader copies what it reads until stop is called. Some decoders
// read from a background goroutine, hence the lock.
type recordingReader struct {
	mu      sync.Mutex
	r       io.Reader
	buf     bytes.Buffer
	stopped bool
}

func (rr *recordingReader) Read(p []byte) (int, error) {
	n, err := rr.r.Read(p)
	rr.mu.Lock()
	if !rr.stopped {
		rr.buf.Write(p[:n])
	}
	rr.mu.Unlock()
	return n, err
}

// stop ends recording and returns the bytes read so far.
func (rr *recordingReader) stop() []byte {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	rr.stopped = true
	out := rr.buf.Bytes()
	rr.buf = bytes.Buffer{}
	return out
}

// replayBody returns the bytes consumed by a failed decoder setup followed by
// the rest of the raw body.
type replayBody struct {
	io.Reader
	raw io.Closer
}

func (b *replayBody) Close() error { return b.raw.Close() }
