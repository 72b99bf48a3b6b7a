// File: internal/proxy/compression.go
package proxy

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// acceptEncoding is what the proxy advertises upstream: only codings decodeBody understands.
const acceptEncoding = "br, gzip, deflate"

var (
	gzipReaders   = sync.Pool{New: func() interface{} { return new(gzip.Reader) }}
	brotliReaders = sync.Pool{New: func() interface{} { return brotli.NewReader(nil) }}
)

// contentEncodings lists the codings of h in the order they were applied.
func contentEncodings(h http.Header) []string {
	var out []string
	for _, v := range h.Values("Content-Encoding") {
		for _, part := range strings.Split(v, ",") {
			if enc := strings.ToLower(strings.TrimSpace(part)); enc != "" && enc != "identity" {
				out = append(out, enc)
			}
		}
	}
	return out
}

// decodeBody undoes encodings, last applied first. At most limit decoded bytes are accepted.
func decodeBody(body []byte, encodings []string, limit int64) ([]byte, error) {
	for i := len(encodings) - 1; i >= 0; i-- {
		decoded, err := decodeLayer(body, encodings[i], limit)
		if err != nil {
			return nil, err
		}
		body = decoded
	}
	return body, nil
}

func decodeLayer(body []byte, encoding string, limit int64) ([]byte, error) {
	src := bytes.NewReader(body)
	switch encoding {
	case "gzip", "x-gzip":
		zr := gzipReaders.Get().(*gzip.Reader)
		defer gzipReaders.Put(zr)
		if err := zr.Reset(src); err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return readLimited(zr, limit, "gzip")
	case "br":
		br := brotliReaders.Get().(*brotli.Reader)
		defer brotliReaders.Put(br)
		if err := br.Reset(src); err != nil {
			return nil, fmt.Errorf("brotli: %w", err)
		}
		return readLimited(br, limit, "brotli")
	case "deflate":
		// Servers disagree on whether deflate means zlib-wrapped or raw.
		if zr, err := zlib.NewReader(src); err == nil {
			defer zr.Close()
			return readLimited(zr, limit, "deflate")
		}
		fr := flate.NewReader(bytes.NewReader(body))
		defer fr.Close()
		return readLimited(fr, limit, "deflate")
	default:
		return nil, fmt.Errorf("unsupported Content-Encoding %q", encoding)
	}
}

// errTooLarge is returned when a body exceeds the configured limit.
type errTooLarge struct{ limit int64 }

func (e errTooLarge) Error() string { return fmt.Sprintf("body exceeds %d bytes", e.limit) }

func readLimited(r io.Reader, limit int64, name string) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if int64(len(data)) > limit {
		return nil, errTooLarge{limit: limit}
	}
	return data, nil
}
