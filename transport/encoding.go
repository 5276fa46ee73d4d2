package transport

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

const acceptEncoding = "gzip, deflate, zstd"

// decodeBody reads the response body and undoes its Content-Encoding.
// The encoding headers are removed from resp once the body is decoded.
func decodeBody(resp *http.Response) ([]byte, error) {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotModified ||
		(resp.Request != nil && resp.Request.Method == http.MethodHead) {
		// no body to decode
		encoding = ""
	}

	var r io.Reader
	switch encoding {
	case "", "identity":
		r = resp.Body
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("cannot read gzip body: %w", err)
		}
		defer zr.Close()
		r = zr
	case "deflate":
		zr, err := zlib.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("cannot read deflate body: %w", err)
		}
		defer zr.Close()
		r = zr
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("cannot read zstd body: %w", err)
		}
		defer zr.Close()
		r = zr
	default:
		return nil, fmt.Errorf("unsupported Content-Encoding %q", encoding)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(encoding) > 0 && encoding != "identity" {
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
	}
	return data, nil
}
