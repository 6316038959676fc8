package engine

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// DefaultMaxBodyBytes caps how much of a response is kept.
const DefaultMaxBodyBytes = 10 << 20

// readLimited reads at most limit bytes from r.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	return io.ReadAll(io.LimitReader(r, limit))
}

// decodeBody undoes Content-Encoding. Some transports decode on their own
// and leave the header in place, so any decoding failure returns raw as-is.
func decodeBody(contentEncoding string, raw []byte, limit int64) []byte {
	encodings := strings.Split(contentEncoding, ",")
	out := raw
	for i := len(encodings) - 1; i >= 0; i-- {
		enc := strings.ToLower(strings.TrimSpace(encodings[i]))
		if enc == "" || enc == "identity" {
			continue
		}
		decoded, err := decodeOne(enc, out, limit)
		if err != nil {
			return raw
		}
		out = decoded
	}
	return out
}

func decodeOne(enc string, data []byte, limit int64) ([]byte, error) {
	switch enc {
	case "gzip", "x-gzip":
		if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
			return nil, fmt.Errorf("not gzip")
		}
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return readLimited(zr, limit)
	case "deflate":
		if zr, err := zlib.NewReader(bytes.NewReader(data)); err == nil {
			defer zr.Close()
			return readLimited(zr, limit)
		}
		fr := flate.NewReader(bytes.NewReader(data))
		defer fr.Close()
		return readLimited(fr, limit)
	case "br":
		return readLimited(brotli.NewReader(bytes.NewReader(data)), limit)
	case "zstd":
		zr, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return readLimited(zr, limit)
	default:
		return nil, fmt.Errorf("unknown content-encoding %q", enc)
	}
}
