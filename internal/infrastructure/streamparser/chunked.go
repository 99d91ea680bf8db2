// Package streamparser turns an opaque, possibly-still-growing HTTP
// response buffer into structured frames (spec §4.2). It is
// deliberately stateless per call — callers re-run Parse on the whole
// buffer accumulated so far as more bytes arrive; re-emitting the same
// deltas on a growing buffer is expected and the emitter (C5) is
// responsible for diffing (spec: "Ordering").
package streamparser

import (
	"bytes"
	"strconv"
)

// DecodeChunked iterates HTTP/1.1 `<hex-length>\r\n<bytes>\r\n` frames.
// It never consumes a partial chunk: if the next chunk header or body
// is only partially present, decoding stops there and returns what was
// assembled so far with done=false. A `0\r\n\r\n` terminal chunk
// returns done=true.
func DecodeChunked(buf []byte) (decoded []byte, done bool) {
	var out bytes.Buffer
	rest := buf

	for {
		idx := bytes.Index(rest, []byte("\r\n"))
		if idx < 0 {
			// Chunk header not fully received yet.
			return out.Bytes(), false
		}

		sizeLine := rest[:idx]
		if semi := bytes.IndexByte(sizeLine, ';'); semi >= 0 {
			sizeLine = sizeLine[:semi] // drop chunk extensions
		}
		size, err := strconv.ParseUint(string(bytes.TrimSpace(sizeLine)), 16, 64)
		if err != nil {
			// Not a chunk header we understand; stop rather than
			// misinterpret arbitrary bytes as a length.
			return out.Bytes(), false
		}

		body := rest[idx+2:]

		if size == 0 {
			// Terminal chunk; trailers (if any) follow before the
			// final CRLF, but the body is complete either way.
			if bytes.HasPrefix(body, []byte("\r\n")) {
				return out.Bytes(), true
			}
			if bytes.Contains(body, []byte("\r\n\r\n")) {
				return out.Bytes(), true
			}
			// Trailer headers not fully received yet.
			return out.Bytes(), false
		}

		if uint64(len(body)) < size+2 {
			// Chunk body not fully received yet.
			return out.Bytes(), false
		}

		out.Write(body[:size])
		rest = body[size+2:] // skip the chunk's trailing CRLF
	}
}
