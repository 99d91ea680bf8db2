package streamparser

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"
)

// Inflate auto-detects whether decoded is a gzip stream (magic 0x1f8b),
// a zlib stream (the usual 0x78 header byte), or raw deflate, and
// decompresses it. Because the underlying HTTP response is still
// streaming, decoded is frequently a truncated mid-stream snapshot:
// Inflate tolerates an unexpected EOF by returning whatever bytes were
// successfully decoded before the stream ran out, rather than erroring.
func Inflate(decoded []byte) []byte {
	if len(decoded) < 2 {
		return nil
	}

	var r io.Reader
	var closer io.Closer

	switch {
	case decoded[0] == 0x1f && decoded[1] == 0x8b:
		gz, err := gzip.NewReader(bytes.NewReader(decoded))
		if err != nil {
			return drainBestEffort(flate.NewReader(bytes.NewReader(decoded)))
		}
		r, closer = gz, gz
	case decoded[0] == 0x78:
		zr, err := zlib.NewReader(bytes.NewReader(decoded))
		if err != nil {
			return drainBestEffort(flate.NewReader(bytes.NewReader(decoded)))
		}
		r, closer = zr, zr
	default:
		r = flate.NewReader(bytes.NewReader(decoded))
		closer = r.(io.Closer)
	}

	out := drainBestEffort(r)
	if closer != nil {
		_ = closer.Close()
	}
	return out
}

// drainBestEffort reads r to completion, returning whatever was read
// even when the read terminates in an error (truncated stream) rather
// than propagating it — a half-received deflate block is expected, not
// exceptional, while a response is still in flight.
func drainBestEffort(r io.Reader) []byte {
	var out bytes.Buffer
	_, _ = io.Copy(&out, r)
	return out.Bytes()
}
