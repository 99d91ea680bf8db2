package streamparser

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"fmt"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func encodeChunked(data []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%x\r\n", len(data))
	buf.Write(data)
	buf.WriteString("\r\n0\r\n\r\n")
	return buf.Bytes()
}

func deflateZlib(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatalf("zlib write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("zlib close: %v", err)
	}
	return buf.Bytes()
}

// === DecodeChunked ===

func TestDecodeChunked_RoundTripsArbitraryBytes(t *testing.T) {
	cases := [][]byte{
		[]byte(""),
		[]byte("hello"),
		bytes.Repeat([]byte("x"), 5000),
	}
	for _, data := range cases {
		encoded := encodeChunked(data)
		decoded, done := DecodeChunked(encoded)
		if !done {
			t.Fatalf("expected done=true for complete chunked stream of len %d", len(data))
		}
		if !bytes.Equal(decoded, data) {
			t.Fatalf("round trip mismatch: got %q want %q", decoded, data)
		}
	}
}

func TestDecodeChunked_PartialChunkNotConsumed(t *testing.T) {
	full := encodeChunked([]byte("hello world"))
	partial := full[:len(full)-10] // truncate mid-stream, before terminal marker

	decoded, done := DecodeChunked(partial)
	if done {
		t.Fatal("expected done=false for a truncated stream")
	}
	// Whatever was decoded must be a prefix of the full payload, never
	// a partially-consumed chunk's bytes.
	if !bytes.HasPrefix([]byte("hello world"), decoded) {
		t.Fatalf("decoded %q is not a valid prefix of the full payload", decoded)
	}
}

func TestDecodeChunked_PartialHeaderReturnsNothing(t *testing.T) {
	decoded, done := DecodeChunked([]byte("5"))
	if done {
		t.Fatal("expected done=false")
	}
	if len(decoded) != 0 {
		t.Fatalf("expected no decoded bytes, got %q", decoded)
	}
}

// === Inflate ===

func TestInflate_ZlibStream(t *testing.T) {
	original := []byte(`{"hello":"world"}`)
	compressed := deflateZlib(t, original)

	got := Inflate(compressed)
	if !bytes.Equal(got, original) {
		t.Fatalf("got %q want %q", got, original)
	}
}

func TestInflate_TruncatedStreamToleratesPartialData(t *testing.T) {
	original := bytes.Repeat([]byte("token "), 100)
	compressed := deflateZlib(t, original)
	truncated := compressed[:len(compressed)-4]

	got := Inflate(truncated) // must not panic, and should return a prefix
	if len(got) == 0 {
		t.Fatal("expected at least a partial prefix to be recovered")
	}
}

// === Envelope parsing ===

func wireEnvelope(payload interface{}) []byte {
	// [[payload],"model"] — wire shape the regex + JSON decode expect.
	payloadJSON, _ := json.Marshal(payload)
	return []byte(fmt.Sprintf(`[[%s],"model"]`, payloadJSON))
}

func TestParse_TextDelta(t *testing.T) {
	payload := []interface{}{nil, "Hello"}
	raw := encodeChunked(deflateZlibBytes(t, wireEnvelope(payload)))

	frame, done := Parse(zap.NewNop(), raw)
	if !done {
		t.Fatal("expected done=true")
	}
	if frame.Body != "Hello" {
		t.Fatalf("got body %q, want %q", frame.Body, "Hello")
	}
}

func TestParse_AccumulatesMultipleDeltas(t *testing.T) {
	env1 := wireEnvelope([]interface{}{nil, "p"})
	env2 := wireEnvelope([]interface{}{nil, "in"})
	combined := append(append([]byte{}, env1...), env2...)
	raw := encodeChunked(deflateZlibBytes(t, combined))

	frame, _ := Parse(zap.NewNop(), raw)
	if frame.Body != "pin" {
		t.Fatalf("got body %q, want %q", frame.Body, "pin")
	}
}

func TestParse_ToolCall(t *testing.T) {
	paramsList := []interface{}{
		[]interface{}{
			[]interface{}{"q", []interface{}{nil, nil, "x", nil, nil, nil, nil}},
		},
	}
	payload := make([]interface{}, 11)
	payload[1] = nil
	payload[10] = []interface{}{"lookup", paramsList}

	raw := encodeChunked(deflateZlibBytes(t, wireEnvelope(payload)))

	frame, done := Parse(zap.NewNop(), raw)
	if !done {
		t.Fatal("expected done=true")
	}
	if len(frame.Function) != 1 || frame.Function[0].Name != "lookup" {
		t.Fatalf("got function %+v", frame.Function)
	}
	if frame.Function[0].Params["q"] != "x" {
		t.Fatalf("got params %+v", frame.Function[0].Params)
	}
}

// TestParse_ToolCall_UnmappedSlotWarnsNoisily covers spec §9 Open
// Question (a): the provider could start populating slots this parser
// doesn't interpret. Per the spec's own instruction, that must fail
// noisily rather than be silently dropped.
func TestParse_ToolCall_UnmappedSlotWarnsNoisily(t *testing.T) {
	paramsList := []interface{}{[]interface{}{}}
	payload := make([]interface{}, 11)
	payload[1] = nil
	payload[4] = "unexpected-data"
	payload[10] = []interface{}{"lookup", paramsList}

	raw := encodeChunked(deflateZlibBytes(t, wireEnvelope(payload)))

	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)

	Parse(logger, raw)

	entries := logs.FilterMessage("streamparser: unmapped slot populated in tool-call payload").All()
	if len(entries) != 1 {
		t.Fatalf("expected one noisy warning for the unmapped slot, got %d", len(entries))
	}
}

func deflateZlibBytes(t *testing.T, data []byte) []byte {
	return deflateZlib(t, data)
}

// === Tool call param round trip ===

func TestToolCallParams_RoundTrip(t *testing.T) {
	original := map[string]interface{}{
		"n":       int64(3),
		"name":    "x",
		"enabled": true,
		"nothing": nil,
		"nested":  map[string]interface{}{"inner": "v"},
		"list":    []interface{}{int64(1), "two"},
	}

	encoded, err := EncodeToolCallParams(original)
	if err != nil {
		t.Fatalf("EncodeToolCallParams: %v", err)
	}

	decoded, err := DecodeToolCallParams(encoded)
	if err != nil {
		t.Fatalf("DecodeToolCallParams: %v", err)
	}

	for k, v := range original {
		if fmt.Sprint(decoded[k]) != fmt.Sprint(v) {
			t.Errorf("key %q: got %v, want %v", k, decoded[k], v)
		}
	}
}
