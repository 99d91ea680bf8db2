package streamparser

import (
	"encoding/json"
	"fmt"
)

// Tagged-value slot positions within the fixed 7-element type lattice
// array (spec §4.2 step 5). Position 0 is reserved and always null;
// exactly one of positions 1-6 carries the value.
const (
	tagInt    = 1
	tagString = 2
	tagBool   = 3
	tagNull   = 4
	tagObject = 5
	tagArray  = 6
)

// DecodeToolCallParams decodes a tool call's params_list slot (spec
// §4.2 step 4, "payload[10] = [name, params_list]") into a plain
// map[string]interface{} suitable for JSON-encoding into
// ToolCallFunc.Arguments. params_list on the wire is a single-element
// wrapper around the actual list of [name, tagged_value] pairs.
func DecodeToolCallParams(raw json.RawMessage) (map[string]interface{}, error) {
	var wrapper []json.RawMessage
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("streamparser: decode params_list wrapper: %w", err)
	}
	if len(wrapper) == 0 {
		return map[string]interface{}{}, nil
	}
	return decodePairsList(wrapper[0])
}

func decodePairsList(raw json.RawMessage) (map[string]interface{}, error) {
	var pairs []json.RawMessage
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, fmt.Errorf("streamparser: decode pairs list: %w", err)
	}

	out := make(map[string]interface{}, len(pairs))
	for _, rawPair := range pairs {
		var pair []json.RawMessage
		if err := json.Unmarshal(rawPair, &pair); err != nil || len(pair) != 2 {
			continue
		}
		var name string
		if err := json.Unmarshal(pair[0], &name); err != nil {
			continue
		}
		value, err := decodeTaggedValue(pair[1])
		if err != nil {
			continue
		}
		out[name] = value
	}
	return out, nil
}

// decodeTaggedValue decodes one fixed-shape type-tagged array: the
// non-null slot among positions 1-6 indicates the Go value produced.
func decodeTaggedValue(raw json.RawMessage) (interface{}, error) {
	var slots []json.RawMessage
	if err := json.Unmarshal(raw, &slots); err != nil {
		return nil, fmt.Errorf("streamparser: decode tagged value: %w", err)
	}

	get := func(i int) (json.RawMessage, bool) {
		if i < 0 || i >= len(slots) || isJSONNull(slots[i]) {
			return nil, false
		}
		return slots[i], true
	}

	if v, ok := get(tagInt); ok {
		var n int64
		if err := json.Unmarshal(v, &n); err != nil {
			return nil, err
		}
		return n, nil
	}
	if v, ok := get(tagString); ok {
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, err
		}
		return s, nil
	}
	if v, ok := get(tagBool); ok {
		var n int
		if err := json.Unmarshal(v, &n); err != nil {
			var b bool
			if err2 := json.Unmarshal(v, &b); err2 != nil {
				return nil, err
			}
			return b, nil
		}
		return n != 0, nil
	}
	if _, ok := get(tagNull); ok {
		return nil, nil
	}
	if v, ok := get(tagObject); ok {
		return decodePairsList(v)
	}
	if v, ok := get(tagArray); ok {
		var elems []json.RawMessage
		if err := json.Unmarshal(v, &elems); err != nil {
			return nil, err
		}
		out := make([]interface{}, 0, len(elems))
		for _, e := range elems {
			val, err := decodeTaggedValue(e)
			if err != nil {
				return nil, err
			}
			out = append(out, val)
		}
		return out, nil
	}

	return nil, nil
}

// EncodeToolCallParams is the inverse of DecodeToolCallParams, used by
// tests to exercise the round-trip property (R2). It is not used by
// the live parser (the provider is always the encoder on that side),
// but keeping a faithful encoder alongside the decoder is what lets R2
// be tested at all.
func EncodeToolCallParams(params map[string]interface{}) (json.RawMessage, error) {
	pairs := make([]interface{}, 0, len(params))
	for name, value := range params {
		tagged, err := encodeTaggedValue(value)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, []interface{}{name, tagged})
	}
	wrapper := []interface{}{pairs}
	return json.Marshal(wrapper)
}

func encodeTaggedValue(value interface{}) ([]interface{}, error) {
	slots := make([]interface{}, 7)

	switch v := value.(type) {
	case nil:
		slots[tagNull] = true
	case bool:
		if v {
			slots[tagBool] = 1
		} else {
			slots[tagBool] = 0
		}
	case string:
		slots[tagString] = v
	case int:
		slots[tagInt] = v
	case int64:
		slots[tagInt] = v
	case float64:
		if v == float64(int64(v)) {
			slots[tagInt] = int64(v)
		} else {
			return nil, fmt.Errorf("streamparser: non-integral float has no tagged slot")
		}
	case map[string]interface{}:
		pairs := make([]interface{}, 0, len(v))
		for name, inner := range v {
			tagged, err := encodeTaggedValue(inner)
			if err != nil {
				return nil, err
			}
			pairs = append(pairs, []interface{}{name, tagged})
		}
		slots[tagObject] = pairs
	case []interface{}:
		elems := make([]interface{}, 0, len(v))
		for _, inner := range v {
			tagged, err := encodeTaggedValue(inner)
			if err != nil {
				return nil, err
			}
			elems = append(elems, tagged)
		}
		slots[tagArray] = elems
	default:
		return nil, fmt.Errorf("streamparser: unsupported value type %T", value)
	}

	return slots, nil
}
