package value

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"sync"
)

// MarshalJSON renders the document as a JSON object, preserving field
// order (encoding/json does not guarantee this for map[string]any, which
// is exactly why Document exists).
func (d *Document) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range d.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(f.value)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into the document, preserving the
// key order found in the source bytes.
func (d *Document) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return &json.UnmarshalTypeError{Value: "non-object", Type: nil}
	}
	*d = Document{index: make(map[string]int)}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		v, err := unmarshalValue(raw)
		if err != nil {
			return err
		}
		d.Put(key, v)
	}
	return nil
}

// MarshalJSON renders the value in its natural JSON shape. Bytes encode
// as base64 strings tagged with a type marker since JSON has no native
// binary type; integers wider than JSON's safe float range are still
// emitted as numbers (consumers needing exact round-trip should use the
// Go API directly rather than JSON).
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindI32, KindI64:
		return json.Marshal(v.i)
	case KindU32, KindU64:
		return json.Marshal(v.u)
	case KindF32, KindF64:
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	case KindBytes:
		return json.Marshal(map[string]string{"$binary": base64.StdEncoding.EncodeToString(v.bs)})
	case KindArray:
		return json.Marshal(v.arr)
	case KindDocument:
		return json.Marshal(v.doc)
	default:
		return []byte("null"), nil
	}
}

func unmarshalValue(raw json.RawMessage) (Value, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return Null(), nil
	}
	switch trimmed[0] {
	case '{':
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return Value{}, err
		}
		if b, ok := probe["$binary"]; ok {
			var s string
			if err := json.Unmarshal(b, &s); err != nil {
				return Value{}, err
			}
			data, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return Value{}, err
			}
			return Bytes(data), nil
		}
		doc := NewDocument()
		if err := doc.UnmarshalJSON(trimmed); err != nil {
			return Value{}, err
		}
		return FromDocument(doc), nil
	case '[':
		var rawArr []json.RawMessage
		if err := json.Unmarshal(trimmed, &rawArr); err != nil {
			return Value{}, err
		}
		arr := make([]Value, len(rawArr))
		for i, r := range rawArr {
			v, err := unmarshalValue(r)
			if err != nil {
				return Value{}, err
			}
			arr[i] = v
		}
		return Array(arr), nil
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return Value{}, err
		}
		return String(s), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return Value{}, err
		}
		return Bool(b), nil
	default:
		var f float64
		if err := json.Unmarshal(trimmed, &f); err != nil {
			return Value{}, err
		}
		if f == float64(int64(f)) {
			return I64(int64(f)), nil
		}
		return F64(f), nil
	}
}

var encodeBuffers = sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

// Serialize renders the document as compact JSON bytes — the
// representation the primary map persists. Encoding goes through a
// pooled buffer since the write path serializes on every operation.
func (d *Document) Serialize() ([]byte, error) {
	buf := encodeBuffers.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		encodeBuffers.Put(buf)
	}()
	if err := json.NewEncoder(buf).Encode(d); err != nil {
		return nil, err
	}
	out := bytes.TrimRight(buf.Bytes(), "\n")
	return append([]byte(nil), out...), nil
}

// DeserializeDocument parses JSON bytes produced by Serialize.
func DeserializeDocument(data []byte) (*Document, error) {
	doc := NewDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, err
	}
	return doc, nil
}
