package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindObject
)

// Value is a JSON-compatible tagged union used for entry metadata.
// The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

func Null() Value { return Value{} }
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }
func Int(i int64) Value { return Value{kind: KindInt, i: i} }
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }
func String(s string) Value { return Value{kind: KindString, s: s} }
func Array(items ...Value) Value { return Value{kind: KindArray, arr: items} }
func Object(m map[string]Value) Value { return Value{kind: KindObject, obj: m} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == KindArray }
func (v Value) AsObject() (map[string]Value, bool) {
	return v.obj, v.kind == KindObject
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	case KindArray:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	case KindObject:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.obj)
	}
	return nil, fmt.Errorf("metadata: unknown value kind %d", v.kind)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("metadata: %w", err)
	}
	parsed, err := valueOf(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func valueOf(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("metadata: bad number %q: %w", t, err)
		}
		return Float(f), nil
	case string:
		return String(t), nil
	case []any:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			v, err := valueOf(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, v)
		}
		return Array(items...), nil
	case map[string]any:
		obj := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := valueOf(item)
			if err != nil {
				return Value{}, err
			}
			obj[k] = v
		}
		return Object(obj), nil
	}
	return Value{}, fmt.Errorf("metadata: unsupported type %T", raw)
}

// Metadata is structured, JSON-serializable context attached to entries
// and conversion records. It is stored as JSON text and only ever decoded
// by the JSON parser.
type Metadata map[string]Value

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(map[string]Value(m))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(src any) error {
	var data []byte
	switch t := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		data = t
	case string:
		data = []byte(t)
	default:
		return fmt.Errorf("metadata: cannot scan %T", src)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		*m = Metadata{}
		return nil
	}

	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return err
	}
	if v.Kind() == KindNull {
		*m = Metadata{}
		return nil
	}
	obj, ok := v.AsObject()
	if !ok {
		return fmt.Errorf("metadata: stored value is not an object")
	}
	*m = Metadata(obj)
	return nil
}

// With returns a copy of m with key set to v.
func (m Metadata) With(key string, v Value) Metadata {
	out := make(Metadata, len(m)+1)
	for k, existing := range m {
		out[k] = existing
	}
	out[key] = v
	return out
}
