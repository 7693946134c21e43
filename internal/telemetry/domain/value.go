package telemetry

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	json "github.com/goccy/go-json"
)

// ValueKind is the JSON shape held by a Value.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k ValueKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Presence is the outcome of a typed field lookup.
type Presence uint8

const (
	// Present means the field exists and has the requested shape.
	Present Presence = iota
	// Missing means the field is absent or null.
	Missing
	// Malformed means the field exists with the wrong shape.
	Malformed
)

func (p Presence) String() string {
	switch p {
	case Present:
		return "present"
	case Missing:
		return "missing"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Value is an immutable decoded JSON tree. Numbers keep their literal text.
type Value struct {
	kind ValueKind
	b    bool
	s    string
	arr  []Value
	obj  map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Number wraps a numeric literal such as "53.7".
func Number(literal string) Value { return Value{kind: KindNumber, s: literal} }

// Array wraps a list of values.
func Array(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindArray, arr: cp}
}

// Object wraps a set of fields.
func Object(fields map[string]Value) Value {
	cp := make(map[string]Value, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Value{kind: KindObject, obj: cp}
}

// ParseValue decodes a JSON document into a Value.
func ParseValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("telemetry: decode value: %w", err)
	}
	return FromAny(raw)
}

// FromAny converts the output of a JSON decoder into a Value.
func FromAny(raw any) (Value, error) {
	switch v := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(v), nil
	case string:
		return String(v), nil
	case json.Number:
		return Number(v.String()), nil
	case float64:
		return Number(strconv.FormatFloat(v, 'g', -1, 64)), nil
	case int64:
		return Number(strconv.FormatInt(v, 10)), nil
	case int:
		return Number(strconv.Itoa(v)), nil
	case []any:
		items := make([]Value, 0, len(v))
		for _, item := range v {
			conv, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, conv)
		}
		return Value{kind: KindArray, arr: items}, nil
	case map[string]any:
		fields := make(map[string]Value, len(v))
		for key, item := range v {
			conv, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			fields[key] = conv
		}
		return Value{kind: KindObject, obj: fields}, nil
	default:
		return Value{}, fmt.Errorf("telemetry: unsupported json type %T", raw)
	}
}

// Kind reports the shape of the value.
func (v Value) Kind() ValueKind { return v.kind }

// IsObject reports whether the value is a JSON object.
func (v Value) IsObject() bool { return v.kind == KindObject }

// Str returns the string content and whether the value is a string.
func (v Value) Str() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// Len returns the number of object fields or array items.
func (v Value) Len() int {
	switch v.kind {
	case KindObject:
		return len(v.obj)
	case KindArray:
		return len(v.arr)
	default:
		return 0
	}
}

// Keys returns the object's field names in sorted order.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Field looks up a field of an object value.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	field, ok := v.obj[name]
	return field, ok
}

// StringField looks up a string field. Null counts as missing.
func (v Value) StringField(name string) (string, Presence) {
	field, ok := v.Field(name)
	if !ok || field.kind == KindNull {
		return "", Missing
	}
	s, ok := field.Str()
	if !ok {
		return "", Malformed
	}
	return s, Present
}

// ObjectField looks up a nested object field.
func (v Value) ObjectField(name string) (Value, Presence) {
	field, ok := v.Field(name)
	if !ok || field.kind == KindNull {
		return Value{}, Missing
	}
	if field.kind != KindObject {
		return Value{}, Malformed
	}
	return field, Present
}

// Without returns a copy of the object with the named fields removed.
func (v Value) Without(names ...string) Value {
	if v.kind != KindObject {
		return v
	}
	fields := make(map[string]Value, len(v.obj))
	for k, item := range v.obj {
		fields[k] = item
	}
	for _, name := range names {
		delete(fields, name)
	}
	return Value{kind: KindObject, obj: fields}
}

// MarshalJSON renders the value canonically: object keys sorted, numbers verbatim.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Raw renders the value for diagnostics, falling back to its kind name.
func (v Value) Raw() string {
	b, err := v.MarshalJSON()
	if err != nil {
		return "<" + v.kind.String() + ">"
	}
	return string(b)
}

func (v Value) encode(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		if v.s == "" {
			return ErrInvalidPayload
		}
		buf.WriteString(v.s)
	case KindString:
		encoded, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(encoded)
	case KindArray:
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, key := range v.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			encoded, err := json.Marshal(key)
			if err != nil {
				return err
			}
			buf.Write(encoded)
			buf.WriteByte(':')
			if err := v.obj[key].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return ErrInvalidPayload
	}
	return nil
}
