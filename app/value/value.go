// Package value models the JSON-compatible values held by the store.
package value

import (
	"bytes"
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

type Kind uint8

const (
	String Kind = iota
	Number
	Boolean
	Null
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case String:
		return "string"
	case Number:
		return "number"
	case Boolean:
		return "boolean"
	case Null:
		return "null"
	case Array:
		return "array"
	case Object:
		return "object"
	}
	return "unknown"
}

// Value is a tagged JSON value. The zero Value is the empty string.
// Values are immutable once built.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	arr  []Value
	obj  *orderedmap.OrderedMap[string, Value]
}

var errTrailingData = errors.New("value: trailing data after JSON value")

func NewString(s string) Value { return Value{kind: String, str: s} }

func NewNumber(f float64) Value { return Value{kind: Number, num: f} }

func NewBool(b bool) Value { return Value{kind: Boolean, b: b} }

func NewNull() Value { return Value{kind: Null} }

func NewArray(items ...Value) Value { return Value{kind: Array, arr: items} }

func (v Value) Kind() Kind { return v.kind }

// Coerce applies the write-path rule: text that looks like a JSON object or
// array is parsed, anything else (including text that fails to parse) is
// kept as a plain string.
func Coerce(raw string) Value {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		if v, err := Parse(raw); err == nil {
			return v
		}
	}
	return NewString(raw)
}

// Parse decodes exactly one JSON value from text.
func Parse(text string) (Value, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	dec.UseNumber()
	v, err := decode(dec)
	if err != nil {
		return Value{}, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return Value{}, errTrailingData
	}
	return v, nil
}

func decode(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '[':
			items := make([]Value, 0)
			for dec.More() {
				item, err := decode(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Value{kind: Array, arr: items}, nil
		case '{':
			obj := orderedmap.New[string, Value]()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return Value{}, fmt.Errorf("value: object key is %T", keyTok)
				}
				item, err := decode(dec)
				if err != nil {
					return Value{}, err
				}
				obj.Set(key, item)
			}
			if _, err := dec.Token(); err != nil {
				return Value{}, err
			}
			return Value{kind: Object, obj: indexKeysFirst(obj)}, nil
		}
		return Value{}, fmt.Errorf("value: unexpected delimiter %q", t)
	case string:
		return NewString(t), nil
	case json.Number:
		f, err := strconv.ParseFloat(string(t), 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return Value{}, err
		}
		return NewNumber(f), nil
	case bool:
		return NewBool(t), nil
	case nil:
		return NewNull(), nil
	}
	return Value{}, fmt.Errorf("value: unexpected token %T", tok)
}

// indexKeysFirst reorders obj the way ECMAScript objects enumerate their
// keys: array-index keys first in ascending numeric order, then the rest in
// insertion order.
func indexKeysFirst(obj *orderedmap.OrderedMap[string, Value]) *orderedmap.OrderedMap[string, Value] {
	var indexes []string
	for pair := obj.Oldest(); pair != nil; pair = pair.Next() {
		if _, ok := arrayIndex(pair.Key); ok {
			indexes = append(indexes, pair.Key)
		}
	}
	if len(indexes) == 0 {
		return obj
	}
	slices.SortFunc(indexes, func(a, b string) int {
		x, _ := arrayIndex(a)
		y, _ := arrayIndex(b)
		return cmp.Compare(x, y)
	})

	ordered := orderedmap.New[string, Value]()
	for _, key := range indexes {
		v, _ := obj.Get(key)
		ordered.Set(key, v)
	}
	for pair := obj.Oldest(); pair != nil; pair = pair.Next() {
		if _, ok := arrayIndex(pair.Key); !ok {
			ordered.Set(pair.Key, pair.Value)
		}
	}
	return ordered
}

// arrayIndex reports whether key is a canonical array index below 2^32-1.
func arrayIndex(key string) (uint32, bool) {
	if key == "" || len(key) > 10 || (len(key) > 1 && key[0] == '0') {
		return 0, false
	}
	n, err := strconv.ParseUint(key, 10, 32)
	if err != nil || n == math.MaxUint32 {
		return 0, false
	}
	return uint32(n), true
}

// String renders the value the way GET replies with it: strings verbatim,
// scalars in their plain text form, arrays and objects as compact JSON.
func (v Value) String() string {
	switch v.kind {
	case String:
		return v.str
	case Number:
		return formatNumber(v.num)
	case Boolean:
		return strconv.FormatBool(v.b)
	case Null:
		return "null"
	}
	var buf bytes.Buffer
	v.appendJSON(&buf)
	return buf.String()
}

// MarshalJSON encodes the value as compact JSON, preserving object key order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	v.appendJSON(&buf)
	return buf.Bytes(), nil
}

func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v Value) appendJSON(buf *bytes.Buffer) {
	switch v.kind {
	case String:
		appendQuoted(buf, v.str)
	case Number:
		if math.IsInf(v.num, 0) || math.IsNaN(v.num) {
			buf.WriteString("null")
			return
		}
		buf.WriteString(formatNumber(v.num))
	case Boolean:
		buf.WriteString(strconv.FormatBool(v.b))
	case Null:
		buf.WriteString("null")
	case Array:
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			item.appendJSON(buf)
		}
		buf.WriteByte(']')
	case Object:
		buf.WriteByte('{')
		first := true
		for pair := v.obj.Oldest(); pair != nil; pair = pair.Next() {
			if !first {
				buf.WriteByte(',')
			}
			first = false
			appendQuoted(buf, pair.Key)
			buf.WriteByte(':')
			pair.Value.appendJSON(buf)
		}
		buf.WriteByte('}')
	}
}

func appendQuoted(buf *bytes.Buffer, s string) {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	// Encoding a string cannot fail.
	_ = enc.Encode(s)
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'}))
}

// formatNumber prints f in the shortest round-trip form used by JSON
// serializers in the ECMAScript family: plain decimals between 1e-6 and 1e21,
// exponent notation without zero padding outside that range.
func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	abs := math.Abs(f)
	if abs >= 1e21 || abs < 1e-6 {
		s := strconv.FormatFloat(f, 'e', -1, 64)
		mantissa, exp, _ := strings.Cut(s, "e")
		digits := strings.TrimLeft(exp[1:], "0")
		return mantissa + "e" + exp[:1] + digits
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
