package canon

import (
	"bytes"
	"encoding/json"
	"math"
	"reflect"
	"slices"
	"strconv"
	"unicode/utf16"
	"unicode/utf8"
)

// CircularMarker replaces a map or slice that is already being serialized
// further up the current path.
const CircularMarker = "[Circular]"

// Canonical returns the canonical JSON text of v.
//
// Structurally equal values produce byte-identical output regardless of map
// iteration order. The output is the hashing input for Hash; it is not meant
// to be parsed back.
func Canonical(v any) string {
	e := &encoder{}
	e.value(v)
	return e.buf.String()
}

type encoder struct {
	buf bytes.Buffer
	// path holds the maps and slices currently being serialized.
	path []uintptr
}

func (e *encoder) value(v any) {
	switch val := v.(type) {
	case nil:
		e.buf.WriteString("null")
	case bool:
		if val {
			e.buf.WriteString("true")
		} else {
			e.buf.WriteString("false")
		}
	case string:
		e.string(val)
	case json.Number:
		f, err := strconv.ParseFloat(string(val), 64)
		if err != nil {
			e.buf.WriteString("null")
			return
		}
		e.number(f)
	case float64:
		e.number(val)
	case float32:
		e.number(float64(val))
	case int:
		e.number(float64(val))
	case int64:
		e.number(float64(val))
	case int32:
		e.number(float64(val))
	case uint64:
		e.number(float64(val))
	case uint32:
		e.number(float64(val))
	case map[string]any:
		e.object(reflect.ValueOf(val))
	case []any:
		e.array(reflect.ValueOf(val))
	default:
		e.reflectValue(reflect.ValueOf(v))
	}
}

// reflectValue handles named map and slice types (entities, id lists) and
// falls back to a JSON round trip for everything else.
func (e *encoder) reflectValue(rv reflect.Value) {
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			e.object(rv)
			return
		}
	case reflect.Slice:
		if rv.Type().Elem().Kind() != reflect.Uint8 {
			e.array(rv)
			return
		}
	case reflect.Array:
		e.array(rv)
		return
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			e.buf.WriteString("null")
			return
		}
		e.value(rv.Elem().Interface())
		return
	case reflect.String:
		e.string(rv.String())
		return
	case reflect.Bool:
		e.value(rv.Bool())
		return
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.number(float64(rv.Int()))
		return
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		e.number(float64(rv.Uint()))
		return
	case reflect.Float32, reflect.Float64:
		e.number(rv.Float())
		return
	}
	e.roundTrip(rv.Interface())
}

// roundTrip re-decodes v through encoding/json so struct tags and custom
// marshalers are honored.
func (e *encoder) roundTrip(v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		e.buf.WriteString("null")
		return
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		e.buf.WriteString("null")
		return
	}
	e.value(decoded)
}

// enter records a container on the recursion path. It returns false when the
// container is already being serialized.
func (e *encoder) enter(rv reflect.Value) bool {
	if rv.Kind() == reflect.Array || rv.Len() == 0 {
		return true
	}
	p := rv.Pointer()
	if slices.Contains(e.path, p) {
		return false
	}
	e.path = append(e.path, p)
	return true
}

func (e *encoder) leave(rv reflect.Value) {
	if rv.Kind() == reflect.Array || rv.Len() == 0 {
		return
	}
	e.path = e.path[:len(e.path)-1]
}

func (e *encoder) array(rv reflect.Value) {
	if rv.Kind() == reflect.Slice && rv.IsNil() {
		e.buf.WriteString("null")
		return
	}
	if !e.enter(rv) {
		e.string(CircularMarker)
		return
	}
	defer e.leave(rv)

	e.buf.WriteByte('[')
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		e.value(rv.Index(i).Interface())
	}
	e.buf.WriteByte(']')
}

func (e *encoder) object(rv reflect.Value) {
	if rv.IsNil() {
		e.buf.WriteString("null")
		return
	}
	if !e.enter(rv) {
		e.string(CircularMarker)
		return
	}
	defer e.leave(rv)

	keys := make([]string, 0, rv.Len())
	for _, k := range rv.MapKeys() {
		keys = append(keys, k.String())
	}
	slices.SortFunc(keys, compareUTF16)

	e.buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		e.string(k)
		e.buf.WriteByte(':')
		e.value(rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface())
	}
	e.buf.WriteByte('}')
}

// number writes f the way ECMAScript Number#toString does, which is also
// what encoding/json emits for float64.
func (e *encoder) number(f float64) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		e.buf.WriteString("null")
		return
	}
	if f == 0 {
		// -0 prints as 0
		e.buf.WriteByte('0')
		return
	}

	format := byte('f')
	if abs := math.Abs(f); abs < 1e-6 || abs >= 1e21 {
		format = 'e'
	}
	b := strconv.AppendFloat(nil, f, format, -1, 64)
	if format == 'e' {
		// 1e-07 -> 1e-7
		n := len(b)
		if n >= 4 && b[n-4] == 'e' && b[n-3] == '-' && b[n-2] == '0' {
			b[n-2] = b[n-1]
			b = b[:n-1]
		}
	}
	e.buf.Write(b)
}

const hexDigits = "0123456789abcdef"

// string writes s quoted and escaped like JSON.stringify: only the quote,
// the backslash and control characters are escaped.
func (e *encoder) string(s string) {
	e.buf.WriteByte('"')
	for i := 0; i < len(s); {
		c := s[i]
		if c < utf8.RuneSelf {
			switch c {
			case '"':
				e.buf.WriteString(`\"`)
			case '\\':
				e.buf.WriteString(`\\`)
			case '\b':
				e.buf.WriteString(`\b`)
			case '\f':
				e.buf.WriteString(`\f`)
			case '\n':
				e.buf.WriteString(`\n`)
			case '\r':
				e.buf.WriteString(`\r`)
			case '\t':
				e.buf.WriteString(`\t`)
			default:
				if c < 0x20 {
					e.buf.WriteString(`\u00`)
					e.buf.WriteByte(hexDigits[c>>4])
					e.buf.WriteByte(hexDigits[c&0xf])
				} else {
					e.buf.WriteByte(c)
				}
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			e.buf.WriteRune(utf8.RuneError)
		} else {
			e.buf.WriteString(s[i : i+size])
		}
		i += size
	}
	e.buf.WriteByte('"')
}

// compareUTF16 orders strings by UTF-16 code units. Go compares strings by
// UTF-8 bytes, which disagrees for characters above U+FFFF.
func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}
