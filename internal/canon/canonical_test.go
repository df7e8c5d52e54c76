package canon

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"null", nil, "null"},
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int", 42, "42"},
		{"negative int", int64(-100), "-100"},
		{"zero", 0, "0"},
		{"bool true", true, "true"},
		{"bool false", false, "false"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"array of ints", []any{1, 2, 3}, "[1,2,3]"},
		{"simple object", map[string]any{"a": 1}, `{"a":1}`},
		{"nil map", map[string]any(nil), "null"},
		{"nil slice", []any(nil), "null"},
		{"array keeps order", []any{"b", "a", "c"}, `["b","a","c"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Canonical(tt.input))
		})
	}
}

func TestCanonicalSortedKeys(t *testing.T) {
	obj := map[string]any{
		"zebra": 1,
		"alpha": 2,
		"beta":  3,
	}
	assert.Equal(t, `{"alpha":2,"beta":3,"zebra":1}`, Canonical(obj))
}

func TestCanonicalNestedSortedKeys(t *testing.T) {
	obj := map[string]any{
		"z": map[string]any{
			"b": 1,
			"a": 2,
		},
		"a": []any{map[string]any{"y": true, "x": nil}},
	}
	assert.Equal(t, `{"a":[{"x":null,"y":true}],"z":{"a":2,"b":1}}`, Canonical(obj))
}

func TestCanonicalUTF16Ordering(t *testing.T) {
	// U+E000 sorts after U+10000 in UTF-16 (0xD800 surrogate) but before it in UTF-8.
	obj := map[string]any{
		"\uE000": 1,
		"𐀀":      2,
	}
	expected := `{"𐀀":2,"` + "\uE000" + `":1}`
	assert.Equal(t, expected, Canonical(obj))
}

func TestCanonicalStringEscapes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"html is not escaped", "<script>a & b</script>", `"<script>a & b</script>"`},
		{"quote and backslash", `say "hi" \o/`, `"say \"hi\" \\o/"`},
		{"short escapes", "a\nb\tc\rd\be\ff", `"a\nb\tc\rd\be\ff"`},
		{"other control chars", "\x00\x1f", `"\u0000\u001f"`},
		{"line separators stay raw", "a\u2028b\u2029c", "\"a\u2028b\u2029c\""},
		{"non ascii stays raw", "héllo 世界", `"héllo 世界"`},
		{"invalid utf8 becomes replacement", "a\xffb", "\"a\uFFFDb\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Canonical(tt.input))
		})
	}
}

func TestCanonicalNumbers(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"integral float", float64(1), "1"},
		{"fraction", 1.5, "1.5"},
		{"json number with trailing zero", json.Number("1.0"), "1"},
		{"json number integer", json.Number("42"), "42"},
		{"large integral", 1.2345678901234568e20, "123456789012345680000"},
		{"exponent threshold", 1e21, "1e+21"},
		{"small exponent", 1e-7, "1e-7"},
		{"small plain", 0.000001, "0.000001"},
		{"negative zero", math.Copysign(0, -1), "0"},
		{"nan", math.NaN(), "null"},
		{"infinity", math.Inf(1), "null"},
		{"float32", float32(0.5), "0.5"},
		{"uint", uint(7), "7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Canonical(tt.input))
		})
	}
}

func TestCanonicalIntAndDecodedNumberAgree(t *testing.T) {
	var decoded map[string]any
	dec := json.NewDecoder(strings.NewReader(`{"id": 42, "hp": 12.0}`))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&decoded))

	literal := map[string]any{"id": 42, "hp": 12}
	assert.Equal(t, Canonical(literal), Canonical(decoded))
}

func TestCanonicalNamedTypes(t *testing.T) {
	type record map[string]any
	type ids []string

	v := record{"b": ids{"2", "1"}, "a": "x"}
	assert.Equal(t, `{"a":"x","b":["2","1"]}`, Canonical(v))
}

func TestCanonicalStructRoundTrip(t *testing.T) {
	type room struct {
		Name  string `json:"name"`
		ID    string `json:"id"`
		Extra string `json:"extra,omitempty"`
	}
	assert.Equal(t, `{"id":"r1","name":"Lobby"}`, Canonical(room{ID: "r1", Name: "Lobby"}))
	assert.Equal(t, `{"id":"r1","name":"Lobby"}`, Canonical(&room{ID: "r1", Name: "Lobby"}))
}

func TestCanonicalUnrepresentable(t *testing.T) {
	assert.Equal(t, "null", Canonical(make(chan int)))
	assert.Equal(t, `{"f":null}`, Canonical(map[string]any{"f": func() {}}))
}

func TestCanonicalCycleGuard(t *testing.T) {
	t.Run("map references itself", func(t *testing.T) {
		m := map[string]any{"a": 1}
		m["self"] = m
		assert.Equal(t, `{"a":1,"self":"[Circular]"}`, Canonical(m))
	})

	t.Run("slice references itself", func(t *testing.T) {
		s := make([]any, 1)
		s[0] = s
		assert.Equal(t, `["[Circular]"]`, Canonical(s))
	})

	t.Run("shared reference is not a cycle", func(t *testing.T) {
		shared := map[string]any{"x": 1}
		v := map[string]any{"a": shared, "b": shared}
		assert.Equal(t, `{"a":{"x":1},"b":{"x":1}}`, Canonical(v))
	})

	t.Run("indirect cycle", func(t *testing.T) {
		a := map[string]any{}
		b := map[string]any{"a": a}
		a["b"] = b
		assert.Equal(t, `{"b":{"a":"[Circular]"}}`, Canonical(a))
	})
}

func TestCompareUTF16(t *testing.T) {
	assert.Equal(t, 0, compareUTF16("abc", "abc"))
	assert.Equal(t, -1, compareUTF16("ab", "abc"))
	assert.Equal(t, 1, compareUTF16("b", "abc"))
	assert.Equal(t, -1, compareUTF16("𐀀", "\uE000"))
}
