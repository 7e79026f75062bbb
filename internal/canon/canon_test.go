package canon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int", 42, "42"},
		{"negative int", -100, "-100"},
		{"max int64", int64(9223372036854775807), "9223372036854775807"},
		{"bool", true, "true"},
		{"null", nil, "null"},
		{"empty array", []int{}, "[]"},
		{"empty object", map[string]int{}, "{}"},
		{"array of ints", []int{1, 2, 3}, "[1,2,3]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalSortsStructFieldsByJSONName(t *testing.T) {
	type payload struct {
		Zebra string `json:"zebra"`
		Apple string `json:"apple"`
		Mango int    `json:"mango"`
	}

	result, err := Marshal(payload{Zebra: "z", Apple: "a", Mango: 3})
	require.NoError(t, err)
	assert.Equal(t, `{"apple":"a","mango":3,"zebra":"z"}`, string(result))
}

func TestMarshalNestedObjects(t *testing.T) {
	input := map[string]any{
		"z": map[string]any{"b": 1, "a": 2},
		"a": 3,
	}

	result, err := Marshal(input)
	require.NoError(t, err)
	assert.Equal(t, `{"a":3,"z":{"a":2,"b":1}}`, string(result))
}

func TestMarshalNoHTMLEscaping(t *testing.T) {
	result, err := Marshal("<Alice & Bob>")
	require.NoError(t, err)
	assert.Equal(t, `"<Alice & Bob>"`, string(result))
}

func TestMarshalLineSeparatorsLiteral(t *testing.T) {
	result, err := Marshal("a\u2028b\u2029c")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\u2029c\"", string(result))
}

func TestMarshalEscapesControlCharacters(t *testing.T) {
	result, err := Marshal("a\nb\x01")
	require.NoError(t, err)
	assert.Equal(t, `"a\nb\u0001"`, string(result))
}

func TestMarshalPreservesUnicodeForm(t *testing.T) {
	// e + combining acute accent stays decomposed.
	decomposed := "Jose\u0301"
	composed := "Jos\u00e9"

	a, err := Marshal(decomposed)
	require.NoError(t, err)
	b, err := Marshal(composed)
	require.NoError(t, err)
	assert.NotEqual(t, string(b), string(a))
	assert.Equal(t, "\"Jose\u0301\"", string(a))

	again, err := Canonicalize(a)
	require.NoError(t, err)
	assert.Equal(t, a, again)
}

func TestMarshalRejectsFloats(t *testing.T) {
	_, err := Marshal(1.5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	raw := []byte(`{ "b": [1, 2, {"y": true, "x": null}], "a": "s" }`)

	once, err := Canonicalize(raw)
	require.NoError(t, err)
	twice, err := Canonicalize(once)
	require.NoError(t, err)

	assert.Equal(t, `{"a":"s","b":[1,2,{"x":null,"y":true}]}`, string(once))
	assert.Equal(t, once, twice)
}

func TestUTF16KeyOrdering(t *testing.T) {
	// U+10000 encodes as a surrogate pair (0xD800...) and sorts before U+FFFF
	// in UTF-16 order even though it sorts after it in UTF-8 byte order.
	input := map[string]int{
		"\uffff":     1,
		"\U00010000": 2,
	}

	result, err := Marshal(input)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\uffff\":1}", string(result))
}

func TestFingerprintStable(t *testing.T) {
	a, err := Fingerprint(map[string]int{"x": 1, "y": 2})
	require.NoError(t, err)
	b, err := Fingerprint(map[string]int{"y": 2, "x": 1})
	require.NoError(t, err)
	c, err := Fingerprint(map[string]int{"x": 1, "y": 3})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
