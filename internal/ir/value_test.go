package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalValue_Scalars(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Value
	}{
		{"string", `"alice"`, String("alice")},
		{"int", `42`, Int(42)},
		{"negative", `-7`, Int(-7)},
		{"bool", `true`, Bool(true)},
		{"null", `null`, Null{}},
		{"u128 balance", `340282366920938463463374607431768211455`, String("340282366920938463463374607431768211455")},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := UnmarshalValue([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnmarshalValue_RejectsFloats(t *testing.T) {
	_, err := UnmarshalValue([]byte(`1.5`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats")

	_, err = UnmarshalValue([]byte(`{"amount": 1e3}`))
	require.Error(t, err)
}

func TestObject_UnmarshalJSON_Nested(t *testing.T) {
	var obj Object
	err := json.Unmarshal([]byte(`{"dispatchError":{"Module":{"index":3,"error":7}},"weight":[1,2]}`), &obj)
	require.NoError(t, err)

	idx, err := obj.Uint32("dispatchError", "Module", "index")
	require.NoError(t, err)
	assert.Equal(t, uint32(3), idx)

	v, ok := obj.Lookup("weight")
	require.True(t, ok)
	assert.Equal(t, Array{Int(1), Int(2)}, v)
}

func TestObject_MarshalJSON_SortedKeys(t *testing.T) {
	obj := Obj(O("z", Int(1)), O("a", String("x")), O("m", Bool(false)))

	b, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","m":false,"z":1}`, string(b))
}

func TestSortedKeys_UTF16Order(t *testing.T) {
	// U+1F600 encodes as surrogates 0xD83D..., which sort before U+FF5E in UTF-16
	// but after it in UTF-8.
	obj := Object{"\U0001F600": Int(1), "～": Int(2)}
	assert.Equal(t, []string{"\U0001F600", "～"}, obj.SortedKeys())
}

func TestEqual(t *testing.T) {
	a := Obj(O("amount", Int(100)), O("tags", Array{String("x")}))
	b := Obj(O("tags", Array{String("x")}), O("amount", Int(100)))
	c := Obj(O("amount", Int(101)), O("tags", Array{String("x")}))

	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, c))
	assert.False(t, Equal(Int(1), String("1")))
	assert.True(t, Equal(Null{}, Null{}))
}

func TestUint32_AcceptsDecimalString(t *testing.T) {
	obj := Obj(O("index", String("12")))
	n, err := obj.Uint32("index")
	require.NoError(t, err)
	assert.Equal(t, uint32(12), n)

	_, err = Obj(O("index", Int(-1))).Uint32("index")
	assert.Error(t, err)

	_, err = obj.Uint32("missing")
	assert.Error(t, err)
}

func TestClone_IsDeep(t *testing.T) {
	orig := Obj(O("inner", Obj(O("n", Int(1)))))
	cp := Clone(orig).(Object)
	cp["inner"].(Object)["n"] = Int(2)

	assert.Equal(t, Int(1), orig["inner"].(Object)["n"])
}
