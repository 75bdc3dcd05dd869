package codec_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wostzone/mqtttransport-go/pkg/codec"
)

func TestEncodeReserved(t *testing.T) {
	assert.Equal(t, "a%2fb", codec.Encode("a/b"))
	assert.Equal(t, "%23%2b%24", codec.Encode("#+$"))
	assert.Equal(t, "v1%2e2%5b0%5d", codec.Encode("v1.2[0]"))
	assert.Equal(t, "100%25", codec.Encode("100%"))
	// plain segments are unchanged
	assert.Equal(t, "sensor-1_temp", codec.Encode("sensor-1_temp"))
	assert.Equal(t, "", codec.Encode(""))
}

func TestEncodeHasNoReservedChars(t *testing.T) {
	inputs := []string{"a/b/c", "#", "+/+", "$SYS", "x.y", "[]", "%%", "ünï/cødé"}
	for _, in := range inputs {
		enc := codec.Encode(in)
		assert.NotContains(t, enc, "/")
		assert.NotContains(t, enc, "#")
		assert.NotContains(t, enc, "+")
		assert.NotContains(t, enc, "$")
		assert.NotContains(t, enc, ".")
		assert.NotContains(t, enc, "[")
		assert.NotContains(t, enc, "]")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	inputs := []string{"", "a", "a/b", "a%2fb", "%", "%zz", "#+$.[]/%", "ünï/cødé", "  spaced  "}
	for _, in := range inputs {
		dec, err := codec.Decode(codec.Encode(in))
		require.NoError(t, err)
		assert.Equal(t, in, dec)
	}
}

func TestEncodeIsInjective(t *testing.T) {
	// without escaping '%' these two would collide
	assert.NotEqual(t, codec.Encode("a/b"), codec.Encode("a%2fb"))
}

func TestDecodeForeignEscapes(t *testing.T) {
	// uppercase hex and escapes of non reserved characters are accepted
	dec, err := codec.Decode("a%2Fb%20c")
	require.NoError(t, err)
	assert.Equal(t, "a/b c", dec)

	// '+' is not a space in a topic segment
	dec, err = codec.Decode("a+b")
	require.NoError(t, err)
	assert.Equal(t, "a+b", dec)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := codec.Decode("bad%zz")
	assert.Error(t, err)
	_, err = codec.Decode("trailing%2")
	assert.Error(t, err)
}

func TestPackUnpack(t *testing.T) {
	value := map[string]interface{}{
		"temperature": 21.5,
		"unit":        "C",
		"ok":          true,
		"tags":        []interface{}{"a", "b"},
		"nested":      map[string]interface{}{"n": 1.0},
		"none":        nil,
	}
	payload, err := codec.Pack(value)
	require.NoError(t, err)

	value2, err := codec.Unpack(payload)
	require.NoError(t, err)
	assert.Equal(t, value, value2)
}

func TestUnpackInvalid(t *testing.T) {
	_, err := codec.Unpack([]byte("{not json"))
	assert.Error(t, err)

	_, err = codec.Unpack([]byte("[1,2,3]"))
	assert.Error(t, err)

	_, err = codec.Unpack([]byte("null"))
	assert.ErrorIs(t, err, codec.ErrNotAMapping)

	_, err = codec.Unpack([]byte(""))
	assert.Error(t, err)
}

func TestPackUnserializable(t *testing.T) {
	_, err := codec.Pack(map[string]interface{}{"fn": func() {}})
	assert.Error(t, err)
}
