// Package codec converts ids and bands into topic segments and values into message payloads
package codec

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
)

// ReservedChars are the characters that are escaped in a topic segment.
// Escaping '%' itself keeps the encoding reversible.
const ReservedChars = "/#+$%.[]"

// ErrNotAMapping is returned when a payload does not hold a JSON object
var ErrNotAMapping = errors.New("codec: payload is not a JSON object")

// Encode a string so it can be used as a single topic segment.
// Reserved characters are replaced by '%' followed by their two digit lowercase hex code.
func Encode(segment string) string {
	if !strings.ContainsAny(segment, ReservedChars) {
		return segment
	}
	var sb strings.Builder
	sb.Grow(len(segment) + 8)
	for i := 0; i < len(segment); i++ {
		c := segment[i]
		if strings.IndexByte(ReservedChars, c) >= 0 {
			fmt.Fprintf(&sb, "%%%02x", c)
		} else {
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// Decode a topic segment produced by Encode.
// Any percent escape is accepted. Malformed escapes return an error.
func Decode(segment string) (string, error) {
	if !strings.Contains(segment, "%") {
		return segment, nil
	}
	return url.PathUnescape(segment)
}

// Pack serializes a value into a JSON payload
func Pack(value interface{}) ([]byte, error) {
	return json.Marshal(value)
}

// Unpack parses a JSON payload holding an object
func Unpack(payload []byte) (map[string]interface{}, error) {
	var value map[string]interface{}
	err := json.Unmarshal(payload, &value)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return nil, ErrNotAMapping
	}
	return value, nil
}
