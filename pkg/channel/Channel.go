// Package channel maps thing ids and bands to MQTT topics and back
package channel

import (
	"path"
	"strings"

	"github.com/wostzone/mqtttransport-go/pkg/codec"
)

// TopicSeparator separates topic levels
const TopicSeparator = "/"

// MultiLevelWildcard matches any number of topic levels
const MultiLevelWildcard = "#"

// root returns the normalized prefix. An empty or '.' prefix means topics have no prefix.
func root(prefix string) string {
	if prefix == "" {
		return ""
	}
	p := path.Clean(prefix)
	if p == "." {
		return ""
	}
	return p
}

// Channel returns the topic for the band of a thing: prefix/id/band.
// id and band are encoded so they occupy a single topic level each. An empty band results
// in the thing's topic prefix/id and an empty id in the prefix itself.
func Channel(prefix string, id string, band string) string {
	p := root(prefix)
	if id == "" {
		return p
	}
	if band == "" {
		return path.Join(p, codec.Encode(id))
	}
	return path.Join(p, codec.Encode(id), codec.Encode(band))
}

// Wildcard returns the filter that matches all topics below the prefix
func Wildcard(prefix string) string {
	return path.Join(root(prefix), MultiLevelWildcard)
}

// Unchannel extracts the id and band from a topic created with Channel.
// ok is false when the topic is not below the prefix, does not have exactly an id and band
// level, or holds a segment that cannot be decoded.
func Unchannel(prefix string, topic string) (id string, band string, ok bool) {
	var rest string
	p := root(prefix)
	switch {
	case p == "":
		rest = topic
	case strings.HasSuffix(p, TopicSeparator):
		// the prefix "/"
		if !strings.HasPrefix(topic, p) {
			return "", "", false
		}
		rest = topic[len(p):]
	default:
		if !strings.HasPrefix(topic, p+TopicSeparator) {
			return "", "", false
		}
		rest = topic[len(p)+1:]
	}
	parts := strings.Split(rest, TopicSeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	id, err := codec.Decode(parts[0])
	if err != nil {
		return "", "", false
	}
	band, err = codec.Decode(parts[1])
	if err != nil {
		return "", "", false
	}
	return id, band, true
}
