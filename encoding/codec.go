// Package encoding serializes payloads published to external sinks.
// Struct fields are named by their json tags in both formats, so a consumer
// sees the same keys whichever format is configured.
package encoding

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Format names a wire format.
type Format string

const (
	JSON    Format = "json"
	MsgPack Format = "msgpack"
)

// ParseFormat accepts "json", "msgpack" or empty (json).
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", JSON:
		return JSON, nil
	case MsgPack:
		return MsgPack, nil
	default:
		return "", fmt.Errorf("unknown encoding format: %q", s)
	}
}

// ContentType is the MIME type carried alongside encoded payloads.
func (f Format) ContentType() string {
	if f == MsgPack {
		return "application/msgpack"
	}
	return "application/json"
}

// Marshal encodes v in format f.
func (f Format) Marshal(v interface{}) ([]byte, error) {
	if f == MsgPack {
		return Marshal(v)
	}
	return json.Marshal(v)
}

// Unmarshal decodes data in format f into v.
func (f Format) Unmarshal(data []byte, v interface{}) error {
	if f == MsgPack {
		return Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")

	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes msgpack data. Strings decoded into interface{} stay Go
// strings rather than []byte.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	dec.UseLooseInterfaceDecoding(true)

	return dec.Decode(v)
}
