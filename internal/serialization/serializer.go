// Package serialization provides the codec used for persisted records: a
// one-byte format prefix followed by the encoded body. JSON is the default;
// protobuf is available for structured agent payloads that implement
// proto.Message.
package serialization

import (
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/proto"
)

// Format identifies the encoding of a stored record
type Format byte

const (
	// FormatJSON is the default encoding for fire-history records and
	// anything read by humans over redis-cli
	FormatJSON Format = 0x00

	// FormatProtobuf encodes proto.Message values compactly
	FormatProtobuf Format = 0x01
)

var (
	// ErrUnknownFormat is returned when the record's format byte is not recognized
	ErrUnknownFormat = errors.New("unknown record format")

	// ErrEncodeFailed is returned when encoding fails
	ErrEncodeFailed = errors.New("failed to encode record")

	// ErrDecodeFailed is returned when decoding fails
	ErrDecodeFailed = errors.New("failed to decode record")
)

// Codec encodes and decodes records with format detection
type Codec struct {
	// DefaultFormat is used when encoding new records
	DefaultFormat Format
}

// NewJSONCodec returns a codec that encodes to JSON
func NewJSONCodec() *Codec {
	return &Codec{DefaultFormat: FormatJSON}
}

// NewProtobufCodec returns a codec that encodes proto.Message values to protobuf
func NewProtobufCodec() *Codec {
	return &Codec{DefaultFormat: FormatProtobuf}
}

// Encode serializes v using the codec's default format, prefixing the format byte
func (c *Codec) Encode(v interface{}) ([]byte, error) {
	return c.EncodeWithFormat(v, c.DefaultFormat)
}

// EncodeWithFormat serializes v using the given format, prefixing the format byte
func (c *Codec) EncodeWithFormat(v interface{}, format Format) ([]byte, error) {
	var body []byte
	var err error

	switch format {
	case FormatJSON:
		body, err = json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w (JSON): %v", ErrEncodeFailed, err)
		}
	case FormatProtobuf:
		msg, ok := v.(proto.Message)
		if !ok {
			return nil, fmt.Errorf("%w: value does not implement proto.Message", ErrEncodeFailed)
		}
		body, err = proto.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("%w (protobuf): %v", ErrEncodeFailed, err)
		}
	default:
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownFormat, byte(format))
	}

	out := make([]byte, len(body)+1)
	out[0] = byte(format)
	copy(out[1:], body)
	return out, nil
}

// Decode deserializes data into v, detecting the format from the prefix byte.
// Records written before the prefix existed are accepted as bare JSON.
func (c *Codec) Decode(data []byte, v interface{}) error {
	format, body, err := c.DetectFormat(data)
	if err != nil {
		return err
	}

	switch format {
	case FormatJSON:
		if err := json.Unmarshal(body, v); err != nil {
			return fmt.Errorf("%w (JSON): %v", ErrDecodeFailed, err)
		}
	case FormatProtobuf:
		msg, ok := v.(proto.Message)
		if !ok {
			return fmt.Errorf("%w: value does not implement proto.Message", ErrDecodeFailed)
		}
		if err := proto.Unmarshal(body, msg); err != nil {
			return fmt.Errorf("%w (protobuf): %v", ErrDecodeFailed, err)
		}
	default:
		return fmt.Errorf("%w: 0x%02X", ErrUnknownFormat, byte(format))
	}
	return nil
}

// DetectFormat returns the record's format and its body without the prefix
func (c *Codec) DetectFormat(data []byte) (Format, []byte, error) {
	if len(data) == 0 {
		return FormatJSON, nil, fmt.Errorf("%w: empty record", ErrDecodeFailed)
	}

	switch Format(data[0]) {
	case FormatJSON, FormatProtobuf:
		if len(data) < 2 {
			return Format(data[0]), nil, fmt.Errorf("%w: record too short", ErrDecodeFailed)
		}
		return Format(data[0]), data[1:], nil
	}

	// Bare JSON written without a prefix
	if data[0] == '{' || data[0] == '[' {
		return FormatJSON, data, nil
	}

	return FormatJSON, data, fmt.Errorf("%w: byte 0x%02X", ErrUnknownFormat, data[0])
}

// IsProtobuf reports whether data carries a protobuf record
func (c *Codec) IsProtobuf(data []byte) bool {
	return len(data) > 0 && Format(data[0]) == FormatProtobuf
}

// IsJSON reports whether data carries a JSON record (prefixed or bare)
func (c *Codec) IsJSON(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	return Format(data[0]) == FormatJSON || data[0] == '{' || data[0] == '['
}
