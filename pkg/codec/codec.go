// Package codec converts cache values to and from the byte encoding stored by
// networked cache backends.
package codec

import "errors"

var (
	// ErrUnencodable wraps failures to encode a value.
	ErrUnencodable = errors.New("codec: value cannot be encoded")
	// ErrUndecodable wraps failures to decode a payload, such as a corrupted or
	// incompatible encoding.
	ErrUndecodable = errors.New("codec: payload cannot be decoded")
)

// Codec encodes and decodes values for cache storage.
type Codec interface {
	// Marshal serializes v into bytes.
	Marshal(v any) ([]byte, error)
	// Unmarshal deserializes data into v, which must be a non-nil pointer.
	Unmarshal(data []byte, v any) error
	// Name identifies the codec in logs.
	Name() string
}

// Default is the codec used by backends that are not given one explicitly.
var Default Codec = JSON{}
