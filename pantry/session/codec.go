package session

import (
	"bytes"
	"encoding/json"
	"errors"
)

var errTrailingData = errors.New("trailing data after value")

// Codec serializes attribute values for storage.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
}

// JSONCodec stores attributes as JSON. Numbers decode as float64, objects
// as map[string]any and arrays as []any.
type JSONCodec struct{}

// Marshal implements Codec.
func (JSONCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal implements Codec. Trailing data after the first value is an
// error so a truncated or concatenated field is reported as corrupt.
func (JSONCodec) Unmarshal(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errTrailingData
	}
	return v, nil
}
