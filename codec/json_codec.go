package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// ErrTrailingData is returned when a JSON document is followed by more input.
var ErrTrailingData = errors.New("codec: trailing data after JSON value")

// JSONCodec decodes response envelopes and encodes multicall content.
// Decoding uses json.Number so integer parameters survive without a detour
// through float64.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); err != io.EOF {
		return ErrTrailingData
	}
	return nil
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}

func (c *JSONCodec) ContentType() string {
	return "application/json"
}
