// Package codec converts between Go values and the bytes on the wire.
//
// Requests travel as application/x-www-form-urlencoded bodies (FormCodec),
// responses and multicall content as JSON (JSONCodec).
package codec

type CodecType byte

const (
	CodecTypeJSON CodecType = 0
	CodecTypeForm CodecType = 1
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType
	ContentType() string
}

func GetCodec(codecType CodecType) Codec {
	if codecType == CodecTypeForm {
		return &FormCodec{}
	}

	return &JSONCodec{}
}
