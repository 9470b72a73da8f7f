package codec

import (
	"fmt"
	"net/url"

	"formrpc/message"
)

// FormCodec encodes message.Params as a URL-encoded form body. Every value
// is sent as its string form; decoding therefore yields string values only.
type FormCodec struct{}

func (c *FormCodec) Encode(v any) ([]byte, error) {
	switch p := v.(type) {
	case message.Params:
		return []byte(EncodeForm(p)), nil
	case map[string]message.Value:
		return []byte(EncodeForm(p)), nil
	case url.Values:
		return []byte(p.Encode()), nil
	default:
		return nil, fmt.Errorf("codec: form cannot encode %T", v)
	}
}

func (c *FormCodec) Decode(data []byte, v any) error {
	p, ok := v.(*message.Params)
	if !ok {
		return fmt.Errorf("codec: form cannot decode into %T", v)
	}
	values, err := url.ParseQuery(string(data))
	if err != nil {
		return err
	}
	out := make(message.Params, len(values))
	for k, vs := range values {
		if len(vs) > 0 {
			out[k] = message.String(vs[len(vs)-1])
		}
	}
	*p = out
	return nil
}

func (c *FormCodec) Type() CodecType {
	return CodecTypeForm
}

func (c *FormCodec) ContentType() string {
	return "application/x-www-form-urlencoded"
}

// EncodeForm URL-encodes params with keys in sorted order.
func EncodeForm(params message.Params) string {
	values := make(url.Values, len(params))
	for k, v := range params {
		values.Set(k, v.String())
	}
	return values.Encode()
}
