// Package multicall sends several calls in one round trip.
//
// The batch travels as a single "content" parameter of multicall/multicall,
// a JSON array of {"method": ..., <params>..., "breaking": true?} objects.
// The server answers data.responses, one envelope per executed call in
// request order. A failing call marked Breaking stops the server from
// running the calls after it; those come back as Skipped results.
package multicall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"formrpc/client"
	"formrpc/codec"
	"formrpc/message"
)

// Method is the remote method that executes a batch.
const Method = "multicall/multicall"

var (
	ErrEmptyBatch        = errors.New("multicall: empty batch")
	ErrInvalidCall       = errors.New("multicall: call has no method")
	ErrMissingCallback   = errors.New("multicall: call is missing a callback")
	ErrSkipped           = errors.New("multicall: not executed")
	ErrMalformedResponse = errors.New("multicall: malformed response")
)

// Invoker performs one remote call; *client.Client satisfies it.
type Invoker interface {
	Call(ctx context.Context, method string, params message.Params) (json.RawMessage, error)
}

// Call is one entry of a batch. Response is filled in by Do.
type Call struct {
	Method   string
	Params   message.Params
	Breaking bool

	OnSuccess func(data json.RawMessage)
	OnError   func(env message.Envelope)

	Response *message.Envelope
}

// Result is the outcome of one call of a batch.
type Result struct {
	Index    int
	Method   string
	Envelope message.Envelope
	Skipped  bool
}

// OK reports whether the call ran and succeeded.
func (r Result) OK() bool {
	return !r.Skipped && r.Envelope.Success
}

// Err returns nil for a successful call, ErrSkipped for a call the server
// never ran and a *client.RemoteError otherwise.
func (r Result) Err() error {
	switch {
	case r.Skipped:
		return fmt.Errorf("%s: %w", r.Method, ErrSkipped)
	case r.Envelope.Success:
		return nil
	default:
		return &client.RemoteError{Method: r.Method, Msg: r.Envelope.Msg}
	}
}

// Decode unmarshals the data of a successful call into out.
func (r Result) Decode(out any) error {
	if err := r.Err(); err != nil {
		return err
	}
	if len(r.Envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(r.Envelope.Data, out)
}

// Batch is the outcome of Do.
type Batch struct {
	Raw     json.RawMessage // data of the outer call
	Results []Result
}

// All yields results in request order.
func (b *Batch) All() iter.Seq2[int, Result] {
	return func(yield func(int, Result) bool) {
		for i, r := range b.Results {
			if !yield(i, r) {
				return
			}
		}
	}
}

// Failed returns the results that did not succeed, skipped ones included.
func (b *Batch) Failed() []Result {
	var out []Result
	for _, r := range b.Results {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// Dispatcher sends batches through an Invoker.
type Dispatcher struct {
	invoker Invoker
	json    codec.Codec
	strict  bool
}

func New(invoker Invoker) *Dispatcher {
	return &Dispatcher{
		invoker: invoker,
		json:    codec.GetCodec(codec.CodecTypeJSON),
	}
}

// Strict returns a dispatcher that refuses calls lacking either callback.
func (d *Dispatcher) Strict() *Dispatcher {
	cp := *d
	cp.strict = true
	return &cp
}

// Do sends calls as one batch. Callbacks run synchronously in request
// order before Do returns. If the batch call itself fails, Do returns that
// error and no callback runs.
func (d *Dispatcher) Do(ctx context.Context, calls ...*Call) (*Batch, error) {
	if len(calls) == 0 {
		return nil, ErrEmptyBatch
	}
	content, err := d.encode(calls)
	if err != nil {
		return nil, err
	}

	data, err := d.invoker.Call(ctx, Method, message.Params{"content": message.String(content)})
	if err != nil {
		return nil, err
	}

	// A breaking failure only halts the calls after it, so the first
	// call always has a response.
	var reply struct {
		Responses *[]message.Envelope `json:"responses"`
	}
	if len(data) > 0 {
		if err := d.json.Decode(data, &reply); err != nil {
			return nil, fmt.Errorf("multicall: decode responses: %w", err)
		}
	}
	if reply.Responses == nil || len(*reply.Responses) == 0 {
		return nil, fmt.Errorf("%w: no responses for %d calls", ErrMalformedResponse, len(calls))
	}
	responses := *reply.Responses
	if len(responses) > len(calls) {
		return nil, fmt.Errorf("multicall: %d responses for %d calls", len(responses), len(calls))
	}

	batch := &Batch{Raw: data, Results: make([]Result, len(calls))}
	for i, call := range calls {
		res := Result{Index: i, Method: call.Method}
		if i >= len(responses) {
			res.Skipped = true
			batch.Results[i] = res
			continue
		}

		env := responses[i]
		call.Response = &env
		res.Envelope = env
		batch.Results[i] = res

		if env.Success {
			if call.OnSuccess != nil {
				call.OnSuccess(env.Data)
			}
		} else if call.OnError != nil {
			call.OnError(env)
		}
	}
	return batch, nil
}

// encode validates calls and renders the content parameter.
func (d *Dispatcher) encode(calls []*Call) (string, error) {
	wire := make([]map[string]any, len(calls))
	for i, call := range calls {
		if call == nil || strings.TrimSpace(call.Method) == "" {
			return "", fmt.Errorf("%w (index %d)", ErrInvalidCall, i)
		}
		if d.strict && (call.OnSuccess == nil || call.OnError == nil) {
			return "", fmt.Errorf("%w (index %d, %s)", ErrMissingCallback, i, call.Method)
		}

		obj := make(map[string]any, len(call.Params)+2)
		for k, v := range call.Params {
			obj[k] = v
		}
		obj["method"] = call.Method
		if call.Breaking {
			obj["breaking"] = true
		}
		wire[i] = obj
	}

	b, err := d.json.Encode(wire)
	if err != nil {
		return "", fmt.Errorf("multicall: encode content: %w", err)
	}
	return string(b), nil
}
