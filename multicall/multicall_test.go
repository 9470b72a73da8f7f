package multicall

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"formrpc/client"
	"formrpc/message"
	"formrpc/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type invokerFunc func(ctx context.Context, method string, params message.Params) (json.RawMessage, error)

func (f invokerFunc) Call(ctx context.Context, method string, params message.Params) (json.RawMessage, error) {
	return f(ctx, method, params)
}

func replying(data string, sent *message.Params) Invoker {
	return invokerFunc(func(ctx context.Context, method string, params message.Params) (json.RawMessage, error) {
		if method != Method {
			return nil, errors.New("unexpected method " + method)
		}
		if sent != nil {
			*sent = params
		}
		return json.RawMessage(data), nil
	})
}

func TestDispatchInOrder(t *testing.T) {
	var events []string
	calls := []*Call{
		{
			Method:    "a",
			OnSuccess: func(data json.RawMessage) { events = append(events, "0 ok "+string(data)) },
			OnError:   func(env message.Envelope) { events = append(events, "0 err") },
		},
		{
			Method:    "b",
			Breaking:  true,
			OnSuccess: func(data json.RawMessage) { events = append(events, "1 ok") },
			OnError:   func(env message.Envelope) { events = append(events, "1 err "+env.Msg) },
		},
	}

	d := New(replying(`{"responses":[{"success":true,"data":1},{"success":false,"msg":"x"}]}`, nil))
	batch, err := d.Do(context.Background(), calls...)
	require.NoError(t, err)

	assert.Equal(t, []string{"0 ok 1", "1 err x"}, events)
	require.NotNil(t, calls[0].Response)
	assert.Equal(t, message.Envelope{Success: true, Data: json.RawMessage("1")}, *calls[0].Response)
	assert.Equal(t, message.Envelope{Success: false, Msg: "x"}, *calls[1].Response)

	require.Len(t, batch.Results, 2)
	assert.True(t, batch.Results[0].OK())
	assert.False(t, batch.Results[1].OK())
	var re *client.RemoteError
	require.ErrorAs(t, batch.Results[1].Err(), &re)
	assert.Equal(t, "x", re.Msg)

	var n int
	require.NoError(t, batch.Results[0].Decode(&n))
	assert.Equal(t, 1, n)
	assert.Len(t, batch.Failed(), 1)
}

func TestWireContent(t *testing.T) {
	var sent message.Params
	d := New(replying(`{"responses":[{"success":true},{"success":true}]}`, &sent))

	_, err := d.Do(context.Background(),
		&Call{Method: "user/get", Params: message.Params{"id": message.Int(7), "active": message.Bool(false)}},
		&Call{Method: "user/delete", Params: message.Params{"id": message.Int(8), "method": message.String("ignored")}, Breaking: true},
	)
	require.NoError(t, err)

	require.Len(t, sent, 1)
	assert.JSONEq(t,
		`[{"method":"user/get","id":7,"active":false},{"method":"user/delete","id":8,"breaking":true}]`,
		sent.Get("content"))
}

func TestOuterFailureFiresNoCallback(t *testing.T) {
	fired := false
	call := &Call{
		Method:    "a",
		OnSuccess: func(json.RawMessage) { fired = true },
		OnError:   func(message.Envelope) { fired = true },
	}

	for _, cause := range []error{
		&transport.Error{Method: Method, Err: errors.New("connection refused")},
		&client.RemoteError{Method: Method, Msg: "not logged in"},
	} {
		d := New(invokerFunc(func(context.Context, string, message.Params) (json.RawMessage, error) {
			return nil, cause
		}))
		batch, err := d.Do(context.Background(), call)
		assert.Nil(t, batch)
		assert.Same(t, cause, err)
		assert.False(t, fired)
		assert.Nil(t, call.Response)
	}
}

func TestShortResponseMarksSkipped(t *testing.T) {
	called := false
	d := New(replying(`{"responses":[{"success":false,"msg":"boom"}]}`, nil))

	batch, err := d.Do(context.Background(),
		&Call{Method: "a", Breaking: true},
		&Call{Method: "b", OnSuccess: func(json.RawMessage) { called = true }, OnError: func(message.Envelope) { called = true }},
	)
	require.NoError(t, err)
	assert.False(t, called)

	res := batch.Results[1]
	assert.True(t, res.Skipped)
	assert.ErrorIs(t, res.Err(), ErrSkipped)

	var seen []int
	for i, r := range batch.All() {
		seen = append(seen, i)
		assert.Equal(t, i, r.Index)
	}
	assert.Equal(t, []int{0, 1}, seen)
}

func TestTooManyResponses(t *testing.T) {
	d := New(replying(`{"responses":[{"success":true},{"success":true}]}`, nil))
	_, err := d.Do(context.Background(), &Call{Method: "a"})
	assert.Error(t, err)
}

func TestMissingResponsesIsMalformed(t *testing.T) {
	for _, reply := range []string{`{}`, `null`, `{"result":"ok"}`, `{"responses":[]}`, ``} {
		fired := false
		d := New(replying(reply, nil))
		batch, err := d.Do(context.Background(), &Call{
			Method:    "a",
			OnSuccess: func(json.RawMessage) { fired = true },
			OnError:   func(message.Envelope) { fired = true },
		})
		assert.ErrorIs(t, err, ErrMalformedResponse, "reply %q", reply)
		assert.Nil(t, batch, "reply %q", reply)
		assert.False(t, fired, "reply %q", reply)
	}
}

func TestValidation(t *testing.T) {
	d := New(invokerFunc(func(context.Context, string, message.Params) (json.RawMessage, error) {
		t.Fatal("nothing should be sent")
		return nil, nil
	}))

	_, err := d.Do(context.Background())
	assert.ErrorIs(t, err, ErrEmptyBatch)

	_, err = d.Do(context.Background(), &Call{Method: "a"}, &Call{Method: " "})
	assert.ErrorIs(t, err, ErrInvalidCall)

	_, err = d.Do(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidCall)

	_, err = d.Strict().Do(context.Background(), &Call{Method: "a", OnSuccess: func(json.RawMessage) {}})
	assert.ErrorIs(t, err, ErrMissingCallback)
}
