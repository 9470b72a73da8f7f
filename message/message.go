// Package message defines the values exchanged with the server.
//
// Every call is a form-encoded POST whose response is an Envelope:
//
//	{"success": true,  "data": ...}
//	{"success": false, "msg": "reason"}
//
// Exactly one of Data and Msg is meaningful, selected by Success.
package message

import "encoding/json"

// Envelope is the response shape of every remote method, including each
// entry of a multicall response.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Msg     string          `json:"msg,omitempty"`
}

// OK builds a success envelope around an already-encoded payload.
func OK(data json.RawMessage) Envelope {
	return Envelope{Success: true, Data: data}
}

// Fail builds a failure envelope.
func Fail(msg string) Envelope {
	return Envelope{Success: false, Msg: msg}
}

// Session is the server-issued login session. Only Token is interpreted by
// the client; the remaining fields are kept verbatim in Raw.
type Session struct {
	Token string          `json:"token"`
	User  json.RawMessage `json:"user,omitempty"`
	Raw   json.RawMessage `json:"-"`
}

func (s *Session) UnmarshalJSON(b []byte) error {
	type plain Session
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*s = Session(p)
	s.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// MarshalJSON writes Raw when present so the server's fields survive a
// round trip.
func (s Session) MarshalJSON() ([]byte, error) {
	if len(s.Raw) > 0 {
		return s.Raw, nil
	}
	type plain Session
	return json.Marshal(plain(s))
}
