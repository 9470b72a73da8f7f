package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"formrpc/message"
)

// parseParams turns "key=value" into string params and "key:=json" into
// typed params, so "n:=0" and "flag:=false" keep their kinds.
func parseParams(args []string) (message.Params, error) {
	params := make(message.Params, len(args))
	for _, arg := range args {
		if key, raw, ok := strings.Cut(arg, ":="); ok && !strings.Contains(key, "=") {
			var v any
			dec := json.NewDecoder(strings.NewReader(raw))
			dec.UseNumber()
			if err := dec.Decode(&v); err != nil {
				return nil, fmt.Errorf("param %q: %w", key, err)
			}
			val, err := message.ValueOf(v)
			if err != nil {
				return nil, fmt.Errorf("param %q: %w", key, err)
			}
			params[key] = val
			continue
		}
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("param %q: want key=value or key:=json", arg)
		}
		params[key] = message.String(value)
	}
	return params, nil
}
