package server

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"unicode"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	requestType = reflect.TypeOf((*Request)(nil))
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	anyType     = reflect.TypeOf((*any)(nil)).Elem()
)

// Register exposes the exported methods of rcvr that have the signature
//
//	func (ctx context.Context, req *Request) (any, error)
//
// as "<service>/<method>" where both names are snake_cased: the method
// KeepAlive of *Session becomes "session/keep_alive". It returns the
// registered method names. Methods tagged auth in authMethods require a
// session.
func (s *Server) Register(rcvr any, authMethods ...string) ([]string, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr || typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("server: rcvr must be a pointer to a struct, got %T", rcvr)
	}
	val := reflect.ValueOf(rcvr)
	service := snakeCase(typ.Elem().Name())

	auth := make(map[string]bool, len(authMethods))
	for _, m := range authMethods {
		auth[m] = true
	}

	var names []string
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		if !isHandler(method.Type) {
			continue
		}
		fn := val.Method(i)
		h := func(ctx context.Context, req *Request) (any, error) {
			out := fn.Call([]reflect.Value{reflect.ValueOf(ctx), reflect.ValueOf(req)})
			if !out[1].IsNil() {
				return nil, out[1].Interface().(error)
			}
			return out[0].Interface(), nil
		}

		name := service + "/" + snakeCase(method.Name)
		if auth[method.Name] || auth[name] {
			s.HandleAuth(name, h)
		} else {
			s.Handle(name, h)
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("server: %s has no handler methods", typ)
	}
	return names, nil
}

// isHandler checks the method type including its receiver.
func isHandler(t reflect.Type) bool {
	return t.NumIn() == 3 && t.NumOut() == 2 &&
		t.In(1) == contextType && t.In(2) == requestType &&
		t.Out(0) == anyType && t.Out(1) == errorType
}

func snakeCase(name string) string {
	var b strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
