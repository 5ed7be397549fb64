package database

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// ParamType is the declared type of a bound parameter. It drives the coercion
// applied when the statement runs and when it is reconstructed.
type ParamType int

const (
	ParamStr ParamType = iota
	ParamInt
	ParamBool
	ParamNull
)

// NoMaxLength marks a bound parameter without a length limit.
const NoMaxLength = -1

func (t ParamType) String() string {
	switch t {
	case ParamStr:
		return "string"
	case ParamInt:
		return "int"
	case ParamBool:
		return "bool"
	case ParamNull:
		return "null"
	default:
		return "type(" + strconv.Itoa(int(t)) + ")"
	}
}

// Bindings is a set of parameter values handed to Query, Exec or Execute.
// It is implemented by Params (named placeholders) and Args (positional).
type Bindings interface {
	bindTo(s *Stmt)
	empty() bool
}

// Params binds named placeholders. Keys may carry the placeholder prefix
// (":id") or not ("id").
type Params map[string]any

// Args binds positional placeholders; the first element is ordinal 1.
type Args []any

func (p Params) bindTo(s *Stmt) {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s.BindValue(k, p[k], ParamStr)
	}
}

func (p Params) empty() bool { return len(p) == 0 }

func (a Args) bindTo(s *Stmt) {
	for i, v := range a {
		s.BindValueAt(i+1, v, ParamStr)
	}
}

func (a Args) empty() bool { return len(a) == 0 }

func isEmpty(b Bindings) bool {
	return b == nil || b.empty()
}

// paramKey identifies a placeholder: a name without its prefix, or a 1-based
// ordinal when name is empty.
type paramKey struct {
	name string
	pos  int
}

func namedKey(name string) (paramKey, error) {
	trimmed := strings.TrimLeft(strings.TrimSpace(name), ":@$")
	if trimmed == "" {
		return paramKey{}, fmt.Errorf("invalid parameter name %q", name)
	}
	return paramKey{name: trimmed}, nil
}

func positionalKey(pos int) (paramKey, error) {
	if pos < 1 {
		return paramKey{}, fmt.Errorf("invalid parameter position %d", pos)
	}
	return paramKey{pos: pos}, nil
}

func (k paramKey) String() string {
	if k.name != "" {
		return ":" + k.name
	}
	return "#" + strconv.Itoa(k.pos)
}

// boundParam is one entry of a statement's bindings. Exactly one of value or
// ref is meaningful: ref is a live pointer read at execute and reconstruct
// time.
type boundParam struct {
	value  any
	ref    reflect.Value
	isRef  bool
	typ    ParamType
	maxLen int
}

// current resolves the value the parameter holds right now.
func (p boundParam) current() any {
	if !p.isRef {
		return p.value
	}
	v := p.ref.Elem()
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	return v.Interface()
}

func liveRef(ref any) (reflect.Value, error) {
	rv := reflect.ValueOf(ref)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return reflect.Value{}, fmt.Errorf("bind by reference needs a non-nil pointer, got %T", ref)
	}
	return rv, nil
}
