package capture

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Value is one captured argument. Value kinds are boxed by copy when
// captured, so later writes to the caller's storage do not reach the record.
// Reference kinds keep pointing at the caller's object.
type Value struct {
	typ reflect.Type
	v   any
	ref bool
}

func captureValue(declared reflect.Type, arg reflect.Value) Value {
	if !arg.IsValid() {
		return Value{typ: declared, ref: true}
	}
	v := arg.Interface()
	return Value{typ: declared, v: v, ref: isReference(arg)}
}

func isReference(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return true
	case reflect.Interface:
		if v.IsNil() {
			return true
		}
		return isReference(v.Elem())
	default:
		return false
	}
}

// Type returns the declared parameter type, not the dynamic type.
func (v Value) Type() reflect.Type {
	return v.typ
}

// Interface returns the captured value.
func (v Value) Interface() any {
	return v.v
}

// IsReference reports whether the value refers to caller-owned storage.
func (v Value) IsReference() bool {
	return v.ref
}

// IsNil reports whether nothing, or a nil reference, was captured.
func (v Value) IsNil() bool {
	if v.v == nil {
		return true
	}
	if !v.ref {
		return false
	}
	rv := reflect.ValueOf(v.v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

func (v Value) String() string {
	return fmt.Sprint(v.v)
}

// Record is one captured firing: the arguments in declared order.
type Record struct {
	seq    uint64
	at     time.Time
	values []Value
}

func newRecord(values []Value) Record {
	return Record{at: time.Now(), values: values}
}

// Seq returns the 1-based position of the record in its log.
func (r Record) Seq() uint64 {
	return r.seq
}

// CapturedAt returns when the handler ran.
func (r Record) CapturedAt() time.Time {
	return r.at
}

// Len returns the number of captured arguments.
func (r Record) Len() int {
	return len(r.values)
}

// At returns the i-th argument. It panics if i is out of range.
func (r Record) At(i int) Value {
	return r.values[i]
}

// Values returns a copy of the captured arguments.
func (r Record) Values() []Value {
	out := make([]Value, len(r.values))
	copy(out, r.values)
	return out
}

// Interfaces returns the captured arguments as plain values.
func (r Record) Interfaces() []any {
	out := make([]any, len(r.values))
	for i, v := range r.values {
		out[i] = v.v
	}
	return out
}

func (r Record) String() string {
	parts := make([]string, len(r.values))
	for i, v := range r.values {
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
