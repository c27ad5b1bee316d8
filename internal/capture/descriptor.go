package capture

import (
	"reflect"
)

// Event is the metadata an event source exposes for one of its events.
type Event interface {
	// Name identifies the event on its target.
	Name() string
	// HandlerType is the func type a subscriber must have.
	HandlerType() reflect.Type
}

type staticEvent struct {
	name string
	typ  reflect.Type
}

func (e staticEvent) Name() string              { return e.name }
func (e staticEvent) HandlerType() reflect.Type { return e.typ }

// EventOf describes an event by a prototype of its handler, for example
// EventOf("Click", (func(int, string))(nil)).
func EventOf(name string, prototype any) Event {
	return staticEvent{name: name, typ: reflect.TypeOf(prototype)}
}

// Descriptor is the resolved signature of an event.
type Descriptor struct {
	// Params lists parameter types in declaration order.
	Params []reflect.Type
	// Variadic marks the last parameter as a ...T slice.
	Variadic bool
	// Results must be empty for a descriptor to be synthesized.
	Results []reflect.Type
	// HandlerType is the exact func type to synthesize. When nil the
	// synthesizer builds an unnamed func type from Params.
	HandlerType reflect.Type
}

// NewDescriptor builds a descriptor for a fire-and-forget handler with the
// given parameter types.
func NewDescriptor(params ...reflect.Type) Descriptor {
	return Descriptor{Params: params}
}

// Arity returns the number of parameters.
func (d Descriptor) Arity() int {
	return len(d.Params)
}

// Void reports whether the handler returns nothing.
func (d Descriptor) Void() bool {
	return len(d.Results) == 0
}

// isNilHandle reports whether event is nil, including a nil pointer, map
// or func stored in the interface.
func isNilHandle(event Event) bool {
	if event == nil {
		return true
	}
	v := reflect.ValueOf(event)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Func, reflect.Slice, reflect.Chan, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// Resolve validates an event handle and extracts its descriptor.
func Resolve(event Event) (Descriptor, error) {
	if isNilHandle(event) {
		return Descriptor{}, newError(KindInvalidArgument, "", "event handle is nil", nil)
	}
	t := event.HandlerType()
	if t == nil {
		return Descriptor{}, newError(KindInvalidEvent, "", "event "+event.Name()+" has no handler type", nil)
	}
	if t.Kind() != reflect.Func {
		return Descriptor{}, newError(KindInvalidEvent, "", "event "+event.Name()+" handler type "+t.String()+" is not a func", nil)
	}

	d := Descriptor{
		Params:      make([]reflect.Type, t.NumIn()),
		Variadic:    t.IsVariadic(),
		HandlerType: t,
	}
	for i := range d.Params {
		d.Params[i] = t.In(i)
	}
	if t.NumOut() != 0 {
		d.Results = make([]reflect.Type, t.NumOut())
		for i := range d.Results {
			d.Results[i] = t.Out(i)
		}
		return d, newError(KindUnsupportedSignature, "", "event "+event.Name()+" handler "+t.String()+" returns a value", nil)
	}
	return d, nil
}
