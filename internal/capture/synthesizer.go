package capture

import (
	"fmt"
	"reflect"
)

// Sink receives the records produced by synthesized handlers.
type Sink interface {
	Append(id string, rec Record)
}

// Synthesizer builds handlers whose func type is only known at runtime.
type Synthesizer struct {
	sink Sink
}

// NewSynthesizer returns a synthesizer whose handlers append to sink.
func NewSynthesizer(sink Sink) *Synthesizer {
	return &Synthesizer{sink: sink}
}

// Synthesize returns a func value matching d. Each call of the func wraps
// its arguments into a Record and appends it to the sink under id before
// returning.
func (s *Synthesizer) Synthesize(id string, d Descriptor) (handler reflect.Value, err error) {
	if id == "" {
		return reflect.Value{}, newError(KindInvalidArgument, "", "event id is empty", nil)
	}
	if s.sink == nil {
		return reflect.Value{}, newError(KindSynthesis, id, "no sink to forward captures to", nil)
	}
	if !d.Void() {
		return reflect.Value{}, newError(KindUnsupportedSignature, id, fmt.Sprintf("handler returns %d value(s)", len(d.Results)), nil)
	}
	for i, p := range d.Params {
		if p == nil {
			return reflect.Value{}, newError(KindSynthesis, id, fmt.Sprintf("parameter %d has no type", i), nil)
		}
	}

	// reflect panics on signatures it cannot build.
	defer func() {
		if r := recover(); r != nil {
			handler = reflect.Value{}
			err = newError(KindSynthesis, id, fmt.Sprint(r), nil)
		}
	}()

	fnType, err := s.funcType(id, d)
	if err != nil {
		return reflect.Value{}, err
	}

	params := append([]reflect.Type(nil), d.Params...)
	sink := s.sink
	handler = reflect.MakeFunc(fnType, func(args []reflect.Value) []reflect.Value {
		values := make([]Value, len(args))
		for i, arg := range args {
			values[i] = captureValue(params[i], arg)
		}
		sink.Append(id, newRecord(values))
		return nil
	})
	return handler, nil
}

func (s *Synthesizer) funcType(id string, d Descriptor) (reflect.Type, error) {
	built := reflect.FuncOf(d.Params, nil, d.Variadic)
	if d.HandlerType == nil {
		return built, nil
	}
	if d.HandlerType.Kind() != reflect.Func || !built.ConvertibleTo(d.HandlerType) {
		return nil, newError(KindSynthesis, id, fmt.Sprintf("handler type %s does not match parameters %s", d.HandlerType, built), nil)
	}
	return d.HandlerType, nil
}
