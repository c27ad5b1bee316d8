package eventbus

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"sync"

	"github.com/magefree/eventprobe-go/internal/capture"
	"go.uber.org/zap"
)

// listener is one subscribed handler.
type listener struct {
	handle int
	fn     reflect.Value
}

// event is a named notification point with a fixed handler type.
type event struct {
	name      string
	typ       reflect.Type
	listeners []listener
}

func (e *event) Name() string              { return e.name }
func (e *event) HandlerType() reflect.Type { return e.typ }

// Bus provides synchronous publish/subscribe for named events whose handler
// signatures differ from event to event.
type Bus struct {
	mu         sync.RWMutex
	events     map[string]*event
	nextHandle int
	logger     *zap.Logger
}

// New constructs an empty bus.
func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		events: make(map[string]*event),
		logger: logger,
	}
}

// Define declares an event whose subscribers have the type of prototype,
// for example (func(int, string))(nil). The returned handle describes the
// event to capture.Registry.
func (bus *Bus) Define(name string, prototype any) (capture.Event, error) {
	if name == "" {
		return nil, fmt.Errorf("event name is empty")
	}
	typ := reflect.TypeOf(prototype)
	if typ == nil || typ.Kind() != reflect.Func {
		return nil, fmt.Errorf("event %s: prototype %T is not a func", name, prototype)
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()
	if _, exists := bus.events[name]; exists {
		return nil, fmt.Errorf("event %s already defined", name)
	}
	ev := &event{name: name, typ: typ}
	bus.events[name] = ev
	return ev, nil
}

// Event returns the handle of a defined event.
func (bus *Bus) Event(name string) (capture.Event, bool) {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	ev, ok := bus.events[name]
	if !ok {
		return nil, false
	}
	return ev, true
}

// Events returns the defined event names in sorted order.
func (bus *Bus) Events() []string {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	names := make([]string, 0, len(bus.events))
	for name := range bus.events {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Subscribe registers handler for the named event and returns a handle.
// The handler must have exactly the event's type.
func (bus *Bus) Subscribe(name string, handler any) (int, error) {
	fn := reflect.ValueOf(handler)
	if !fn.IsValid() || fn.Kind() != reflect.Func || fn.IsNil() {
		return -1, fmt.Errorf("event %s: handler %T is not a func", name, handler)
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()
	ev, ok := bus.events[name]
	if !ok {
		return -1, fmt.Errorf("event %s not defined", name)
	}
	if fn.Type() != ev.typ {
		return -1, fmt.Errorf("event %s: handler type %s, want %s", name, fn.Type(), ev.typ)
	}
	handle := bus.nextHandle
	bus.nextHandle++
	ev.listeners = append(ev.listeners, listener{handle: handle, fn: fn})
	return handle, nil
}

// Unsubscribe removes the listener identified by the provided handle.
func (bus *Bus) Unsubscribe(name string, handle int) error {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	ev, ok := bus.events[name]
	if !ok {
		return fmt.Errorf("event %s not defined", name)
	}
	for i := len(ev.listeners) - 1; i >= 0; i-- {
		if ev.listeners[i].handle == handle {
			ev.listeners = append(ev.listeners[:i:i], ev.listeners[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("event %s: no subscription with handle %d", name, handle)
}

// SubscriberCount returns the number of listeners attached to the named event.
func (bus *Bus) SubscriberCount(name string) int {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	ev, ok := bus.events[name]
	if !ok {
		return 0
	}
	return len(ev.listeners)
}

// Publish delivers args to every listener of the named event synchronously,
// in subscription order, on the calling goroutine. Listeners run outside the
// bus lock so they may subscribe or unsubscribe.
func (bus *Bus) Publish(name string, args ...any) error {
	bus.mu.RLock()
	ev, ok := bus.events[name]
	if !ok {
		bus.mu.RUnlock()
		return fmt.Errorf("event %s not defined", name)
	}
	typ := ev.typ
	listeners := make([]listener, len(ev.listeners))
	copy(listeners, ev.listeners)
	bus.mu.RUnlock()

	in, err := callArgs(typ, args)
	if err != nil {
		return fmt.Errorf("event %s: %w", name, err)
	}
	for _, l := range listeners {
		if typ.IsVariadic() {
			l.fn.CallSlice(in)
		} else {
			l.fn.Call(in)
		}
	}

	bus.logger.Debug("event published",
		zap.String("event", name),
		zap.Int("args", len(args)),
		zap.Int("listeners", len(listeners)),
	)
	return nil
}

// callArgs converts args to the parameter types of typ. For variadic
// events the trailing parameter is passed as a single slice.
func callArgs(typ reflect.Type, args []any) ([]reflect.Value, error) {
	if len(args) != typ.NumIn() {
		return nil, fmt.Errorf("got %d args, want %d", len(args), typ.NumIn())
	}
	in := make([]reflect.Value, len(args))
	for i, arg := range args {
		want := typ.In(i)
		if arg == nil {
			switch want.Kind() {
			case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface, reflect.UnsafePointer:
				in[i] = reflect.Zero(want)
				continue
			}
			return nil, fmt.Errorf("arg %d: nil is not a %s", i, want)
		}
		v, ok := convertArg(reflect.ValueOf(arg), want)
		if !ok {
			return nil, fmt.Errorf("arg %d: %s is not a %s", i, reflect.TypeOf(arg), want)
		}
		in[i] = v
	}
	return in, nil
}

type numericFamily int

const (
	notNumeric numericFamily = iota
	signedFamily
	unsignedFamily
	floatFamily
)

func familyOf(k reflect.Kind) numericFamily {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return signedFamily
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return unsignedFamily
	case reflect.Float32, reflect.Float64:
		return floatFamily
	}
	return notNumeric
}

func isNegative(v reflect.Value) bool {
	switch familyOf(v.Kind()) {
	case signedFamily:
		return v.Int() < 0
	case floatFamily:
		return v.Float() < 0
	}
	return false
}

// convertArg passes v through when it is assignable to want. Otherwise only
// numeric conversions that round-trip to the same value with the same sign
// are allowed.
func convertArg(v reflect.Value, want reflect.Type) (reflect.Value, bool) {
	if v.Type().AssignableTo(want) {
		return v, true
	}
	from, to := familyOf(v.Kind()), familyOf(want.Kind())
	if from == notNumeric || to == notNumeric {
		return reflect.Value{}, false
	}
	if to == unsignedFamily && isNegative(v) {
		return reflect.Value{}, false
	}
	out := v.Convert(want)
	if isNegative(out) != isNegative(v) {
		return reflect.Value{}, false
	}
	if from == floatFamily && to == floatFamily && math.IsNaN(v.Float()) {
		return out, true
	}
	if out.Convert(v.Type()).Interface() != v.Interface() {
		return reflect.Value{}, false
	}
	return out, true
}

// ReadOnly exposes only the subscribe half of a bus, for targets that
// cannot detach handlers.
func ReadOnly(bus *Bus) capture.Subscriber {
	return readOnly{bus: bus}
}

type readOnly struct {
	bus *Bus
}

func (r readOnly) Subscribe(name string, handler any) (int, error) {
	return r.bus.Subscribe(name, handler)
}
