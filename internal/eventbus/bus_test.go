package eventbus

import (
	"math"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
)

func TestBusSubscribePublish(t *testing.T) {
	bus := New(zaptest.NewLogger(t))
	if _, err := bus.Define("Clicked", (func(int, string))(nil)); err != nil {
		t.Fatalf("define: %v", err)
	}
	if _, err := bus.Define("Closed", (func())(nil)); err != nil {
		t.Fatalf("define: %v", err)
	}

	clickCount := 0
	lastLabel := ""
	closeCount := 0

	handle1, err := bus.Subscribe("Clicked", func(n int, label string) {
		clickCount += n
		lastLabel = label
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	handle2, err := bus.Subscribe("Closed", func() { closeCount++ })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if handle1 == handle2 {
		t.Fatalf("expected distinct handles, got %d twice", handle1)
	}

	if err := bus.Publish("Clicked", 2, "a"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if clickCount != 2 || lastLabel != "a" {
		t.Fatalf("expected click count 2 and label a, got %d %q", clickCount, lastLabel)
	}
	if closeCount != 0 {
		t.Fatalf("expected close count 0, got %d", closeCount)
	}

	if err := bus.Unsubscribe("Clicked", handle1); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := bus.Publish("Clicked", 5, "b"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if clickCount != 2 {
		t.Fatalf("expected click count still 2 after unsubscribe, got %d", clickCount)
	}

	if err := bus.Publish("Closed"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if closeCount != 1 {
		t.Fatalf("expected close count 1, got %d", closeCount)
	}
}

func TestBusSubscriptionOrder(t *testing.T) {
	bus := New(nil)
	if _, err := bus.Define("Tick", (func(int))(nil)); err != nil {
		t.Fatalf("define: %v", err)
	}

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		if _, err := bus.Subscribe("Tick", func(int) { order = append(order, name) }); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}
	if err := bus.Publish("Tick", 1); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if strings.Join(order, ",") != "first,second,third" {
		t.Fatalf("unexpected order %v", order)
	}
	if bus.SubscriberCount("Tick") != 3 {
		t.Fatalf("expected 3 subscribers, got %d", bus.SubscriberCount("Tick"))
	}
}

func TestBusDefineRejects(t *testing.T) {
	bus := New(nil)
	if _, err := bus.Define("", (func())(nil)); err == nil {
		t.Fatal("expected error for empty name")
	}
	if _, err := bus.Define("Count", 3); err == nil {
		t.Fatal("expected error for non-func prototype")
	}
	if _, err := bus.Define("Count", (func())(nil)); err != nil {
		t.Fatalf("define: %v", err)
	}
	if _, err := bus.Define("Count", (func())(nil)); err == nil {
		t.Fatal("expected error for duplicate event")
	}
	if got := bus.Events(); len(got) != 1 || got[0] != "Count" {
		t.Fatalf("unexpected events %v", got)
	}
	ev, ok := bus.Event("Count")
	if !ok || ev.Name() != "Count" || ev.HandlerType().NumIn() != 0 {
		t.Fatalf("unexpected event handle %v", ev)
	}
	if _, ok := bus.Event("Missing"); ok {
		t.Fatal("expected missing event")
	}
}

func TestBusSubscribeRejectsWrongType(t *testing.T) {
	bus := New(nil)
	if _, err := bus.Define("Clicked", (func(int, string))(nil)); err != nil {
		t.Fatalf("define: %v", err)
	}

	if _, err := bus.Subscribe("Clicked", func(string, int) {}); err == nil {
		t.Fatal("expected error for mismatched handler")
	}
	if _, err := bus.Subscribe("Clicked", "not a func"); err == nil {
		t.Fatal("expected error for non-func handler")
	}
	var nilHandler func(int, string)
	if _, err := bus.Subscribe("Clicked", nilHandler); err == nil {
		t.Fatal("expected error for nil handler")
	}
	if _, err := bus.Subscribe("Missing", func() {}); err == nil {
		t.Fatal("expected error for undefined event")
	}
	if err := bus.Unsubscribe("Clicked", 99); err == nil {
		t.Fatal("expected error for unknown handle")
	}
}

func TestBusPublishArgs(t *testing.T) {
	bus := New(nil)
	if _, err := bus.Define("Moved", (func(int64, *int, error))(nil)); err != nil {
		t.Fatalf("define: %v", err)
	}

	var gotX int64
	var gotPtr *int
	var gotErr error
	if _, err := bus.Subscribe("Moved", func(x int64, p *int, err error) {
		gotX, gotPtr, gotErr = x, p, err
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// int converts to int64, nil becomes the zero value.
	if err := bus.Publish("Moved", 4, nil, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if gotX != 4 || gotPtr != nil || gotErr != nil {
		t.Fatalf("unexpected args %d %v %v", gotX, gotPtr, gotErr)
	}

	if err := bus.Publish("Moved", 1); err == nil {
		t.Fatal("expected arity error")
	}
	if err := bus.Publish("Moved", "x", nil, nil); err == nil {
		t.Fatal("expected type error")
	}
	if err := bus.Publish("Missing"); err == nil {
		t.Fatal("expected error for undefined event")
	}

	if _, err := bus.Define("Scored", (func(int))(nil)); err != nil {
		t.Fatalf("define: %v", err)
	}
	if err := bus.Publish("Scored", nil); err == nil {
		t.Fatal("expected error for nil value-type arg")
	}
}

func TestBusPublishLosslessConversion(t *testing.T) {
	bus := New(nil)
	var small int8
	var level uint8
	var ratio float32
	var pair [2]int
	defines := []struct {
		name    string
		proto   any
		handler any
	}{
		{"Small", (func(int8))(nil), func(x int8) { small = x }},
		{"Level", (func(uint8))(nil), func(x uint8) { level = x }},
		{"Ratio", (func(float32))(nil), func(x float32) { ratio = x }},
		{"Pair", (func([2]int))(nil), func(x [2]int) { pair = x }},
		{"Whole", (func(int))(nil), func(int) {}},
	}
	for _, d := range defines {
		if _, err := bus.Define(d.name, d.proto); err != nil {
			t.Fatalf("define %s: %v", d.name, err)
		}
		if _, err := bus.Subscribe(d.name, d.handler); err != nil {
			t.Fatalf("subscribe %s: %v", d.name, err)
		}
	}

	// Values that fit convert exactly.
	if err := bus.Publish("Small", -100); err != nil || small != -100 {
		t.Fatalf("Small(-100): err=%v got=%d", err, small)
	}
	if err := bus.Publish("Level", 200); err != nil || level != 200 {
		t.Fatalf("Level(200): err=%v got=%d", err, level)
	}
	if err := bus.Publish("Ratio", 0.5); err != nil || ratio != 0.5 {
		t.Fatalf("Ratio(0.5): err=%v got=%v", err, ratio)
	}
	if err := bus.Publish("Whole", 3.0); err != nil {
		t.Fatalf("Whole(3.0): %v", err)
	}
	if err := bus.Publish("Pair", [2]int{1, 2}); err != nil || pair != [2]int{1, 2} {
		t.Fatalf("Pair([2]int): err=%v got=%v", err, pair)
	}

	rejected := []struct {
		event string
		arg   any
	}{
		{"Whole", 1.9},
		{"Small", 300},
		{"Level", -1},
		{"Level", uint64(1) << 40},
		{"Whole", uint64(math.MaxUint64)},
		{"Ratio", 0.1},
		{"Pair", []int{1}},
		{"Pair", []int{1, 2}},
	}
	for _, r := range rejected {
		var err error
		func() {
			defer func() {
				if p := recover(); p != nil {
					t.Fatalf("%s(%v) panicked: %v", r.event, r.arg, p)
				}
			}()
			err = bus.Publish(r.event, r.arg)
		}()
		if err == nil || !strings.Contains(err.Error(), "is not a") {
			t.Fatalf("%s(%v): expected conversion error, got %v", r.event, r.arg, err)
		}
	}
	if small != -100 || level != 200 || pair != [2]int{1, 2} {
		t.Fatalf("rejected publish reached a listener: %d %d %v", small, level, pair)
	}
}

func TestBusPublishVariadic(t *testing.T) {
	bus := New(nil)
	if _, err := bus.Define("Logged", (func(string, ...int))(nil)); err != nil {
		t.Fatalf("define: %v", err)
	}
	var got []int
	if _, err := bus.Subscribe("Logged", func(_ string, xs ...int) { got = xs }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Publish("Logged", "sum", []int{1, 2}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(got) != 2 || got[1] != 2 {
		t.Fatalf("unexpected variadic args %v", got)
	}
}

func TestBusHandlerMayUnsubscribeDuringPublish(t *testing.T) {
	bus := New(nil)
	if _, err := bus.Define("Once", (func())(nil)); err != nil {
		t.Fatalf("define: %v", err)
	}
	calls := 0
	var handle int
	handle, err := bus.Subscribe("Once", func() {
		calls++
		if err := bus.Unsubscribe("Once", handle); err != nil {
			t.Errorf("unsubscribe: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := bus.Publish("Once"); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestReadOnlyHasNoUnsubscribe(t *testing.T) {
	bus := New(nil)
	if _, err := bus.Define("Clicked", (func())(nil)); err != nil {
		t.Fatalf("define: %v", err)
	}
	ro := ReadOnly(bus)
	if _, err := ro.Subscribe("Clicked", func() {}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if _, ok := ro.(interface {
		Unsubscribe(string, int) error
	}); ok {
		t.Fatal("read-only target must not expose Unsubscribe")
	}
	if bus.SubscriberCount("Clicked") != 1 {
		t.Fatalf("expected 1 subscriber, got %d", bus.SubscriberCount("Clicked"))
	}
}
