package capture

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/magefree/eventprobe-go/internal/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/magefree/eventprobe-go/internal/capture"

// Subscriber is implemented by targets that accept handlers for their events.
// The returned handle identifies the subscription for Unsubscribe.
type Subscriber interface {
	Subscribe(event string, handler any) (int, error)
}

// Unsubscriber is implemented by targets that can detach a handler.
type Unsubscriber interface {
	Unsubscribe(event string, handle int) error
}

type registrationState int

const (
	stateAttaching registrationState = iota
	stateRegistered
	stateDetaching
)

// Registration is one event being observed.
type Registration struct {
	ID           string
	Event        string
	Descriptor   Descriptor
	Handler      reflect.Value
	Target       any
	Handle       int
	RegisteredAt time.Time

	state registrationState
}

// Option configures a Registry.
type Option func(*Registry)

// WithMetrics records registry activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithTracerProvider traces Register and Unregister with tp instead of the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Registry) { r.tracer = tp.Tracer(tracerName) }
}

// WithRetainLogs keeps an event's log readable after it is unregistered.
func WithRetainLogs(retain bool) Option {
	return func(r *Registry) { r.retainLogs = retain }
}

// Registry owns the lifecycle of event registrations and their logs.
// One mutex guards registrations, retired ids and logs together.
type Registry struct {
	mu            sync.Mutex
	registrations map[string]*Registration
	retired       map[string]struct{}
	logs          logTable

	synth      *Synthesizer
	logger     *zap.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	retainLogs bool
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		registrations: make(map[string]*Registration),
		retired:       make(map[string]struct{}),
		logs:          newLogTable(),
		logger:        logger,
		tracer:        otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.synth = NewSynthesizer(r)
	return r
}

// NewEventID returns a fresh id for callers that do not need a
// meaningful name.
func NewEventID() string {
	return "evt-" + uuid.New().String()
}

// Register attaches a synthesized handler for event to target and starts
// logging its invocations under id.
func (r *Registry) Register(ctx context.Context, id string, event Event, target any) (reg Registration, err error) {
	_, span := r.tracer.Start(ctx, "capture.Register", trace.WithAttributes(attribute.String("event.id", id)))
	defer func() {
		endSpan(span, err)
		r.metrics.ObserveRegistration(result(err))
	}()

	if id == "" {
		return Registration{}, newError(KindInvalidArgument, "", "event id is empty", nil)
	}
	if isNilHandle(event) {
		return Registration{}, newError(KindInvalidArgument, id, "event handle is nil", nil)
	}
	span.SetAttributes(attribute.String("event.name", event.Name()))

	d, err := Resolve(event)
	if err != nil {
		return Registration{}, withEventID(err, id)
	}
	handler, err := r.synth.Synthesize(id, d)
	if err != nil {
		return Registration{}, err
	}

	entry := &Registration{
		ID:         id,
		Event:      event.Name(),
		Descriptor: d,
		Handler:    handler,
		Target:     target,
		state:      stateAttaching,
	}
	if err := r.reserve(entry); err != nil {
		return Registration{}, err
	}

	sub, ok := target.(Subscriber)
	if !ok {
		r.rollback(id)
		return Registration{}, newError(KindAttach, id, "target does not support subscribing to "+event.Name(), nil)
	}
	handle, err := sub.Subscribe(event.Name(), handler.Interface())
	if err != nil {
		r.rollback(id)
		return Registration{}, newError(KindAttach, id, "subscribe to "+event.Name()+" failed", err)
	}

	r.mu.Lock()
	entry.Handle = handle
	entry.RegisteredAt = time.Now()
	entry.state = stateRegistered
	reg = *entry
	r.mu.Unlock()

	r.logger.Debug("event registered",
		zap.String("event_id", id),
		zap.String("event", event.Name()),
		zap.Int("arity", d.Arity()),
		zap.Int("handle", handle),
	)
	return reg, nil
}

func (r *Registry) reserve(entry *Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.registrations[entry.ID]; exists {
		return newError(KindDuplicateID, entry.ID, "event id already registered", nil)
	}
	if _, exists := r.retired[entry.ID]; exists {
		return newError(KindDuplicateID, entry.ID, "event id was used by an earlier registration", nil)
	}
	r.registrations[entry.ID] = entry
	r.logs.open(entry.ID)
	return nil
}

func (r *Registry) rollback(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.registrations, id)
	r.logs.drop(id)
}

// Unregister detaches the handler for id. It returns false when id is not
// registered or the target cannot detach it.
func (r *Registry) Unregister(id string) bool {
	return r.Remove(context.Background(), id) == nil
}

// Remove is Unregister with the failure reason. A target that cannot
// detach, or panics while detaching, leaves the registration in place.
func (r *Registry) Remove(ctx context.Context, id string) (err error) {
	_, span := r.tracer.Start(ctx, "capture.Unregister", trace.WithAttributes(attribute.String("event.id", id)))
	defer func() {
		endSpan(span, err)
		r.metrics.ObserveUnregistration(result(err))
	}()

	r.mu.Lock()
	entry, ok := r.registrations[id]
	if !ok || entry.state != stateRegistered {
		r.mu.Unlock()
		return newError(KindNotFound, id, "event id is not registered", nil)
	}
	entry.state = stateDetaching
	target, name, handle := entry.Target, entry.Event, entry.Handle
	r.mu.Unlock()

	// Every path that does not detach puts the entry back, and a panicking
	// Unsubscribe is reported as a detach failure.
	detached := false
	defer func() {
		if p := recover(); p != nil {
			err = newError(KindDetach, id, "unsubscribe from "+name+" panicked: "+fmt.Sprint(p), nil)
		}
		if !detached {
			r.restore(entry)
		}
	}()

	unsub, ok := target.(Unsubscriber)
	if !ok {
		return newError(KindDetach, id, "target does not support unsubscribing from "+name, nil)
	}
	if err := unsub.Unsubscribe(name, handle); err != nil {
		return newError(KindDetach, id, "unsubscribe from "+name+" failed", err)
	}

	r.mu.Lock()
	detached = true
	delete(r.registrations, id)
	r.retired[id] = struct{}{}
	if !r.retainLogs {
		r.logs.drop(id)
	}
	r.mu.Unlock()

	r.logger.Debug("event unregistered",
		zap.String("event_id", id),
		zap.String("event", name),
		zap.Bool("log_retained", r.retainLogs),
	)
	return nil
}

func (r *Registry) restore(entry *Registration) {
	r.mu.Lock()
	entry.state = stateRegistered
	r.mu.Unlock()
}

// Registration returns a copy of the registration for id.
func (r *Registry) Registration(id string) (Registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.registrations[id]
	if !ok || entry.state == stateAttaching {
		return Registration{}, false
	}
	return *entry, true
}

// IDs returns the registered event ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.registrations))
	for id, entry := range r.registrations {
		if entry.state != stateAttaching {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Close unregisters every registration. Failures are joined and the
// registrations that could not be detached stay in place.
func (r *Registry) Close() error {
	var errs []error
	for _, id := range r.IDs() {
		if err := r.Remove(context.Background(), id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func withEventID(err error, id string) error {
	var ce *Error
	if errors.As(err, &ce) && ce.EventID == "" {
		ce.EventID = id
	}
	return err
}

func result(err error) string {
	if err == nil {
		return metrics.ResultOK
	}
	if kind := KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
