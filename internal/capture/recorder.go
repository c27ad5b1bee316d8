package capture

import (
	"go.uber.org/zap"
)

// logTable holds the invocation logs. It has no lock of its own; the
// registry mutex guards it together with the registration table.
type logTable struct {
	logs map[string][]Record
}

func newLogTable() logTable {
	return logTable{logs: make(map[string][]Record)}
}

func (t *logTable) open(id string) {
	if _, ok := t.logs[id]; !ok {
		t.logs[id] = make([]Record, 0)
	}
}

func (t *logTable) append(id string, rec Record) bool {
	log, ok := t.logs[id]
	if !ok {
		return false
	}
	rec.seq = uint64(len(log)) + 1
	t.logs[id] = append(log, rec)
	return true
}

func (t *logTable) snapshot(id string) ([]Record, bool) {
	log, ok := t.logs[id]
	if !ok {
		return nil, false
	}
	out := make([]Record, len(log))
	copy(out, log)
	return out, true
}

func (t *logTable) drop(id string) {
	delete(t.logs, id)
}

// Append records one invocation for id. Records for ids without a
// registration are discarded without error.
func (r *Registry) Append(id string, rec Record) {
	r.mu.Lock()
	_, live := r.registrations[id]
	ok := live && r.logs.append(id, rec)
	r.mu.Unlock()

	if !ok {
		r.metrics.IncDropped()
		r.logger.Debug("discarding invocation for unregistered event",
			zap.String("event_id", id),
			zap.Int("arity", rec.Len()),
		)
		return
	}
	r.metrics.IncInvocations()
}

// Invocations returns a snapshot of the log for id. The boolean is false
// when id has no log.
func (r *Registry) Invocations(id string) ([]Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logs.snapshot(id)
}

// InvocationCount returns the number of records logged for id.
func (r *Registry) InvocationCount(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.logs.logs[id])
}
