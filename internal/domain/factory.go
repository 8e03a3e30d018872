package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventFactory stamps a Change into a fully-typed Activity. It is the
// only place that assigns activity identities and creation timestamps,
// so ledger order reflects commit order rather than request order.
type EventFactory struct {
	gate  TrustGate
	now   func() time.Time
	newID func() string
}

// NewEventFactory constructs a factory around the given trust gate.
func NewEventFactory(gate TrustGate) *EventFactory {
	return &EventFactory{
		gate:  gate,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// WithClock overrides the timestamp source. Tests only.
func (f *EventFactory) WithClock(now func() time.Time) *EventFactory {
	f.now = now
	return f
}

// Build turns a Change into an Activity, or nil when there is nothing
// to emit: the change itself is nil, the actor is untrusted, or the
// payload does not match its event type.
func (f *EventFactory) Build(change *Change, actor Identity) *Activity {
	if change == nil {
		return nil
	}
	if !f.gate.Admit(actor) {
		return nil
	}
	activity := Activity{
		ID:        f.newID(),
		UserID:    change.SubjectID,
		CreatedAt: f.now(),
		Type:      change.Type,
		Payload:   change.Payload,
	}
	if err := activity.Validate(); err != nil {
		return nil
	}
	return &activity
}

// Suppressed reports whether Build returned nil because of the trust
// gate rather than an empty change. Callers use it for metrics.
func (f *EventFactory) Suppressed(change *Change, actor Identity) bool {
	return change != nil && !f.gate.Admit(actor)
}

// Recorder is the mutation hook handed to the persistence layer: diff
// the snapshots, gate the actor, stamp the activity.
type Recorder struct {
	factory *EventFactory
}

// NewRecorder wraps an EventFactory for use inside repository
// transactions.
func NewRecorder(factory *EventFactory) *Recorder {
	return &Recorder{factory: factory}
}

// Record derives at most one Activity from a committed mutation. The
// second return reports a trust-gate suppression of an otherwise
// meaningful change.
func (r *Recorder) Record(m Mutation, actor Identity) (*Activity, bool) {
	change := Diff(m)
	return r.factory.Build(change, actor), r.factory.Suppressed(change, actor)
}

// RecordLogin derives the LOGIN activity for an authentication.
func (r *Recorder) RecordLogin(userID int64, actor Identity) (*Activity, bool) {
	change := LoginChange(userID)
	return r.factory.Build(change, actor), r.factory.Suppressed(change, actor)
}
