package protocol

import (
	"encoding/json"
	"iter"
	"sync"
	"time"

	"github.com/Mindburn-Labs/checkengine/pkg/spec"
	"github.com/Mindburn-Labs/checkengine/pkg/status"
)

// Record is one recorded event.
type Record struct {
	Seq       uint64
	Event     Event
	Timestamp time.Time
}

// MarshalJSON renders the record as the event object plus seq and time.
func (r Record) MarshalJSON() ([]byte, error) {
	w := r.Event.wire()
	w.Seq = r.Seq
	ts := r.Timestamp.UTC()
	w.Time = &ts
	return json.Marshal(w)
}

// Recorder captures the events of one run in arrival order.
type Recorder struct {
	mu      sync.Mutex
	runID   string
	records []Record
	seq     uint64
	clock   func() time.Time
}

// NewRecorder creates a recorder for runID.
func NewRecorder(runID string) *Recorder {
	return &Recorder{
		runID:   runID,
		records: make([]Record, 0),
		clock:   time.Now,
	}
}

// WithClock overrides the clock for testing.
func (r *Recorder) WithClock(clock func() time.Time) *Recorder {
	r.clock = clock
	return r
}

// RunID returns the run the recorder belongs to.
func (r *Recorder) RunID() string { return r.runID }

// Record captures one event.
func (r *Recorder) Record(e Event) Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	rec := Record{Seq: r.seq, Event: e, Timestamp: r.clock()}
	r.records = append(r.records, rec)
	return rec
}

// Tee records every event of events as it passes through to the consumer.
func (r *Recorder) Tee(events iter.Seq[Event]) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for e := range events {
			r.Record(e)
			if !yield(e) {
				return
			}
		}
	}
}

// Records returns all recorded events.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]Record, len(r.records))
	copy(result, r.records)
	return result
}

// Count returns the number of recorded events.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Tally counts the check summaries recorded so far.
func (r *Recorder) Tally() Tally {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := Tally{}
	for _, rec := range r.records {
		if rec.Event.Status == status.ENDCHECK {
			if summary, ok := rec.Event.Message.(*status.Status); ok {
				t.Add(summary)
			}
		}
	}
	return t
}

// Failed returns the identities whose summary weighs at least threshold, in
// recording order.
func (r *Recorder) Failed(threshold *status.Status) []spec.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []spec.Identity
	for _, rec := range r.records {
		if rec.Event.Status != status.ENDCHECK {
			continue
		}
		if summary, ok := rec.Event.Message.(*status.Status); ok && summary.Compare(threshold) >= 0 {
			out = append(out, rec.Event.Identity)
		}
	}
	return out
}
