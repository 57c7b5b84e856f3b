// Package protocol defines the event stream produced by a check run and the
// consumer-side tools that record and validate it.
//
// A run is a strictly nested sequence:
//
//	START(order)
//	  STARTSECTION(section order)
//	    STARTCHECK
//	      <log statuses>
//	    ENDCHECK(summary)
//	  ENDSECTION(tally)
//	END(tally)
package protocol

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/Mindburn-Labs/checkengine/pkg/spec"
	"github.com/Mindburn-Labs/checkengine/pkg/status"
)

// Event is the sole unit of output of a run.
//
// Message payloads by status: START and STARTSECTION carry the
// []spec.Identity they cover, ENDCHECK the summary *status.Status, ENDSECTION
// and END a Tally. Log statuses carry whatever the check produced.
type Event struct {
	Status   *status.Status
	Message  any
	Identity spec.Identity
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s: %v", e.Status, e.Identity, e.Message)
}

// Tally counts check summaries by status name. Absent names count zero.
type Tally map[string]int

// Add counts one summary.
func (t Tally) Add(s *status.Status) {
	if s != nil {
		t[s.Name()]++
	}
}

// Get returns the count for name.
func (t Tally) Get(name string) int { return t[name] }

// Merge adds every count of other.
func (t Tally) Merge(other Tally) {
	for name, n := range other {
		t[name] += n
	}
}

// Clone returns an independent copy.
func (t Tally) Clone() Tally { return maps.Clone(t) }

// Total is the number of counted summaries.
func (t Tally) Total() int {
	total := 0
	for _, n := range t {
		total += n
	}
	return total
}

// Failed reports whether any counted status weighs FAIL or more.
// Names that are no longer registered are ignored.
func (t Tally) Failed() bool {
	for name, n := range t {
		if n == 0 {
			continue
		}
		if s, ok := status.Lookup(name); ok && s.Weight() >= status.FAIL.Weight() {
			return true
		}
	}
	return false
}

type wireEvent struct {
	Seq      uint64         `json:"seq,omitempty"`
	Time     *time.Time     `json:"time,omitempty"`
	Status   string         `json:"status"`
	Section  string         `json:"section,omitempty"`
	Check    string         `json:"check,omitempty"`
	IterArgs map[string]int `json:"iterargs,omitempty"`
	Message  any            `json:"message,omitempty"`
}

func (e Event) wire() wireEvent {
	w := wireEvent{Message: encodeMessage(e.Message)}
	if e.Status != nil {
		w.Status = e.Status.Name()
	}
	if e.Identity.Section != nil {
		w.Section = e.Identity.Section.Name
	}
	if e.Identity.Check != nil {
		w.Check = e.Identity.Check.ID
	}
	if len(e.Identity.IterArgs) > 0 {
		w.IterArgs = make(map[string]int, len(e.Identity.IterArgs))
		for _, a := range e.Identity.IterArgs {
			w.IterArgs[a.Name] = a.Index
		}
	}
	return w
}

// MarshalJSON renders the event as one flat JSON object.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.wire())
}

func encodeMessage(m any) any {
	switch v := m.(type) {
	case nil:
		return nil
	case []spec.Identity:
		out := make([]string, len(v))
		for i, id := range v {
			out[i] = id.String()
		}
		return out
	case Tally:
		return map[string]int(v)
	case *status.Status:
		return v.Name()
	case error:
		return v.Error()
	case json.Marshaler:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		if _, err := json.Marshal(v); err != nil {
			return fmt.Sprint(v)
		}
		return v
	}
}
