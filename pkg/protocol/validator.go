package protocol

import (
	"fmt"
	"iter"
	"maps"

	"github.com/Mindburn-Labs/checkengine/pkg/spec"
	"github.com/Mindburn-Labs/checkengine/pkg/status"
)

type phase int

const (
	phaseIdle phase = iota
	phaseRun
	phaseSection
	phaseCheck
	phaseEnded
)

// Validator checks that a consumed event stream keeps the nesting
// discipline and that summaries and tallies agree with the events they
// close. It is meant for consumers and tests; the first violation is
// returned as a *spec.ProtocolViolationError.
type Validator struct {
	seq     int
	phase   phase
	section *spec.Section
	check   spec.Identity
	worst   *status.Status
	results int

	sectionTally Tally
	runTally     Tally
}

// NewValidator creates a validator expecting START.
func NewValidator() *Validator {
	return &Validator{}
}

func (v *Validator) violation(format string, args ...any) error {
	return &spec.ProtocolViolationError{Msg: fmt.Sprintf(format, args...), Seq: v.seq}
}

// Observe checks the next event of the stream.
func (v *Validator) Observe(e Event) error {
	v.seq++
	if e.Status == nil {
		return v.violation("event without status")
	}
	if v.phase == phaseEnded {
		return v.violation("%s after END", e.Status)
	}

	switch e.Status {
	case status.START:
		if v.phase != phaseIdle {
			return v.violation("START inside a run")
		}
		v.phase = phaseRun
		v.runTally = Tally{}

	case status.STARTSECTION:
		if v.phase != phaseRun {
			return v.violation("STARTSECTION outside the run level")
		}
		if e.Identity.Section == nil {
			return v.violation("STARTSECTION without section")
		}
		v.phase = phaseSection
		v.section = e.Identity.Section
		v.sectionTally = Tally{}

	case status.STARTCHECK:
		if v.phase != phaseSection {
			return v.violation("STARTCHECK outside a section")
		}
		if e.Identity.Check == nil || e.Identity.Section != v.section {
			return v.violation("STARTCHECK %s does not belong to %s", e.Identity, v.section)
		}
		v.phase = phaseCheck
		v.check = e.Identity
		v.worst = nil
		v.results = 0

	case status.ENDCHECK:
		if v.phase != phaseCheck {
			return v.violation("ENDCHECK without STARTCHECK")
		}
		if e.Identity.Key() != v.check.Key() {
			return v.violation("ENDCHECK %s closes %s", e.Identity, v.check)
		}
		summary, ok := e.Message.(*status.Status)
		if !ok || summary.IsStructural() {
			return v.violation("ENDCHECK %s carries %T, want a log status", e.Identity, e.Message)
		}
		if v.results == 0 {
			return v.violation("check %s produced no result", e.Identity)
		}
		if summary.Compare(v.worst) != 0 {
			return v.violation("check %s summary %s, results peak at %s", e.Identity, summary, v.worst)
		}
		v.sectionTally.Add(summary)
		v.phase = phaseSection

	case status.ENDSECTION:
		if v.phase != phaseSection {
			return v.violation("ENDSECTION outside a section")
		}
		if e.Identity.Section != v.section {
			return v.violation("ENDSECTION %s closes %s", e.Identity.Section, v.section)
		}
		if err := v.compareTally("ENDSECTION", e.Message, v.sectionTally); err != nil {
			return err
		}
		v.runTally.Merge(v.sectionTally)
		v.phase = phaseRun
		v.section = nil

	case status.END:
		if v.phase != phaseRun {
			return v.violation("END inside a section")
		}
		if err := v.compareTally("END", e.Message, v.runTally); err != nil {
			return err
		}
		v.phase = phaseEnded

	default:
		if e.Status.IsStructural() {
			return v.violation("unknown structural status %#v", e.Status)
		}
		if v.phase != phaseCheck {
			return v.violation("%s outside a check", e.Status)
		}
		if e.Identity.Key() != v.check.Key() {
			return v.violation("%s for %s inside %s", e.Status, e.Identity, v.check)
		}
		v.worst = status.Max(v.worst, e.Status)
		v.results++
	}
	return nil
}

func (v *Validator) compareTally(where string, message any, want Tally) error {
	got, ok := message.(Tally)
	if !ok {
		return v.violation("%s carries %T, want a tally", where, message)
	}
	nonzero := func(t Tally) Tally {
		out := Tally{}
		for k, n := range t {
			if n != 0 {
				out[k] = n
			}
		}
		return out
	}
	if !maps.Equal(nonzero(got), nonzero(want)) {
		return v.violation("%s tally %v, counted %v", where, got, want)
	}
	return nil
}

// Done reports whether the stream ended properly.
func (v *Validator) Done() error {
	if v.phase != phaseEnded {
		return &spec.ProtocolViolationError{Msg: "stream ended before END", Seq: v.seq}
	}
	return nil
}

// Validate consumes events and checks the whole stream.
func Validate(events iter.Seq[Event]) error {
	v := NewValidator()
	for e := range events {
		if err := v.Observe(e); err != nil {
			return err
		}
	}
	return v.Done()
}
