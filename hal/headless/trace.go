// Package headless is a hal backend without a GPU. Work completes when it is
// waited on, every call is recorded in a Trace and invalid synchronization is
// collected as violations instead of being undefined behavior.
package headless

import (
	"fmt"
	"strings"
	"sync"
)

// Event is one recorded backend call.
type Event struct {
	Seq    int
	Kind   string
	Object string
	Detail string
}

func (e Event) String() string {
	if e.Detail == "" {
		return fmt.Sprintf("%d %s %s", e.Seq, e.Kind, e.Object)
	}
	return fmt.Sprintf("%d %s %s (%s)", e.Seq, e.Kind, e.Object, e.Detail)
}

// Trace is an ordered call log shared by every object of an instance.
type Trace struct {
	mu         sync.Mutex
	events     []Event
	violations []string
	ids        map[string]int
}

func newTrace() *Trace {
	return &Trace{ids: make(map[string]int)}
}

func (t *Trace) name(kind string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids[kind]++
	return fmt.Sprintf("%s#%d", kind, t.ids[kind])
}

func (t *Trace) record(kind, object, detail string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, Event{
		Seq:    len(t.events),
		Kind:   kind,
		Object: object,
		Detail: detail,
	})
}

func (t *Trace) violate(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.violations = append(t.violations, fmt.Sprintf(format, args...))
}

// Events returns a copy of every recorded event.
func (t *Trace) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Event(nil), t.events...)
}

// Kinds returns the event kinds, optionally only those starting with prefix.
func (t *Trace) Kinds(prefix string) []string {
	var kinds []string
	for _, e := range t.Events() {
		if strings.HasPrefix(e.Kind, prefix) {
			kinds = append(kinds, e.Kind)
		}
	}
	return kinds
}

// Object returns the events recorded against one object, in order.
func (t *Trace) Object(name string) []Event {
	var out []Event
	for _, e := range t.Events() {
		if e.Object == name {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many events of kind were recorded.
func (t *Trace) Count(kind string) int {
	n := 0
	for _, e := range t.Events() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// First returns the sequence number of the first event of kind, or -1.
func (t *Trace) First(kind string) int {
	for _, e := range t.Events() {
		if e.Kind == kind {
			return e.Seq
		}
	}
	return -1
}

// Last returns the sequence number of the last event of kind, or -1.
func (t *Trace) Last(kind string) int {
	seq := -1
	for _, e := range t.Events() {
		if e.Kind == kind {
			seq = e.Seq
		}
	}
	return seq
}

// Violations returns every invalid usage detected so far.
func (t *Trace) Violations() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.violations...)
}

// Reset drops recorded events and violations. Object names keep counting.
func (t *Trace) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
	t.violations = nil
}
