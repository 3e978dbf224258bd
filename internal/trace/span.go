package trace

import (
	"bytes"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"
)

var (
	seqCounter  atomic.Uint64
	spanCounter atomic.Uint64
)

// NextSeq returns a monotonically increasing sequence number.
func NextSeq() uint64 { return seqCounter.Add(1) }

// NextSpanID returns a unique span ID.
func NextSpanID() uint64 { return spanCounter.Add(1) }

var goroutinePrefix = []byte("goroutine ")

// goid parses the current goroutine ID from the "goroutine N [" stack header.
// Events from parallel driver workers are told apart by it.
func goid() uint64 {
	var buf [64]byte
	b := buf[:runtime.Stack(buf[:], false)]
	b, ok := bytes.CutPrefix(b, goroutinePrefix)
	if !ok {
		return 0
	}
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// record stamps ev and hands it to t.
func record(t Tracer, ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	ev.Seq = NextSeq()
	if ev.GID == 0 {
		ev.GID = goid()
	}
	t.Emit(&ev)
}

// Span measures one unit of work such as a harness entry point, a
// mutation or a pipeline pass. Spans whose scope the tracer level excludes
// are muted: End and WithExtra do nothing, errors still pass through.
type Span struct {
	tracer  Tracer
	id      uint64
	parent  uint64
	gid     uint64
	scope   Scope
	name    string
	started time.Time
	extra   map[string]string
}

var inert = &Span{tracer: Nop}

// Begin emits SpanBegin and returns the open span. parent is 0 for roots.
func Begin(t Tracer, scope Scope, name string, parent uint64) *Span {
	if t == nil || !t.Enabled() {
		return inert
	}
	if !t.Level().ShouldEmit(scope) {
		// Muted: keeps t so nested errors still reach it.
		return &Span{tracer: t, parent: parent, scope: scope}
	}
	s := &Span{
		tracer:  t,
		id:      NextSpanID(),
		parent:  parent,
		gid:     goid(),
		scope:   scope,
		name:    name,
		started: time.Now(),
	}
	record(t, Event{
		Time:     s.started,
		Kind:     KindSpanBegin,
		Scope:    scope,
		SpanID:   s.id,
		ParentID: parent,
		GID:      s.gid,
		Name:     name,
	})
	return s
}

func (s *Span) live() bool {
	return s != nil && s.tracer != nil && s.tracer.Enabled() && s.id != 0
}

// Child opens a span nested under s. Children of a muted span attach to
// its nearest recorded ancestor.
func (s *Span) Child(scope Scope, name string) *Span {
	if s == nil || s.tracer == nil {
		return inert
	}
	return Begin(s.tracer, scope, name, s.attach())
}

func (s *Span) attach() uint64 {
	if s.id != 0 {
		return s.id
	}
	return s.parent
}

// End emits SpanEnd with detail and the collected extras and returns the
// span duration.
func (s *Span) End(detail string) time.Duration {
	if !s.live() {
		return 0
	}
	dur := time.Since(s.started)
	record(s.tracer, Event{
		Kind:     KindSpanEnd,
		Scope:    s.scope,
		SpanID:   s.id,
		ParentID: s.parent,
		GID:      s.gid,
		Name:     s.name,
		Detail:   detail,
		Extra:    s.extra,
	})
	return dur
}

// WithExtra attaches key=value to the end event.
func (s *Span) WithExtra(key, value string) *Span {
	if !s.live() {
		return s
	}
	if s.extra == nil {
		s.extra = make(map[string]string, 2)
	}
	s.extra[key] = value
	return s
}

// ID returns the span ID. Muted spans report their parent so nested
// spans still link up.
func (s *Span) ID() uint64 {
	if s == nil {
		return 0
	}
	return s.attach()
}

// Point records an instant event inside s.
func (s *Span) Point(scope Scope, name, detail string) {
	if s == nil || s.tracer == nil {
		return
	}
	Point(s.tracer, scope, name, detail, s.attach())
}

// Fail records err inside s.
func (s *Span) Fail(name string, err error) {
	if s == nil || s.tracer == nil {
		return
	}
	Error(s.tracer, s.scope, name, err, s.attach())
}

// Point emits an instant event when the tracer records scope.
func Point(t Tracer, scope Scope, name, detail string, parent uint64) {
	if t == nil || !t.Enabled() || !t.Level().ShouldEmit(scope) {
		return
	}
	record(t, Event{
		Kind:     KindPoint,
		Scope:    scope,
		ParentID: parent,
		Name:     name,
		Detail:   detail,
	})
}

// Error emits an error event. Errors are recorded at every level but off.
func Error(t Tracer, scope Scope, name string, err error, parent uint64) {
	if t == nil || !t.Enabled() || err == nil {
		return
	}
	record(t, Event{
		Kind:     KindError,
		Scope:    scope,
		ParentID: parent,
		Name:     name,
		Detail:   err.Error(),
	})
}
