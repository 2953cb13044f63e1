package dblp

import (
	"io"
	"strings"

	"github.com/teranos/dblpix/errors"
)

// EventKind distinguishes element open and close events
type EventKind int

const (
	EventOpen EventKind = iota + 1
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Attr is one element attribute, in document order
type Attr struct {
	Name  string
	Value string
}

// AttrValue returns the value of the named attribute
func AttrValue(attrs []Attr, name string) (string, bool) {
	for _, a := range attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Event is one step of a depth-first traversal of the document
type Event struct {
	Kind  EventKind
	Name  string
	Attrs []Attr
}

// EventSource is the streaming parser the assembler pulls from.
//
// Next returns io.EOF once the document is exhausted. Expand may be called
// right after Next returned an open event: it consumes the element up to and
// including its close and returns the inner content. Nested markup inside the
// element (<i>, <sub>, …) is kept as text; character data is unescaped.
type EventSource interface {
	Next() (Event, error)
	Expand() (string, error)
}

// SliceSource replays a fixed list of events. Expand returns the text paired
// with the open event and skips to its matching close.
type SliceSource struct {
	events []Event
	texts  map[int]string
	pos    int
}

// NewSliceSource creates an empty in-memory source
func NewSliceSource() *SliceSource {
	return &SliceSource{texts: make(map[int]string)}
}

// Open appends an open event
func (s *SliceSource) Open(name string, attrs ...Attr) *SliceSource {
	s.events = append(s.events, Event{Kind: EventOpen, Name: name, Attrs: attrs})
	return s
}

// Close appends a close event
func (s *SliceSource) Close(name string) *SliceSource {
	s.events = append(s.events, Event{Kind: EventClose, Name: name})
	return s
}

// Text appends a leaf element: open, text, close
func (s *SliceSource) Text(name, text string, attrs ...Attr) *SliceSource {
	s.texts[len(s.events)] = text
	return s.Open(name, attrs...).Close(name)
}

// Next implements EventSource
func (s *SliceSource) Next() (Event, error) {
	if s.pos >= len(s.events) {
		return Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

// Expand implements EventSource
func (s *SliceSource) Expand() (string, error) {
	open := s.pos - 1
	if open < 0 || s.events[open].Kind != EventOpen {
		return "", errors.New("expand called without a pending open event")
	}

	var b strings.Builder
	b.WriteString(s.texts[open])
	depth := 1
	for s.pos < len(s.events) {
		ev := s.events[s.pos]
		s.pos++
		switch ev.Kind {
		case EventOpen:
			depth++
			b.WriteString("<" + ev.Name + ">")
			b.WriteString(s.texts[s.pos-1])
		case EventClose:
			depth--
			if depth == 0 {
				return b.String(), nil
			}
			b.WriteString("</" + ev.Name + ">")
		}
	}
	return "", io.ErrUnexpectedEOF
}
