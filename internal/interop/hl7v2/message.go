// Package hl7v2 converts between pipe-delimited HL7v2 messages and
// canonical resources. Parsing is driven by the segment bindings in the
// section definitions; generation is driven by the same definitions plus
// the template registry.
package hl7v2

import "strings"

// Separators holds the delimiter set declared by a message. MSH-1 names
// the field separator and MSH-2 the remaining four.
type Separators struct {
	Field        byte
	Component    byte
	Repeat       byte
	Escape       byte
	Subcomponent byte
}

// DefaultSeparators is the conventional |^~\& set.
func DefaultSeparators() Separators {
	return Separators{Field: '|', Component: '^', Repeat: '~', Escape: '\\', Subcomponent: '&'}
}

// Segment is one parsed message segment: the three-letter name and its
// fields in wire order.
type Segment struct {
	Name   string
	fields []string
	seps   Separators
}

// Field returns the 1-based field value, or "" when the index is out of
// range. For MSH the field separator itself is field 1, so MSH-2 is the
// encoding characters and the remaining fields shift by one relative to
// their wire position.
func (s Segment) Field(i int) string {
	if i < 1 {
		return ""
	}
	if s.Name == "MSH" {
		if i == 1 {
			return string(s.seps.Field)
		}
		i--
	}
	if i > len(s.fields) {
		return ""
	}
	return s.fields[i-1]
}

// Component returns the 1-based component of a field value, splitting on
// the message's component separator. A field without separators is its own
// first component.
func (s Segment) Component(field string, i int) string {
	if i < 1 {
		return ""
	}
	parts := strings.Split(field, string(s.seps.Component))
	if i > len(parts) {
		return ""
	}
	return parts[i-1]
}

// FirstRepeat returns the field value before the first repetition
// separator.
func (s Segment) FirstRepeat(field string) string {
	if idx := strings.IndexByte(field, s.seps.Repeat); idx >= 0 {
		return field[:idx]
	}
	return field
}

// Raw reassembles the segment as it appeared on the wire. This holds for
// MSH too: its first stored field is the encoding characters, so joining
// restores the MSH|^~\&|... prefix.
func (s Segment) Raw() string {
	sep := string(s.seps.Field)
	return s.Name + sep + strings.Join(s.fields, sep)
}

// Message is a parsed HL7v2 message.
type Message struct {
	Separators Separators
	Segments   []Segment
}

// ParseMessage splits a raw message into segments. Lines may end in \r,
// \n, or \r\n; blank lines are skipped. The separator set is read from the
// MSH segment when present, otherwise the default set applies.
func ParseMessage(raw string) Message {
	seps := DefaultSeparators()
	if i := strings.Index(raw, "MSH"); i >= 0 && len(raw) > i+8 {
		seps.Field = raw[i+3]
		enc := raw[i+4 : i+8]
		seps.Component = enc[0]
		seps.Repeat = enc[1]
		seps.Escape = enc[2]
		seps.Subcomponent = enc[3]
	}

	normalized := strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(raw)
	var msg Message
	msg.Separators = seps
	for _, line := range strings.Split(normalized, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		seg := parseSegment(line, seps)
		if seg.Name == "" {
			continue
		}
		msg.Segments = append(msg.Segments, seg)
	}
	return msg
}

func parseSegment(line string, seps Separators) Segment {
	parts := strings.Split(line, string(seps.Field))
	if len(parts) == 0 || len(parts[0]) != 3 {
		return Segment{}
	}
	return Segment{Name: parts[0], fields: parts[1:], seps: seps}
}

// Unescape resolves the HL7v2 escape sequences for the delimiter set.
func Unescape(s string) string {
	r := strings.NewReplacer(
		"\\F\\", "|",
		"\\S\\", "^",
		"\\R\\", "~",
		"\\T\\", "&",
		"\\E\\", "\\",
	)
	return r.Replace(s)
}
