package chat

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSchema is the sentinel wrapped by every SchemaError
var ErrSchema = errors.New("malformed message record")

// ErrNotChatExport is returned when the input is not a Google Chat messages export
var ErrNotChatExport = errors.New("input is not a Google Chat export: expected an object with a messages array")

// Person identifies a message author or reactor
type Person struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// IsZero reports whether both name and email are blank
func (p Person) IsZero() bool {
	return strings.TrimSpace(p.Name) == "" && strings.TrimSpace(p.Email) == ""
}

// Reaction is one reactor's emoji on a message
type Reaction struct {
	Emoji   string `json:"emoji"`
	Reactor Person `json:"reactor"`
}

// Attachment describes a file attached to a message
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
}

// MessageRecord is the normalized form of a single chat message.
// Creator and Text are pointers so that a missing field can be told apart
// from an empty one.
type MessageRecord struct {
	Creator     *Person        `json:"creator,omitempty"`
	Text        *string        `json:"text,omitempty"`
	TimestampMs int64          `json:"timestamp_ms"`
	Quoted      *MessageRecord `json:"quoted,omitempty"`
	Reactions   []Reaction     `json:"reactions,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	// Mentions are the users @-mentioned in the text, in annotation order
	Mentions []Person `json:"mentions,omitempty"`
}

// SchemaError reports a record that lacks a required field
type SchemaError struct {
	Index int
	Field string
}

func (e *SchemaError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("message %d: missing required field %q", e.Index, e.Field)
	}
	return fmt.Sprintf("missing required field %q", e.Field)
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

// Validate checks that the record has a creator and a text container.
// A message that carries only attachments has no text but is still valid.
func (m *MessageRecord) Validate() error {
	if m.Creator == nil || m.Creator.IsZero() {
		return &SchemaError{Index: -1, Field: "creator"}
	}
	if m.Text == nil && len(m.Attachments) == 0 {
		return &SchemaError{Index: -1, Field: "text"}
	}
	return nil
}

// TextValue returns the message text or an empty string
func (m *MessageRecord) TextValue() string {
	if m.Text == nil {
		return ""
	}
	return *m.Text
}

// CreatorValue returns the creator or a zero Person
func (m *MessageRecord) CreatorValue() Person {
	if m.Creator == nil {
		return Person{}
	}
	return *m.Creator
}

// Clone returns a deep copy of the record tree
func (m *MessageRecord) Clone() *MessageRecord {
	if m == nil {
		return nil
	}
	out := &MessageRecord{TimestampMs: m.TimestampMs}
	if m.Creator != nil {
		c := *m.Creator
		out.Creator = &c
	}
	if m.Text != nil {
		t := *m.Text
		out.Text = &t
	}
	out.Quoted = m.Quoted.Clone()
	if m.Reactions != nil {
		out.Reactions = append([]Reaction(nil), m.Reactions...)
	}
	if m.Attachments != nil {
		out.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.Mentions != nil {
		out.Mentions = append([]Person(nil), m.Mentions...)
	}
	return out
}

// StringPtr is a convenience for building records with text
func StringPtr(s string) *string {
	return &s
}
