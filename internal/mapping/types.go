package mapping

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies what a mapping's original value represents
type Kind string

const (
	KindName    Kind = "name"
	KindEmail   Kind = "email"
	KindGeneric Kind = "generic"
)

// ParseKind converts a user supplied kind name
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindName:
		return KindName, nil
	case KindEmail:
		return KindEmail, nil
	case KindGeneric, "":
		return KindGeneric, nil
	}
	return "", fmt.Errorf("unknown mapping kind: %s (must be name, email, or generic)", s)
}

// Entry is a single original→replacement substitution
type Entry struct {
	Original    string `json:"original" yaml:"original" mapstructure:"original"`
	Replacement string `json:"replacement" yaml:"replacement" mapstructure:"replacement"`
	Kind        Kind   `json:"kind" yaml:"kind" mapstructure:"kind"`
}

// Mode selects how mappings are generated from a chat export
type Mode string

const (
	// ModeManual only applies user supplied mappings
	ModeManual Mode = "manual"
	// ModeMixed applies user supplied mappings and generates the rest
	ModeMixed Mode = "mixed"
	// ModeAutomatic generates a mapping for every discovered name and email
	ModeAutomatic Mode = "automatic"
)

// ParseMode converts a user supplied mode name
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeManual, ModeMixed, ModeAutomatic:
		return m, nil
	}
	return "", fmt.Errorf("invalid mode '%s': must be 'automatic', 'manual', or 'mixed'", s)
}

var (
	// ErrDuplicateMapping is wrapped by DuplicateMappingError
	ErrDuplicateMapping = errors.New("duplicate mapping")
	// ErrEmptyValue is wrapped by EmptyValueError
	ErrEmptyValue = errors.New("empty mapping value")
)

// DuplicateMappingError is returned when an original is already mapped
type DuplicateMappingError struct {
	Original string
	Existing string
}

func (e *DuplicateMappingError) Error() string {
	return fmt.Sprintf("mapping for %q already exists (as %q); remove it first", e.Original, e.Existing)
}

func (e *DuplicateMappingError) Unwrap() error { return ErrDuplicateMapping }

// EmptyValueError is returned when either side of a mapping is blank
type EmptyValueError struct {
	Field string // "original" or "replacement"
}

func (e *EmptyValueError) Error() string {
	return fmt.Sprintf("%s text cannot be empty", e.Field)
}

func (e *EmptyValueError) Unwrap() error { return ErrEmptyValue }

// LineError describes a rejected line from a bulk import
type LineError struct {
	Line   int    `json:"line"`
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

// BulkResult summarizes a bulk import
type BulkResult struct {
	Added      int         `json:"added"`
	Skipped    int         `json:"skipped"`
	Duplicates int         `json:"duplicates"`
	Errors     []LineError `json:"errors,omitempty"`
}

// Collision lists originals that share one replacement
type Collision struct {
	Replacement string   `json:"replacement"`
	Originals   []string `json:"originals"`
}
