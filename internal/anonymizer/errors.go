package anonymizer

import (
	"errors"
	"fmt"
)

// ErrZeroLengthRule is returned by Compile for a rule that could match
// without consuming any input
var ErrZeroLengthRule = errors.New("rule can match an empty string")

// RuleError reports a mapping or link rule that could not be compiled
type RuleError struct {
	Rule string
	Err  error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.Rule, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }
