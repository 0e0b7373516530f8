// Package tag validates finding tags and provides the set container used to
// rewrite a finding's tag list.
package tag

import (
	"fmt"

	regexp "github.com/wasilibs/go-re2"
)

// MaxLength is the longest tag the platform accepts.
const MaxLength = 63

// charsetPattern matches tags made only of letters, digits and "=@_.-".
var charsetPattern = regexp.MustCompile(`^[A-Za-z0-9=@_.-]+$`)

// Reason identifies which format rule a tag broke.
type Reason string

const (
	ReasonEmpty        Reason = "empty"
	ReasonTooLong      Reason = "too_long"
	ReasonBadCharacter Reason = "bad_character"
)

// ValidationError reports a tag that does not satisfy the format rule.
type ValidationError struct {
	Name   string // flag or role of the tag, e.g. "old tag"
	Tag    string
	Reason Reason
}

func (e *ValidationError) Error() string {
	switch e.Reason {
	case ReasonEmpty:
		return fmt.Sprintf("%s cannot be empty", e.Name)
	case ReasonTooLong:
		return fmt.Sprintf("%s must be %d characters or less (current: %d characters)", e.Name, MaxLength, len(e.Tag))
	default:
		return fmt.Sprintf("%s %q may contain only letters (A-Z), numbers (0-9), and the following characters (=@_.-)", e.Name, e.Tag)
	}
}

// Validate checks tag against the platform's format rule.
// Returns a *ValidationError naming the first rule broken, or nil.
func Validate(name, tag string) error {
	if tag == "" {
		return &ValidationError{Name: name, Tag: tag, Reason: ReasonEmpty}
	}

	if len(tag) > MaxLength {
		return &ValidationError{Name: name, Tag: tag, Reason: ReasonTooLong}
	}

	if !charsetPattern.MatchString(tag) {
		return &ValidationError{Name: name, Tag: tag, Reason: ReasonBadCharacter}
	}

	return nil
}

// IsValid reports whether tag satisfies the format rule.
func IsValid(tag string) bool {
	return Validate("tag", tag) == nil
}
