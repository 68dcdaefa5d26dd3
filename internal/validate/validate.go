// Package validate checks and cleans inbound chat text before it reaches the model.
package validate

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxLength is the longest accepted message in runes.
const DefaultMaxLength = 2000

// ErrEmpty is returned for messages that are blank after cleaning.
var ErrEmpty = errors.New("Message cannot be empty")

// LengthError is returned for messages longer than the configured maximum.
type LengthError struct {
	Max    int
	Length int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("Message too long (max %d characters)", e.Max)
}

// Validator cleans and bounds user text. The zero value uses DefaultMaxLength.
type Validator struct {
	MaxLength int
}

// Message returns the cleaned text or a user-presentable error.
// Cleaning trims surrounding whitespace and drops control characters other than
// newline and tab.
func (v Validator) Message(text string) (string, error) {
	limit := v.MaxLength
	if limit <= 0 {
		limit = DefaultMaxLength
	}

	cleaned := strings.TrimSpace(strings.Map(dropControl, text))
	if cleaned == "" {
		return "", ErrEmpty
	}
	if n := utf8.RuneCountInString(cleaned); n > limit {
		return "", &LengthError{Max: limit, Length: n}
	}
	return cleaned, nil
}

func dropControl(r rune) rune {
	if r == '\n' || r == '\t' {
		return r
	}
	if unicode.IsControl(r) || r == utf8.RuneError {
		return -1
	}
	return r
}
