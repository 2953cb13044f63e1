package dblp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/teranos/dblpix/errors"
)

// CoercionError reports a scalar that could not be converted to its column
// type. It never leaves the assembler: the field is stored as null.
type CoercionError struct {
	Field string
	Value string
	Err   error
}

func (e *CoercionError) Error() string {
	return fmt.Sprintf("cannot coerce %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *CoercionError) Unwrap() error {
	return e.Err
}

// ParseInt converts trimmed text to an int. The result is nil on failure.
func ParseInt(field, text string) (*int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return nil, &CoercionError{Field: field, Value: text, Err: err}
	}
	return &n, nil
}

// ParsePages converts "N" to [N,N] and "N-M" to [N,M]. Anything else,
// including article numbers like "12:1-12:20" and open ranges like "5-",
// yields nil.
func ParsePages(text string) (*PageRange, error) {
	parts := strings.Split(strings.TrimSpace(text), "-")
	if len(parts) > 2 {
		return nil, &CoercionError{Field: "pages", Value: text, Err: errors.Newf("%d range separators", len(parts)-1)}
	}

	bounds := make([]int, len(parts))
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, &CoercionError{Field: "pages", Value: text, Err: err}
		}
		bounds[i] = n
	}

	if len(bounds) == 1 {
		return &PageRange{Start: bounds[0], End: bounds[0]}, nil
	}
	return &PageRange{Start: bounds[0], End: bounds[1]}, nil
}
