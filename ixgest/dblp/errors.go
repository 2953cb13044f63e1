package dblp

import (
	"fmt"

	"github.com/teranos/dblpix/errors"
)

// OverlappingRecordError is returned when a top-level record opens while
// another is still open. Stream position can no longer be trusted, so the
// run aborts.
type OverlappingRecordError struct {
	OpenKey      string
	OpenCategory Category
	Next         Category
}

func (e *OverlappingRecordError) Error() string {
	return fmt.Sprintf("<%s> opened while record %q (%s) is still open", e.Next, e.OpenKey, e.OpenCategory)
}

// Unwrap classifies the error as structural
func (e *OverlappingRecordError) Unwrap() error {
	return errors.ErrStructural
}

// UnmappedElementError is returned for a child element the translation table
// does not know. Fatal unless the assembler is permissive.
type UnmappedElementError struct {
	Element  string
	Key      string
	Category Category
}

func (e *UnmappedElementError) Error() string {
	return fmt.Sprintf("unmapped element <%s> in %s %q", e.Element, e.Category, e.Key)
}

// Unwrap classifies the error as unmapped
func (e *UnmappedElementError) Unwrap() error {
	return errors.ErrUnmapped
}

// RecordError confines a failure to one record
type RecordError struct {
	Key      string
	Category Category
	Err      error
}

func (e *RecordError) Error() string {
	key := e.Key
	if key == "" {
		key = "<no key>"
	}
	return fmt.Sprintf("record %s (%s): %v", key, e.Category, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// Is makes every RecordError match errors.ErrRecord
func (e *RecordError) Is(target error) bool {
	return target == errors.ErrRecord
}

func recordError(key string, category Category, err error) *RecordError {
	return &RecordError{Key: key, Category: category, Err: err}
}
