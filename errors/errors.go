// Package errors provides error handling for dblpix.
//
// This package re-exports github.com/cockroachdb/errors so every layer of the
// ingest gets stack traces, wrapping and user-facing hints from one import:
//
//	if err := tx.Commit(); err != nil {
//	    return errors.Wrapf(err, "commit batch %d", batch.ID)
//	}
//
//	return errors.WithHint(err, "re-run with --permissive to quarantine unknown tags")
//
// Sentinels below classify ingest failures. Wrap them to add context and test
// them with errors.Is.
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Assertions
var AssertionFailedf = crdb.AssertionFailedf

// GetStack returns the reportable stack trace attached to err, if any.
var GetStack = crdb.GetReportableStackTrace

// Sentinels for the ingest error taxonomy.
var (
	// ErrStructural marks input that violates record nesting. Always fatal.
	ErrStructural = New("structural error")

	// ErrUnmapped marks an element the translation table does not know.
	// Fatal unless the run is permissive.
	ErrUnmapped = New("unmapped element")

	// ErrRecord marks a failure confined to a single record.
	ErrRecord = New("record failure")

	// ErrCommit marks a failed batch commit. Every record in the batch is failed.
	ErrCommit = New("commit failure")

	// ErrInvalidConfig indicates configuration that cannot drive a run
	ErrInvalidConfig = New("invalid configuration")
)

// IsFatal reports whether err must abort the whole run.
func IsFatal(err error) bool {
	return err != nil && Is(err, ErrStructural)
}

// IsRecordScoped reports whether err only affects the record being assembled.
func IsRecordScoped(err error) bool {
	return err != nil && Is(err, ErrRecord)
}

// IsCommitError checks if an error is or wraps ErrCommit
func IsCommitError(err error) bool {
	return err != nil && Is(err, ErrCommit)
}
