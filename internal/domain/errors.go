package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedInput marks an upload that is not parseable as tabular
	// data. Request-fatal before any external call is made.
	ErrMalformedInput = errors.New("malformed input")

	// ErrInvalidZip marks a ZIP the location lookup could not resolve.
	// Fatal for single-record submissions, absorbed as a per-ZIP error
	// marker during batch ingestion.
	ErrInvalidZip = errors.New("invalid ZIP")
)

// DelegateError reports a failed scoring delegate invocation: an abnormal
// exit, unparseable output, or a structured error document. A non-zero exit
// status is authoritative regardless of what the delegate wrote to stdout.
type DelegateError struct {
	Message  string
	Trace    string
	ExitCode int
}

func (e *DelegateError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("scoring delegate exited with status %d: %s", e.ExitCode, e.Message)
	}
	return fmt.Sprintf("scoring delegate failed: %s", e.Message)
}
