package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes that callers branch on with
// errors.Is. Per-file and per-message failures (ParseError, DecodeError)
// never abort a batch; ErrInvalidQuery and ErrIndexUnavailable abort
// immediately and surface to the caller.
var (
	// ErrMissingReferenceTime marks a GRIB message without a usable
	// dataDate/dataTime pair.
	ErrMissingReferenceTime = errors.New("grib message missing reference time")

	// ErrMissingLeadTime marks a GRIB message where neither forecastTime,
	// stepRange, endStep nor step yields a lead.
	ErrMissingLeadTime = errors.New("grib message missing forecast lead time")

	// ErrIndexUnavailable means the index store does not exist or cannot be
	// reached. Recoverable: the caller may rebuild the index and retry.
	ErrIndexUnavailable = errors.New("index store unavailable")

	// ErrInvalidQuery marks an empty or contradictory filter set. Surfaced
	// immediately, never retried.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrUnrecognizedName marks a corpus file whose name does not match the
	// CFS naming convention. The file is skipped with a warning.
	ErrUnrecognizedName = errors.New("unrecognized corpus filename")

	// ErrStoreBusy is returned once the bounded busy-retry budget for the
	// underlying store is exhausted.
	ErrStoreBusy = errors.New("index store busy")
)

// ParseError wraps a per-file metadata failure (bad name, missing header
// fields). The file is skipped and processing continues.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s: %v", e.Path, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// DecodeError wraps a corrupt or partially readable GRIB message. The
// message is skipped; the rest of the file continues.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("decode %s: %v", e.Path, e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }
