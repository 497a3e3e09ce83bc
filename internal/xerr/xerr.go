// Package xerr defines the small enum of error kinds blobfetch
// distinguishes when deciding whether to retry, log, or abort, wrapped
// via the standard library's error-wrapping idiom rather than a
// dedicated errors package (see DESIGN.md: no pack repo newer than the
// teacher reaches for anything beyond stdlib wrapping for this).
package xerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for logging and exit-code purposes.
type Kind string

const (
	KindTransientNetwork   Kind = "transient_network"
	KindShortBody          Kind = "short_body_on_2xx"
	KindInaccessibleURL    Kind = "inaccessible_url"
	KindChecksumMismatch   Kind = "checksum_mismatch"
	KindAmbiguousS3Layout  Kind = "ambiguous_s3_layout"
	KindInvalidManifest    Kind = "invalid_manifest"
	KindSharedMemoryAlloc  Kind = "shared_memory_allocation_failure"
)

// Error pairs a Kind with the URL it concerns and an underlying cause.
type Error struct {
	Kind Kind
	URL  string
	Err  error
}

func (e *Error) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error, wrapping err with fmt.Errorf("%w", ...)
// semantics so errors.Is/As chains through to the cause.
func New(kind Kind, url string, err error) *Error {
	return &Error{Kind: kind, URL: url, Err: err}
}

// Of reports the Kind of err if it (or something it wraps) is an
// *Error, and ok=false otherwise.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
