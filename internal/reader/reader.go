// Package reader implements the three URL-reading strategies and the
// unordered multi-range helper: raw streaming (no concurrency), an
// N-way parallel ordered range reader, and a single-connection
// keep-alive streaming reader, all exposing the same read/iter
// contract over borrowed, explicitly-released views.
package reader

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrUnsupported is returned by the seek/tell/truncate/write operations
// every reader refuses unconditionally.
var ErrUnsupported = errors.New("reader: operation not supported")

// Reader is the contract shared by every strategy in this package.
type Reader interface {
	// Read returns a view of up to n bytes. The view may be shorter
	// than n (e.g. at a circular-buffer wrap boundary or end of
	// stream); callers that need exactly n bytes must loop.
	Read(ctx context.Context, n int) (*View, error)
	// ReadInto copies into dst, returning the number of bytes read.
	ReadInto(ctx context.Context, dst []byte) (int, error)
	// Size returns the total object size in bytes.
	Size() uint64
	// Close releases background workers and buffers.
	Close() error

	Seek(offset int64, whence int) (int64, error)
	Tell() (int64, error)
	Truncate(size int64) error
	Write(p []byte) (int, error)
}

// Unseekable implements the four operations every Reader refuses.
// Concrete readers embed it to satisfy the rest of the Reader contract.
type Unseekable struct{}

func (Unseekable) Seek(offset int64, whence int) (int64, error) { return 0, ErrUnsupported }
func (Unseekable) Tell() (int64, error)                         { return 0, ErrUnsupported }
func (Unseekable) Truncate(size int64) error                    { return ErrUnsupported }
func (Unseekable) Write(p []byte) (int, error)                  { return 0, ErrUnsupported }

// View is a borrowed reference to bytes owned by a reader's buffer
// substrate. It must be released exactly once; a second Release call
// is a programming error and returns an error rather than panicking,
// so callers can surface it during development without crashing a
// production download.
type View struct {
	data     []byte
	onRelease func()
	released atomic.Bool
}

func newView(data []byte, onRelease func()) *View {
	return &View{data: data, onRelease: onRelease}
}

// Bytes returns the borrowed byte slice. It is invalid to retain this
// slice past Release.
func (v *View) Bytes() []byte { return v.data }

// Release returns the underlying region to the producer. It is an
// error to call Release more than once on the same view.
func (v *View) Release() error {
	if !v.released.CompareAndSwap(false, true) {
		return errors.New("reader: view released twice")
	}
	if v.onRelease != nil {
		v.onRelease()
	}
	return nil
}
