package reader

import (
	"context"
	"errors"
	"io"

	"blobfetch/internal/httpclient"
)

// RawReader wraps a single streaming GET with no concurrency and no
// buffer substrate; the orchestrator uses it for the one-shot path.
type RawReader struct {
	Unseekable
	body io.ReadCloser
	size uint64
}

// NewRaw opens rawURL as a single streaming GET.
func NewRaw(ctx context.Context, client *httpclient.Client, rawURL string) (*RawReader, error) {
	size, err := client.Size(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	body, err := client.Open(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return &RawReader{body: body, size: uint64(size)}, nil
}

func (r *RawReader) Size() uint64 { return r.size }

// Read reads up to n bytes from the body. The returned view may be
// shorter than n at end of stream.
func (r *RawReader) Read(ctx context.Context, n int) (*View, error) {
	buf := make([]byte, n)
	read, err := io.ReadFull(r.body, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return newView(buf[:read], nil), nil
}

func (r *RawReader) ReadInto(ctx context.Context, dst []byte) (int, error) {
	return r.body.Read(dst)
}

func (r *RawReader) Close() error { return r.body.Close() }

// Iter streams the body in chunkSize blocks, invoking fn for each.
// Iteration stops early (without error) if fn returns false.
func (r *RawReader) Iter(ctx context.Context, chunkSize int, fn func(*View) bool) error {
	for {
		buf := make([]byte, chunkSize)
		n, err := r.body.Read(buf)
		if n > 0 {
			v := newView(buf[:n], nil)
			cont := fn(v)
			_ = v.Release()
			if !cont {
				return nil
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
