package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"blobfetch/internal/httpclient"
	"blobfetch/internal/shm"
	"blobfetch/internal/xerr"
)

// readWait is how long the keep-alive producer and consumer each sleep
// between polls of the other side's coordinate.
const readWait = 50 * time.Millisecond

// ComputeBufferSize reports the largest buffer that divides evenly by
// chunkSize, fits available_shared_memory/concurrentDownloads, and is
// capped at 100*chunkSize. If available shared memory can't be probed
// (non-Linux), it defaults to 100*chunkSize.
func ComputeBufferSize(concurrentDownloads int, chunkSize uint32) int64 {
	chunk := int64(chunkSize)
	shmSize := shm.AvailableSharedMemory()
	if shmSize < 0 {
		return 100 * chunk
	}
	bufSize := shmSize / int64(concurrentDownloads)
	bufSize = (bufSize/chunk - 1) * chunk
	if bufSize > 100*chunk {
		bufSize = 100 * chunk
	}
	if bufSize < chunk {
		bufSize = chunk
	}
	return bufSize
}

// KeepAliveReader holds a single HTTP streaming GET open and reads
// successive chunkSize blocks into a circular buffer from a background
// goroutine, flow-controlled by the consumer's start coordinate.
type KeepAliveReader struct {
	Unseekable

	client    *httpclient.Client
	url       string
	size      uint64
	chunkSize uint32
	buf       *shm.CircularBuffer
	maxRead   int64
	done      chan struct{}

	start, stop int64

	mu       sync.Mutex
	workerErr error
}

// NewKeepAlive opens rawURL for keep-alive streaming. A bufferSize of 0
// uses ComputeBufferSize(1, chunkSize).
func NewKeepAlive(ctx context.Context, client *httpclient.Client, rawURL string, chunkSize uint32, bufferSize int64) (*KeepAliveReader, error) {
	if bufferSize == 0 {
		bufferSize = ComputeBufferSize(1, chunkSize)
	}
	if bufferSize < 3*int64(chunkSize) {
		return nil, fmt.Errorf("reader: buffer_size %d is too small for chunk_size %d", bufferSize, chunkSize)
	}
	size, err := client.Size(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	buf, err := shm.NewCircularBuffer(bufferSize)
	if err != nil {
		return nil, xerr.New(xerr.KindSharedMemoryAlloc, rawURL, err)
	}
	r := &KeepAliveReader{
		client:    client,
		url:       rawURL,
		size:      uint64(size),
		chunkSize: chunkSize,
		buf:       buf,
		maxRead:   bufferSize - int64(chunkSize),
		done:      make(chan struct{}),
	}
	go r.run(ctx)
	return r, nil
}

func (r *KeepAliveReader) Size() uint64 { return r.size }

func (r *KeepAliveReader) run(ctx context.Context) {
	defer close(r.done)
	body, err := r.client.Open(ctx, r.url)
	if err != nil {
		r.setErr(err)
		return
	}
	defer body.Close()

	bufferSize := r.buf.Capacity()
	chunk := int64(r.chunkSize)
	var start, stop int64
	for {
		for stop-start+chunk >= bufferSize {
			select {
			case <-ctx.Done():
				return
			case <-time.After(readWait):
			}
			start = r.buf.Start()
			if start == shm.Closed {
				return
			}
		}
		// Fill at most up to the end of the backing array; the next
		// iteration continues from physical offset 0.
		end := stop + chunk
		if room := bufferSize - stop%bufferSize; room < chunk {
			end = stop + room
		}
		dst, err := r.buf.WriteAt(stop, end)
		if err != nil {
			r.setErr(err)
			return
		}
		n, err := body.Read(dst)
		if n == 0 {
			if err != nil && !errors.Is(err, io.EOF) {
				r.setErr(err)
			}
			return
		}
		stop += int64(n)
		r.buf.SetStop(stop)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			r.setErr(err)
			return
		}
	}
}

func (r *KeepAliveReader) setErr(err error) {
	r.mu.Lock()
	r.workerErr = err
	r.mu.Unlock()
}

func (r *KeepAliveReader) workerError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.workerErr
}

// Read caps sz to maxRead and polls the producer's stop coordinate
// until the requested bytes (or end of stream) are available.
func (r *KeepAliveReader) Read(ctx context.Context, n int) (*View, error) {
	r.buf.SetStart(r.start)
	sz := int64(n)
	if sz > r.maxRead {
		sz = r.maxRead
	}
	for sz > r.stop-r.start && r.stop < int64(r.size) {
		if werr := r.workerError(); werr != nil {
			return nil, werr
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(readWait):
		}
		r.stop = r.buf.Stop()
	}
	if sz > r.stop-r.start {
		sz = r.stop - r.start
	}
	if sz == 0 {
		return newView(nil, nil), nil
	}
	data, err := r.buf.Read(r.start, r.start+sz)
	if err != nil {
		return nil, err
	}
	start := r.start
	r.start += int64(len(data))
	return newView(data, func() { r.buf.SetStart(start + int64(len(data))) }), nil
}

func (r *KeepAliveReader) ReadInto(ctx context.Context, dst []byte) (int, error) {
	v, err := r.Read(ctx, len(dst))
	if err != nil {
		return 0, err
	}
	n := copy(dst, v.Bytes())
	_ = v.Release()
	return n, nil
}

// Close sends the close sentinel so the background producer exits
// promptly, then waits (bounded) for it to finish.
func (r *KeepAliveReader) Close() error {
	r.buf.SetStart(shm.Closed)
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
	}
	return r.workerError()
}

// Iter streams chunkSize-sized views in order, independent of Read's
// max_read cap, tracking its own cursors against the shared buffer.
func (r *KeepAliveReader) Iter(ctx context.Context, fn func(*View) bool) error {
	r.buf.SetStart(0)
	var start, stop int64
	chunk := int64(r.chunkSize)
	for {
		for stop-start < chunk && stop < int64(r.size) {
			if werr := r.workerError(); werr != nil {
				return werr
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(readWait):
			}
			stop = r.buf.Stop()
		}
		readLength := chunk
		if stop-start < readLength {
			readLength = stop - start
		}
		if readLength == 0 {
			return nil
		}
		data, err := r.buf.Read(start, start+readLength)
		if err != nil {
			return err
		}
		start += int64(len(data))
		cont := fn(newView(data, nil))
		r.buf.SetStart(start)
		if !cont {
			return nil
		}
	}
}
