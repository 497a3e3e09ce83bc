package reader

import (
	"context"
	"fmt"

	"blobfetch/internal/concurrent"
	"blobfetch/internal/httpclient"
	"blobfetch/internal/rangeplan"
	"blobfetch/internal/shm"
	"blobfetch/internal/xerr"
)

type partResult struct {
	id     uint32
	start  uint64
	length uint32
}

// ParallelReader fans a single object out across concurrency workers,
// each fetching one chunk_size range, and delivers bytes back in file
// order through a circular buffer of capacity (2*concurrency+1)*chunkSize.
type ParallelReader struct {
	Unseekable

	buf     *shm.CircularBuffer
	queue   *concurrent.Queue
	maxRead int64
	size    uint64

	start, stop int64
	pending     int
}

// NewParallel opens rawURL for N-way parallel range fetching.
func NewParallel(ctx context.Context, client *httpclient.Client, rawURL string, chunkSize uint32, concurrency int) (*ParallelReader, error) {
	if chunkSize == 0 {
		return nil, fmt.Errorf("reader: chunk size must be >= 1")
	}
	if concurrency < 1 {
		return nil, fmt.Errorf("reader: concurrency must be >= 1")
	}
	size, err := client.Size(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	parts, err := rangeplan.Plan(uint64(size), chunkSize)
	if err != nil {
		return nil, err
	}
	capacity := int64(2*concurrency+1) * int64(chunkSize)
	buf, err := shm.NewCircularBuffer(capacity)
	if err != nil {
		return nil, xerr.New(xerr.KindSharedMemoryAlloc, rawURL, err)
	}
	r := &ParallelReader{
		buf:     buf,
		queue:   concurrent.NewQueue(ctx, concurrency),
		maxRead: int64(concurrency) * int64(chunkSize),
		size:    uint64(size),
	}
	for _, part := range parts {
		part := part
		r.queue.Put(func(taskCtx context.Context) (interface{}, error) {
			dst, err := buf.WriteAt(int64(part.Start), int64(part.Start)+int64(part.Length))
			if err != nil {
				return nil, err
			}
			if err := client.RangeReadInto(taskCtx, rawURL, int64(part.Start), int(part.Length), dst); err != nil {
				return nil, err
			}
			return partResult{id: part.ID, start: part.Start, length: part.Length}, nil
		})
		r.pending++
	}
	return r, nil
}

func (r *ParallelReader) Size() uint64 { return r.size }

// Read reclaims completed parts (advancing the local stop cursor)
// until n bytes (capped to concurrency*chunkSize) are available or the
// plan is exhausted.
func (r *ParallelReader) Read(ctx context.Context, n int) (*View, error) {
	sz := int64(n)
	if sz > r.maxRead {
		sz = r.maxRead
	}
	for sz > r.stop-r.start && r.pending > 0 {
		res, err := r.queue.Get()
		if err != nil {
			return nil, err
		}
		pr := res.(partResult)
		r.stop += int64(pr.length)
		r.pending--
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

func (r *ParallelReader) ReadInto(ctx context.Context, dst []byte) (int, error) {
	v, err := r.Read(ctx, len(dst))
	if err != nil {
		return 0, err
	}
	n := copy(dst, v.Bytes())
	_ = v.Release()
	return n, nil
}

func (r *ParallelReader) Close() error {
	r.queue.Abort()
	return nil
}

// Iter yields each part's view directly, in file order, bypassing the
// read-size cap Read imposes.
func (r *ParallelReader) Iter(ctx context.Context, fn func(*View) bool) error {
	for r.pending > 0 {
		res, err := r.queue.Get()
		if err != nil {
			return err
		}
		pr := res.(partResult)
		data, err := r.buf.Read(int64(pr.start), int64(pr.start)+int64(pr.length))
		if err != nil {
			return err
		}
		r.pending--
		end := int64(pr.start) + int64(len(data))
		if !fn(newView(data, func() { r.buf.SetStart(end) })) {
			return nil
		}
	}
	return nil
}
