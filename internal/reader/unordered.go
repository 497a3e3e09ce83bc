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

// UnorderedPart is one delivered part: its plan identity plus a
// borrowed view into the slot it was fetched into. IterUnordered reuses
// that slot for a later part as soon as fn returns, whether or not the
// view has been released, so the view's bytes are valid only until fn
// returns.
type UnorderedPart struct {
	PartID uint32
	View   *View
}

type unorderedResult struct {
	part rangeplan.Part
	slot int
}

// IterUnordered fetches the same part plan as ParallelReader but
// delivers (part_id, view) pairs in completion order rather than file
// order, backed by a fixed-size BufferArray with one slot per unit of
// concurrency. Once fn returns true for a part, its slot is immediately
// refilled with the next pending part, if any; releasing the view does
// not gate this reuse.
func IterUnordered(ctx context.Context, client *httpclient.Client, rawURL string, chunkSize uint32, concurrency int, fn func(UnorderedPart) bool) error {
	if concurrency < 1 {
		return fmt.Errorf("reader: concurrency must be >= 1")
	}
	size, err := client.Size(ctx, rawURL)
	if err != nil {
		return err
	}
	parts, err := rangeplan.Plan(uint64(size), chunkSize)
	if err != nil {
		return err
	}
	buf, err := shm.NewBufferArray(int(chunkSize), concurrency)
	if err != nil {
		return xerr.New(xerr.KindSharedMemoryAlloc, rawURL, err)
	}
	pool := concurrent.NewPool(ctx, concurrency)
	defer pool.Abort()

	pending := parts
	dispatch := func(slot int) {
		if len(pending) == 0 {
			return
		}
		part := pending[0]
		pending = pending[1:]
		pool.Put(func(taskCtx context.Context) (interface{}, error) {
			dst, err := buf.Slot(slot)
			if err != nil {
				return nil, err
			}
			if err := client.RangeReadInto(taskCtx, rawURL, int64(part.Start), int(part.Length), dst[:part.Length]); err != nil {
				return nil, err
			}
			return unorderedResult{part: part, slot: slot}, nil
		})
	}
	for slot := 0; slot < concurrency && len(pending) > 0; slot++ {
		dispatch(slot)
	}

	for pool.Len() > 0 {
		res, err := pool.Get()
		if err != nil {
			return err
		}
		ur := res.(unorderedResult)
		slotBytes, err := buf.Slot(ur.slot)
		if err != nil {
			return err
		}
		cont := fn(UnorderedPart{PartID: ur.part.ID, View: newView(slotBytes[:ur.part.Length], nil)})
		if !cont {
			return nil
		}
		dispatch(ur.slot)
	}
	return nil
}
