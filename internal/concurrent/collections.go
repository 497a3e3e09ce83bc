// Package concurrent layers three result-collection types over a
// minimal worker-pool core: an unordered Pool, a submission-ordered
// Queue, and a priority Heap. All three bound how many tasks run at
// once and let new tasks start as soon as a running slot frees up.
//
// The teacher's downloader.go hand-rolls exactly this "wait your turn,
// then signal the next slot" shape with a ring of buffered bool
// channels; these three types generalize that pattern behind a common
// contract. Pool is gated by golang.org/x/sync/semaphore; Queue and
// Heap count running tasks under their own mutex.
package concurrent

import (
	"container/heap"
	"container/list"
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Task is a unit of work submitted to a collection. It receives the
// collection's context, which is cancelled when Abort is called.
type Task func(ctx context.Context) (interface{}, error)

type taskResult struct {
	value interface{}
	err   error
}

// Collection is the contract shared by Pool, Queue, and Heap.
type Collection interface {
	// Len reports pending-plus-running task count.
	Len() int
	// Get blocks for the next result in the collection's delivery
	// order. It returns (nil, nil) once no further results are
	// outstanding.
	Get() (interface{}, error)
	// Abort cancels pending tasks and waits for running ones.
	Abort()
}

// ---- Pool: unordered, any completed result may be returned first ----

// Pool runs up to concurrency tasks at once and returns results in
// completion order.
type Pool struct {
	ctx     context.Context
	cancel  context.CancelFunc
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	results chan taskResult

	mu          sync.Mutex
	outstanding int
}

// NewPool builds a Pool bounded to concurrency simultaneous tasks.
func NewPool(ctx context.Context, concurrency int) *Pool {
	ctx, cancel := context.WithCancel(ctx)
	return &Pool{
		ctx:     ctx,
		cancel:  cancel,
		sem:     semaphore.NewWeighted(int64(concurrency)),
		results: make(chan taskResult, 4096),
	}
}

func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outstanding
}

// Put blocks until fewer than concurrency tasks are running, then
// starts task in the background.
func (p *Pool) Put(task Task) {
	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		return
	}
	p.mu.Lock()
	p.outstanding++
	p.mu.Unlock()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.sem.Release(1)
		value, err := task(p.ctx)
		p.results <- taskResult{value, err}
	}()
}

func (p *Pool) Get() (interface{}, error) {
	p.mu.Lock()
	if p.outstanding == 0 {
		p.mu.Unlock()
		return nil, nil
	}
	p.mu.Unlock()
	r := <-p.results
	p.mu.Lock()
	p.outstanding--
	p.mu.Unlock()
	return r.value, r.err
}

func (p *Pool) Abort() {
	p.cancel()
	p.wg.Wait()
}

// ---- Queue: strict FIFO submission order ----

type queueItem struct {
	task Task
	done chan struct{}
	taskResult
}

// Queue dispatches tasks in submission order (up to concurrency at
// once) and returns results strictly in that same order, even if a
// later task finishes first.
//
// Dispatch is consumer-driven, mirroring getm/concurrent/collections.py's
// ConcurrentQueue: a dispatched task occupies its slot until Get
// retrieves it, not merely until the task function returns. This is
// what bounds outstanding (started-but-unconsumed) work to concurrency
// — readers that write directly into a fixed-capacity buffer (e.g.
// ParallelReader) depend on that bound to avoid overrunning the
// consumer's read position.
type Queue struct {
	ctx    context.Context
	cancel context.CancelFunc

	concurrency int
	mu          sync.Mutex
	order       *list.List // of *queueItem, submission order, not yet Get'd
	pending     *list.List // of *queueItem, not yet dispatched
	running     int        // dispatched but not yet retrieved via Get
	wg          sync.WaitGroup
}

// NewQueue builds a Queue bounded to concurrency simultaneous tasks.
func NewQueue(ctx context.Context, concurrency int) *Queue {
	ctx, cancel := context.WithCancel(ctx)
	return &Queue{
		ctx:         ctx,
		cancel:      cancel,
		concurrency: concurrency,
		order:       list.New(),
		pending:     list.New(),
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.order.Len()
}

// Put appends task to the submission order; dispatch is deferred until
// a concurrency slot is free.
func (q *Queue) Put(task Task) {
	item := &queueItem{task: task, done: make(chan struct{})}
	q.mu.Lock()
	q.order.PushBack(item)
	q.pending.PushBack(item)
	q.mu.Unlock()
	q.dispatch()
}

func (q *Queue) dispatch() {
	q.mu.Lock()
	var toRun []*queueItem
	for q.running < q.concurrency && q.pending.Len() > 0 {
		front := q.pending.Front()
		item := q.pending.Remove(front).(*queueItem)
		q.running++
		toRun = append(toRun, item)
	}
	q.mu.Unlock()
	for _, item := range toRun {
		item := item
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			item.value, item.err = item.task(q.ctx)
			close(item.done)
		}()
	}
}

// Get blocks for the next result, strictly in submission order. Only
// Get frees the dispatched task's slot and triggers the next pending
// task's dispatch — a task that finishes running but hasn't been
// retrieved yet still counts against concurrency.
func (q *Queue) Get() (interface{}, error) {
	q.mu.Lock()
	if q.order.Len() == 0 {
		q.mu.Unlock()
		return nil, nil
	}
	front := q.order.Front()
	item := q.order.Remove(front).(*queueItem)
	q.mu.Unlock()
	<-item.done
	q.mu.Lock()
	q.running--
	q.mu.Unlock()
	q.dispatch()
	return item.value, item.err
}

func (q *Queue) Abort() {
	q.cancel()
	q.wg.Wait()
}

// ---- Heap: priority-ordered dispatch, unordered completion ----

type heapItem struct {
	priority int
	seq      int // submission sequence, breaks priority ties FIFO
	task     Task
}

type priorityQueue []*heapItem

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].priority != pq[j].priority {
		return pq[i].priority > pq[j].priority // highest priority first
	}
	return pq[i].seq < pq[j].seq
}
func (pq priorityQueue) Swap(i, j int)      { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x interface{}) { *pq = append(*pq, x.(*heapItem)) }
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// Heap dispatches the highest-priority pending task whenever a
// concurrency slot frees up; Get returns whichever dispatched task
// completes first (priority governs dispatch order, not completion
// order).
type Heap struct {
	ctx    context.Context
	cancel context.CancelFunc

	concurrency int
	mu          sync.Mutex
	pq          priorityQueue
	nextSeq     int
	running     int
	outstanding int
	results     chan taskResult
	wg          sync.WaitGroup
}

// NewHeap builds a Heap bounded to concurrency simultaneous tasks.
func NewHeap(ctx context.Context, concurrency int) *Heap {
	ctx, cancel := context.WithCancel(ctx)
	return &Heap{
		ctx:         ctx,
		cancel:      cancel,
		concurrency: concurrency,
		results:     make(chan taskResult, 4096),
	}
}

func (h *Heap) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outstanding
}

// PriorityPut enqueues task with the given priority; higher values run
// sooner.
func (h *Heap) PriorityPut(priority int, task Task) {
	h.mu.Lock()
	heap.Push(&h.pq, &heapItem{priority: priority, seq: h.nextSeq, task: task})
	h.nextSeq++
	h.outstanding++
	h.mu.Unlock()
	h.dispatch()
}

// Put enqueues task with the default priority of 1.
func (h *Heap) Put(task Task) { h.PriorityPut(1, task) }

func (h *Heap) dispatch() {
	h.mu.Lock()
	var toRun []*heapItem
	for h.running < h.concurrency && h.pq.Len() > 0 {
		item := heap.Pop(&h.pq).(*heapItem)
		h.running++
		toRun = append(toRun, item)
	}
	h.mu.Unlock()
	for _, item := range toRun {
		item := item
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			value, err := item.task(h.ctx)
			h.mu.Lock()
			h.running--
			h.mu.Unlock()
			h.results <- taskResult{value, err}
			h.dispatch()
		}()
	}
}

// Get blocks for the next completed result, in completion order.
func (h *Heap) Get() (interface{}, error) {
	h.mu.Lock()
	if h.outstanding == 0 {
		h.mu.Unlock()
		return nil, nil
	}
	h.mu.Unlock()
	r := <-h.results
	h.mu.Lock()
	h.outstanding--
	h.mu.Unlock()
	return r.value, r.err
}

func (h *Heap) Abort() {
	h.cancel()
	h.wg.Wait()
}
