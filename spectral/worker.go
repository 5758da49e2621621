package spectral

import "sync/atomic"

// Worker runs transforms on a separate goroutine so the timing-critical
// capture path never waits for one. Submission is non-blocking: a block
// offered while the worker is occupied is dropped and counted.
type Worker struct {
	in      chan []int16
	out     chan Result
	quit    chan struct{}
	dropped atomic.Uint64
}

// NewWorker starts a worker around the given analyzer.
// queue is the number of blocks that may wait while one is in flight.
func NewWorker(a *Analyzer, queue int) *Worker {
	w := &Worker{
		in:   make(chan []int16, queue),
		out:  make(chan Result, queue+1),
		quit: make(chan struct{}),
	}
	go w.run(a)
	return w
}

func (w *Worker) run(a *Analyzer) {
	for {
		select {
		case block := <-w.in:
			if err := a.Start(block); err != nil {
				continue
			}
			res, err := a.Result()
			if err != nil {
				continue
			}
			select {
			case w.out <- res:
			case <-w.quit:
				return
			}
		case <-w.quit:
			return
		}
	}
}

// TrySubmit offers a block without blocking.
// Returns false and counts the drop if the queue is full.
// The worker takes ownership of the slice.
func (w *Worker) TrySubmit(block []int16) bool {
	select {
	case w.in <- block:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Results delivers completed transform results.
func (w *Worker) Results() <-chan Result {
	return w.out
}

// Dropped returns the number of blocks rejected by TrySubmit.
func (w *Worker) Dropped() uint64 {
	return w.dropped.Load()
}

// Close stops the worker goroutine. Pending results are discarded.
func (w *Worker) Close() {
	close(w.quit)
}
