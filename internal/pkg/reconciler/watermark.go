package reconciler

import "sync"

// watermark tracks which blocks still have events in flight. Resuming from
// low() never skips an unapplied event; already applied ones are replayed
// and dropped as duplicates.
type watermark struct {
	mu       sync.Mutex
	inflight map[uint64]int
	last     uint64
}

func newWatermark(start uint64) *watermark {
	return &watermark{inflight: make(map[uint64]int), last: start}
}

func (w *watermark) add(block uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.inflight[block]++
	if block > w.last {
		w.last = block
	}
}

func (w *watermark) done(block uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.inflight[block] <= 1 {
		delete(w.inflight, block)
		return
	}
	w.inflight[block]--
}

func (w *watermark) low() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	low := w.last
	for block := range w.inflight {
		if block < low {
			low = block
		}
	}
	return low
}

func (w *watermark) lastBlock() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}
