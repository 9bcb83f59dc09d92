package pipeline

import (
	"slices"
	"sync"
)

// watermark tracks the highest sequence number below which every message of
// a run has finished.
type watermark struct {
	mu      sync.Mutex
	pending []int64 // sorted ascending, not yet behind the mark
	done    map[int64]bool
	mark    int64
}

// newWatermark starts at mark with seqs outstanding. seqs must be above mark.
func newWatermark(mark int64, seqs []int64) *watermark {
	pending := slices.Clone(seqs)
	slices.Sort(pending)
	return &watermark{
		pending: pending,
		done:    make(map[int64]bool, len(seqs)),
		mark:    mark,
	}
}

// Finish records seq as done and returns the new mark and whether it moved.
func (w *watermark) Finish(seq int64) (int64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.done[seq] = true
	moved := false
	for len(w.pending) > 0 && w.done[w.pending[0]] {
		w.mark = w.pending[0]
		delete(w.done, w.pending[0])
		w.pending = w.pending[1:]
		moved = true
	}
	return w.mark, moved
}

// Mark returns the current mark.
func (w *watermark) Mark() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mark
}
