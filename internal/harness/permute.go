package harness

import (
	"iter"
	"math"
	"slices"
)

// Permutations enumerates every ordering of a fixed item list.
//
// Orderings are produced lazily in lexicographic order of item position. The
// enumeration keeps an explicit stack of frames instead of recursing, so its
// depth is bounded by the heap rather than the goroutine stack.
//
// A Permutations value is immutable; All may be called any number of times and
// each call starts from the first ordering.
type Permutations[T any] struct {
	items []T
}

// frame is one level of the enumeration: items still to place, the prefix
// placed so far, and the next position in remaining to try.
type frame[T any] struct {
	remaining []T
	chosen    []T
	cursor    int
}

// Permute returns the orderings of items. items is copied.
func Permute[T any](items []T) *Permutations[T] {
	return &Permutations[T]{items: slices.Clone(items)}
}

// Len returns the number of items being permuted.
func (p *Permutations[T]) Len() int {
	return len(p.items)
}

// Count returns N!, saturating at math.MaxInt.
func (p *Permutations[T]) Count() int {
	n := 1
	for i := 2; i <= len(p.items); i++ {
		if n > math.MaxInt/i {
			return math.MaxInt
		}
		n *= i
	}
	return n
}

// All returns a sequence over every ordering. Each yielded slice is freshly
// allocated and owned by the caller. N = 0 yields exactly one empty ordering.
func (p *Permutations[T]) All() iter.Seq[[]T] {
	return func(yield func([]T) bool) {
		stack := []frame[T]{{remaining: slices.Clone(p.items)}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]

			if len(top.remaining) == 0 {
				out := slices.Clone(top.chosen)
				if out == nil {
					out = []T{}
				}
				if !yield(out) {
					return
				}
				stack = stack[:len(stack)-1]
				continue
			}
			if top.cursor >= len(top.remaining) {
				stack = stack[:len(stack)-1]
				continue
			}

			i := top.cursor
			top.cursor++

			rest := make([]T, 0, len(top.remaining)-1)
			rest = append(rest, top.remaining[:i]...)
			rest = append(rest, top.remaining[i+1:]...)

			chosen := make([]T, len(top.chosen), len(top.chosen)+1)
			copy(chosen, top.chosen)
			chosen = append(chosen, top.remaining[i])

			stack = append(stack, frame[T]{remaining: rest, chosen: chosen})
		}
	}
}

// MapOrderings lazily applies fn to every ordering of p.
func MapOrderings[T, R any](p *Permutations[T], fn func([]T) R) iter.Seq[R] {
	return func(yield func(R) bool) {
		for ordering := range p.All() {
			if !yield(fn(ordering)) {
				return
			}
		}
	}
}
