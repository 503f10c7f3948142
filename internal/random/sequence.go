package random

import (
	"github.com/fluxfuzzer/fluxcore/internal/errdefs"
)

// Choice returns one element of items picked with NextRange(0, len(items))
func Choice[T any](g *Generator, items []T) (T, error) {
	var zero T
	if len(items) == 0 {
		return zero, errdefs.InvalidArgument("choice from an empty sequence")
	}
	return items[g.NextRange(0, len(items))], nil
}

// Sample draws k elements independently and with replacement, so k may
// exceed len(items) and the result may repeat elements.
func Sample[T any](g *Generator, items []T, k int) ([]T, error) {
	if k < 0 {
		return nil, errdefs.InvalidArgument("negative sample size %d", k)
	}
	if len(items) == 0 {
		return nil, errdefs.InvalidArgument("sample from an empty sequence")
	}
	out := make([]T, 0, k)
	for i := 0; i < k; i++ {
		out = append(out, items[g.NextRange(0, len(items))])
	}
	return out, nil
}

// Shuffle draws len(items) choices and discards them. The caller's slice is
// left in its original order; only the generator state advances. Use Permute
// to obtain a reordered copy.
func Shuffle[T any](g *Generator, items []T) {
	if items == nil {
		return
	}
	resequenced := make([]T, 0, len(items))
	for range items {
		v, _ := Choice(g, items)
		resequenced = append(resequenced, v)
	}
	_ = resequenced
}

// Permute returns a Fisher-Yates shuffled copy of items
func Permute[T any](g *Generator, items []T) []T {
	out := make([]T, len(items))
	copy(out, items)
	for i := len(out) - 1; i > 0; i-- {
		j := g.NextN(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}
