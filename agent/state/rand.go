package state

import (
	"math/rand/v2"
	"sort"
)

// NewRand returns the deterministic generator used for every reproducible
// draw in the harness. Equal seeds yield equal sequences on every platform.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Weighted picks one key of weights with probability proportional to its
// weight. Keys are visited in sorted order so the draw depends only on the
// generator state.
func Weighted[K ~string](rng *rand.Rand, weights map[K]int) (K, bool) {
	keys := make([]K, 0, len(weights))
	total := 0
	for k, w := range weights {
		if w <= 0 {
			continue
		}
		keys = append(keys, k)
		total += w
	}
	var zero K
	if total == 0 {
		return zero, false
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	n := rng.IntN(total)
	for _, k := range keys {
		n -= weights[k]
		if n < 0 {
			return k, true
		}
	}
	return keys[len(keys)-1], true
}

// Shuffle permutes items in place.
func Shuffle[T any](rng *rand.Rand, items []T) {
	rng.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })
}
