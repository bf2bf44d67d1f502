package examutil

import (
	"math/rand/v2"
)

const (
	lcgMul = 9301
	lcgInc = 49297
	lcgMod = 233280
)

// NewSeed returns a fresh non-negative 31-bit seed for a session.
func NewSeed() int64 {
	return int64(rand.Int32())
}

// seeded is a small linear congruential generator. It is stable across
// releases so a stored seed always reproduces the same permutation.
type seeded struct {
	state int64
}

func (s *seeded) next() float64 {
	s.state = ((s.state*lcgMul+lcgInc)%lcgMod + lcgMod) % lcgMod
	return float64(s.state) / lcgMod
}

// Permutation returns a seeded shuffle of the indices 0..n-1.
func Permutation(n int, seed int64) []int {
	order := Identity(n)
	Shuffle(order, seed)
	return order
}

// Shuffle permutes items in place, deterministically for a given seed.
func Shuffle[T any](items []T, seed int64) {
	rng := seeded{state: seed % lcgMod}
	for i := len(items); i > 0; {
		j := int(rng.next() * float64(i))
		i--
		items[i], items[j] = items[j], items[i]
	}
}

// Identity returns 0..n-1 in order.
func Identity(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	return order
}

// IsPermutation reports whether order is a permutation of 0..n-1.
func IsPermutation(order []int, n int) bool {
	if len(order) != n {
		return false
	}
	seen := make([]bool, n)
	for _, i := range order {
		if i < 0 || i >= n || seen[i] {
			return false
		}
		seen[i] = true
	}
	return true
}
