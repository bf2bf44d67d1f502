package examutil

import (
	"reflect"
	"testing"
)

func TestPermutationKnownSeeds(t *testing.T) {
	tests := []struct {
		n    int
		seed int64
		want []int
	}{
		{5, 12345, []int{4, 3, 1, 0, 2}},
		{10, 42, []int{4, 1, 0, 2, 6, 3, 5, 9, 7, 8}},
		{10, 2147483647, []int{9, 1, 0, 7, 6, 4, 2, 5, 3, 8}},
	}
	for _, tt := range tests {
		if got := Permutation(tt.n, tt.seed); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Permutation(%d, %d) = %v, want %v", tt.n, tt.seed, got, tt.want)
		}
	}
}

func TestPermutationIsStable(t *testing.T) {
	for seed := int64(-50); seed < 500; seed += 7 {
		a := Permutation(20, seed)
		b := Permutation(20, seed)
		if !reflect.DeepEqual(a, b) {
			t.Fatalf("seed %d produced %v then %v", seed, a, b)
		}
		if !IsPermutation(a, 20) {
			t.Fatalf("seed %d produced non-permutation %v", seed, a)
		}
	}
}

func TestShuffleEmptyAndSingle(t *testing.T) {
	if got := Permutation(0, 9); len(got) != 0 {
		t.Fatalf("Permutation(0) = %v", got)
	}
	if got := Permutation(1, 9); !reflect.DeepEqual(got, []int{0}) {
		t.Fatalf("Permutation(1) = %v", got)
	}
}

func TestIsPermutation(t *testing.T) {
	tests := []struct {
		order []int
		n     int
		want  bool
	}{
		{[]int{2, 0, 1}, 3, true},
		{[]int{0, 0, 1}, 3, false},
		{[]int{0, 1}, 3, false},
		{[]int{0, 1, 3}, 3, false},
		{nil, 0, true},
	}
	for _, tt := range tests {
		if got := IsPermutation(tt.order, tt.n); got != tt.want {
			t.Errorf("IsPermutation(%v, %d) = %v, want %v", tt.order, tt.n, got, tt.want)
		}
	}
}

func TestNewSeedNonNegative(t *testing.T) {
	for i := 0; i < 100; i++ {
		if s := NewSeed(); s < 0 {
			t.Fatalf("seed %d is negative", s)
		}
	}
}
