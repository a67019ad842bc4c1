package store

import (
	"math"
	"testing"
)

func TestVectorRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		vec  []float32
	}{
		{"empty", nil},
		{"single", []float32{1.5}},
		{"typical", []float32{0.1, -0.2, 0.3, -0.4}},
		{"extremes", []float32{math.MaxFloat32, -math.MaxFloat32, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeVector(EncodeVector(tt.vec))
			if err != nil {
				t.Fatalf("DecodeVector() error = %v", err)
			}
			if len(got) != len(tt.vec) {
				t.Fatalf("length = %d, want %d", len(got), len(tt.vec))
			}
			for i := range got {
				if got[i] != tt.vec[i] {
					t.Errorf("element %d = %v, want %v", i, got[i], tt.vec[i])
				}
			}
		})
	}
}

func TestDecodeVectorRejectsBadLength(t *testing.T) {
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("DecodeVector() accepted a non-multiple-of-4 buffer")
	}
}

func TestL2Distance(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"unit apart", []float32{0, 0}, []float32{1, 0}, 1},
		{"pythagorean", []float32{0, 0}, []float32{3, 4}, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := L2Distance(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("L2Distance() = %v, want %v", got, tt.want)
			}
		})
	}

	if !math.IsInf(L2Distance([]float32{1}, []float32{1, 2}), 1) {
		t.Error("mismatched dimensions should rank last via +Inf")
	}
}

func TestRankMemories(t *testing.T) {
	query := []float32{0, 0}
	hits := []ScoredMemory{
		{ID: 1, Content: "far"},
		{ID: 2, Content: "near"},
		{ID: 3, Content: "mid"},
	}
	vecs := [][]float32{{10, 0}, {1, 0}, {5, 0}}

	ranked := RankMemories(query, hits, vecs, 2)
	if len(ranked) != 2 {
		t.Fatalf("len = %d, want 2", len(ranked))
	}
	if ranked[0].ID != 2 || ranked[1].ID != 3 {
		t.Errorf("order = [%d %d], want [2 3]", ranked[0].ID, ranked[1].ID)
	}
	if ranked[0].Distance >= ranked[1].Distance {
		t.Errorf("distances not ascending: %v, %v", ranked[0].Distance, ranked[1].Distance)
	}
}
