package store

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// EncodeVector serializes an embedding as little-endian IEEE-754 float32,
// 4 bytes per dimension. Both backends store this form.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector deserializes an embedding produced by EncodeVector.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid embedding length %d", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

// L2Distance computes the Euclidean distance between two vectors.
// Mismatched dimensions yield +Inf so the candidate sorts last.
func L2Distance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// RankMemories fills in distances against the query vector and returns
// hits ordered by ascending distance, truncated to topK. hits[i]
// corresponds to vecs[i].
func RankMemories(query []float32, hits []ScoredMemory, vecs [][]float32, topK int) []ScoredMemory {
	for i := range hits {
		hits[i].Distance = L2Distance(query, vecs[i])
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// RankNotes is RankMemories for note hits.
func RankNotes(query []float32, hits []ScoredNote, vecs [][]float32, topK int) []ScoredNote {
	for i := range hits {
		hits[i].Distance = L2Distance(query, vecs[i])
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}
