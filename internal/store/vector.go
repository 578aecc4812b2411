package store

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/unpieceof/meemoo/internal/memo"
)

// Embedding blobs are stored as a little-endian uint32 dimension followed by
// that many little-endian float32 values.
const blobHeader = 4

func encodeEmbedding(vec []float32) ([]byte, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	blob := make([]byte, blobHeader+4*len(vec))
	binary.LittleEndian.PutUint32(blob, uint32(len(vec)))
	for i, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("encode embedding: non-finite value at %d", i)
		}
		binary.LittleEndian.PutUint32(blob[blobHeader+4*i:], math.Float32bits(v))
	}
	return blob, nil
}

func decodeEmbedding(blob []byte) ([]float32, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	if len(blob) < blobHeader {
		return nil, fmt.Errorf("decode embedding: short blob (%d bytes)", len(blob))
	}
	dim := int(binary.LittleEndian.Uint32(blob))
	if dim <= 0 || len(blob) != blobHeader+4*dim {
		return nil, fmt.Errorf("decode embedding: dim=%d does not match %d payload bytes", dim, len(blob)-blobHeader)
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[blobHeader+4*i:]))
	}
	return vec, nil
}

// cosine returns the cosine similarity of a and b, or ok=false when the
// vectors have different lengths or a zero norm.
func cosine(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), true
}

// rankBySimilarity orders candidates by similarity to query and keeps the top limit.
// Candidates without a comparable embedding are dropped.
func rankBySimilarity(query []float32, candidates []memo.Memo, limit int) []memo.Memo {
	type scored struct {
		m     memo.Memo
		score float64
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if s, ok := cosine(query, c.Embedding); ok {
			ranked = append(ranked, scored{c, s})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]memo.Memo, len(ranked))
	for i, r := range ranked {
		out[i] = r.m
	}
	return out
}
