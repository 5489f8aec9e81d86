package storage

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Similarity names accepted by IndexSpec. They match Atlas Vector Search.
const (
	SimilarityCosine     = "cosine"
	SimilarityDotProduct = "dotProduct"
	SimilarityEuclidean  = "euclidean"
)

func normalizeSimilarity(s string) string {
	if s == "" {
		return SimilarityCosine
	}
	return s
}

func similarityFunc(name string) (func(a, b []float32) float32, error) {
	switch normalizeSimilarity(name) {
	case SimilarityCosine:
		return cosine, nil
	case SimilarityDotProduct:
		return dot, nil
	case SimilarityEuclidean:
		// Same scoring as Atlas: 1 / (1 + distance).
		return func(a, b []float32) float32 {
			return float32(1 / (1 + euclidean(a, b)))
		}, nil
	}
	return nil, fmt.Errorf("unsupported similarity %q", name)
}

func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeFloat32s(b []byte) ([]float32, error) {
	return decodeFloat32sInto(nil, b)
}

// decodeFloat32sInto reuses buf when it is large enough.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

func dot(a, b []float32) float32 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return float32(sum)
}

func cosine(a, b []float32) float32 {
	var d, na, nb float64
	for i := range a {
		d += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(d / (math.Sqrt(na) * math.Sqrt(nb)))
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
