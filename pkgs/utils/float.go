package utils

import (
	"math"

	"github.com/pgvector/pgvector-go"
)

func ToFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}

func ToPgVector(f32 []float32) pgvector.Vector {
	return pgvector.NewVector(f32)
}

func L2Norm(vec []float32) float64 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

func Ptr[T any](v T) *T {
	return &v
}
