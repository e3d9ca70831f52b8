package utils

import (
	"math/bits"

	"github.com/pkg/errors"
)

// DescriptorsHammingDistance computes the pairwise Hamming distances between
// two sets of binary descriptors. Descriptors are stored as packed uint64
// words; all descriptors must have the same word length.
func DescriptorsHammingDistance(descs1, descs2 [][]uint64) ([][]int, error) {
	if len(descs1) == 0 || len(descs2) == 0 {
		return nil, errors.New("descriptor sets must be non-empty")
	}
	n := len(descs1[0])
	distances := make([][]int, len(descs1))
	for i, d1 := range descs1 {
		if len(d1) != n {
			return nil, errors.Errorf("descriptor %d in first set has length %d, want %d", i, len(d1), n)
		}
		row := make([]int, len(descs2))
		for j, d2 := range descs2 {
			if len(d2) != n {
				return nil, errors.Errorf("descriptor %d in second set has length %d, want %d", j, len(d2), n)
			}
			d := 0
			for k := range d1 {
				d += bits.OnesCount64(d1[k] ^ d2[k])
			}
			row[j] = d
		}
		distances[i] = row
	}
	return distances, nil
}

// GetArgMinDistancesPerRowInt returns, for each row of the distance matrix,
// the column index holding the minimum value.
func GetArgMinDistancesPerRowInt(distances [][]int) []int {
	argMins := make([]int, len(distances))
	for i, row := range distances {
		minIdx := 0
		for j, v := range row {
			if v < row[minIdx] {
				minIdx = j
			}
		}
		argMins[i] = minIdx
	}
	return argMins
}

// Transpose returns the transpose of the given matrix.
func Transpose(m [][]int) [][]int {
	if len(m) == 0 {
		return nil
	}
	out := make([][]int, len(m[0]))
	for j := range out {
		col := make([]int, len(m))
		for i := range m {
			col[i] = m[i][j]
		}
		out[j] = col
	}
	return out
}
