package keypoints

import (
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/viam-labs/monofusion/utils"
)

// MatchingConfig contains the parameters for matching descriptors.
type MatchingConfig struct {
	DoCrossCheck bool `json:"do_cross_check"`
	MaxDist      int  `json:"max_dist"`
}

// DefaultMatchingConfig returns cross-checked matching with no distance cap.
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{DoCrossCheck: true, MaxDist: 0}
}

// Match pairs a descriptor index in the first set with its counterpart in the
// second set, along with their Hamming distance.
type Match struct {
	Idx1     int
	Idx2     int
	Distance int
}

// Matches is a list of matches sorted by ascending distance.
type Matches []Match

// BestMatches returns the n best matches. Matches are already sorted by
// ascending distance, so this is a prefix.
func (m Matches) BestMatches(n int) Matches {
	if n <= 0 || n >= len(m) {
		return m
	}
	return m[:n]
}

// BestFraction returns the best fraction f (in (0, 1]) of matches.
func (m Matches) BestFraction(f float64) Matches {
	if f <= 0 || f >= 1 {
		return m
	}
	n := int(float64(len(m)) * f)
	if n < 1 {
		n = 1
	}
	return m[:n]
}

// MatchDescriptors performs mutual-nearest-neighbor matching between two
// descriptor sets: with cross-check enabled a pair is kept only if each
// descriptor is the other's nearest neighbor. The result is sorted by
// ascending Hamming distance.
func MatchDescriptors(desc1, desc2 Descriptors, cfg *MatchingConfig, logger golog.Logger) Matches {
	distances, err := utils.DescriptorsHammingDistance(desc1, desc2)
	if err != nil {
		logger.Debugw("cannot match descriptors", "error", err)
		return nil
	}
	indices2 := utils.GetArgMinDistancesPerRowInt(distances)
	maskIdx := make([]int, len(desc1))
	for i := range maskIdx {
		maskIdx[i] = 1
	}
	if cfg.DoCrossCheck {
		distT := utils.Transpose(distances)
		matches1 := utils.GetArgMinDistancesPerRowInt(distT)
		for i := range desc1 {
			if matches1[indices2[i]] != i {
				maskIdx[i] = 0
			}
		}
	}
	if cfg.MaxDist > 0 {
		for i := range desc1 {
			if distances[i][indices2[i]] >= cfg.MaxDist {
				maskIdx[i] = 0
			}
		}
	}
	idx1 := make([]int, 0, len(desc1))
	idx2 := make([]int, 0, len(desc1))
	for i := range desc1 {
		if maskIdx[i] == 1 {
			idx1 = append(idx1, i)
			idx2 = append(idx2, indices2[i])
		}
	}
	dists := make([]float64, len(idx1))
	for i := range dists {
		dists[i] = float64(distances[idx1[i]][idx2[i]])
	}
	sortedIndices := make([]int, len(idx1))
	floats.Argsort(dists, sortedIndices)
	matches := make(Matches, len(idx1))
	for i, idx := range sortedIndices {
		matches[i] = Match{idx1[idx], idx2[idx], int(dists[i])}
	}
	return matches
}

// GetMatchingKeyPoints returns the two matched keypoint sets, aligned by
// match index.
func GetMatchingKeyPoints(matches Matches, kps1, kps2 KeyPoints) (KeyPoints, KeyPoints, error) {
	matchedKps1 := make(KeyPoints, len(matches))
	matchedKps2 := make(KeyPoints, len(matches))
	for i, match := range matches {
		if match.Idx1 >= len(kps1) || match.Idx2 >= len(kps2) {
			return nil, nil, errors.Errorf("match %d indexes out of keypoint range", i)
		}
		matchedKps1[i] = kps1[match.Idx1]
		matchedKps2[i] = kps2[match.Idx2]
	}
	return matchedKps1, matchedKps2, nil
}
