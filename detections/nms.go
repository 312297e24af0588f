package detections

import (
	"math"
	"sort"
)

// candidate is a decoded prediction in model input coordinates.
type candidate struct {
	box     [4]float32
	score   float32
	classID int
}

func calculateIOU(box1, box2 [4]float32) float64 {
	x1 := math.Max(float64(box1[0]), float64(box2[0]))
	y1 := math.Max(float64(box1[1]), float64(box2[1]))
	x2 := math.Min(float64(box1[2]), float64(box2[2]))
	y2 := math.Min(float64(box1[3]), float64(box2[3]))

	if x2 <= x1 || y2 <= y1 {
		return 0.0
	}

	intersection := (x2 - x1) * (y2 - y1)
	area1 := float64((box1[2] - box1[0]) * (box1[3] - box1[1]))
	area2 := float64((box2[2] - box2[0]) * (box2[3] - box2[1]))
	union := area1 + area2 - intersection
	if union <= 0 {
		return 0.0
	}

	return intersection / union
}

// nonMaxSuppression keeps the highest scoring candidate of every group of
// same-class boxes overlapping by more than iouThreshold. The result is
// sorted by descending score.
func nonMaxSuppression(cands []candidate, iouThreshold float32) []candidate {
	if len(cands) == 0 {
		return nil
	}

	sorted := make([]candidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].score > sorted[j].score
	})

	kept := make([]candidate, 0, len(sorted))
	suppressed := make([]bool, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		kept = append(kept, sorted[i])
		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] || sorted[j].classID != sorted[i].classID {
				continue
			}
			if calculateIOU(sorted[i].box, sorted[j].box) > float64(iouThreshold) {
				suppressed[j] = true
			}
		}
	}
	return kept
}
