package detections

import (
	"fmt"

	"github.com/Tutortoise/object-detection-service/models"
)

// decodeOutput turns the raw output tensor into candidates scoring at least
// confThreshold. Boxes are converted from centre/size to corners.
func decodeOutput(predictions []float32, spec ModelSpec, confThreshold float32) ([]candidate, error) {
	n := spec.NumBoxes
	nc := spec.NumClasses

	switch spec.Layout {
	case layoutRows:
		attrs := 5 + nc
		if len(predictions) != n*attrs {
			return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(predictions), n*attrs)
		}
		cands := make([]candidate, 0, 100)
		for i := 0; i < n; i++ {
			row := predictions[i*attrs : (i+1)*attrs]
			objectness := row[4]
			if objectness < confThreshold {
				continue
			}
			classID, classScore := argmax(row[5:])
			score := objectness * classScore
			if score < confThreshold {
				continue
			}
			cands = append(cands, candidate{
				box:     cornersFromCentre(row[0], row[1], row[2], row[3]),
				score:   score,
				classID: classID,
			})
		}
		return cands, nil

	case layoutChannels:
		attrs := 4 + nc
		if len(predictions) != n*attrs {
			return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(predictions), n*attrs)
		}
		cands := make([]candidate, 0, 100)
		for i := 0; i < n; i++ {
			classID, score := -1, float32(0)
			for c := 0; c < nc; c++ {
				if s := predictions[(4+c)*n+i]; s > score || classID == -1 {
					classID, score = c, s
				}
			}
			if score < confThreshold {
				continue
			}
			cands = append(cands, candidate{
				box: cornersFromCentre(
					predictions[i],
					predictions[n+i],
					predictions[2*n+i],
					predictions[3*n+i],
				),
				score:   score,
				classID: classID,
			})
		}
		return cands, nil
	}

	return nil, fmt.Errorf("unknown output layout %d", spec.Layout)
}

func argmax(scores []float32) (int, float32) {
	best, bestScore := 0, scores[0]
	for i, s := range scores[1:] {
		if s > bestScore {
			best, bestScore = i+1, s
		}
	}
	return best, bestScore
}

func cornersFromCentre(cx, cy, w, h float32) [4]float32 {
	return [4]float32{cx - w/2, cy - h/2, cx + w/2, cy + h/2}
}

// toDetections maps surviving candidates back to source pixels and drops
// boxes that collapse after clipping.
func toDetections(cands []candidate, lb letterbox, srcW, srcH int, labels Labels) []models.Detection {
	out := make([]models.Detection, 0, len(cands))
	for _, c := range cands {
		box := restoreBox(c.box, lb, srcW, srcH)
		if box[2] <= box[0] || box[3] <= box[1] {
			continue
		}
		out = append(out, models.Detection{
			Class:      labels.Name(c.classID),
			ClassID:    c.classID,
			Confidence: clampUnit(c.score),
			BBox:       box,
		})
	}
	return out
}

func clampUnit(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
