package scoring

// Detection is one object reported by the external detector.
type Detection struct {
	Class      string     `json:"class"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"` // x1, y1, x2, y2 in pixels
}

// DefaultClassPenalty applies to detector classes not in ClassPenalties.
const DefaultClassPenalty = 5

// ClassPenalties maps detector classes to the points they cost.
var ClassPenalties = map[string]int{
	"clogged_sink":   15,
	"dirt-floor":     10,
	"dirty":          20,
	"mold_or_mildew": 10,
	"tissue_trash":   5,
	"urine_stain":    15,
	"bottle":         10,
	"cup":            8,
	"trash":          15,
}

// FromDetections scores a detector result and returns it as a supplied
// input tagged with detector provenance.
func FromDetections(dets []Detection) Input {
	penalty := 0
	for _, d := range dets {
		if p, ok := ClassPenalties[d.Class]; ok {
			penalty += p
		} else {
			penalty += DefaultClassPenalty
		}
	}
	return Supplied(float64(MaxScore-penalty), ProvenanceDetector)
}
