// Package detect defines the occupancy detector boundary and the
// crowding level classification applied to detector output.
package detect

import "github.com/KazuyukiGui/restaurant-camera-system/internal/capture"

// Level classifies how busy the room is based on the person count.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Thresholds for level classification. Counts at or below LowMax are
// low, at or below MediumMax are medium, everything above is high.
const (
	LowMax    = 6
	MediumMax = 10
)

// LevelFor maps a person count to its crowding level.
func LevelFor(count int) Level {
	switch {
	case count <= LowMax:
		return LevelLow
	case count <= MediumMax:
		return LevelMedium
	default:
		return LevelHigh
	}
}

// Result is one detector observation of a frame.
type Result struct {
	PersonCount int     `json:"person_count"`
	Level       Level   `json:"crowding_level"`
	Confidence  float64 `json:"confidence"`
}

// Detector counts people in a frame. Implementations wrap whatever
// inference backend is deployed; this package only owns the boundary
// and the level mapping.
type Detector interface {
	Detect(frame *capture.Frame) (Result, error)
}

// Func adapts a plain counting function into a Detector. The function
// returns the person count and a confidence in [0, 1]; the level is
// derived here so every implementation classifies consistently.
type Func func(frame *capture.Frame) (count int, confidence float64, err error)

func (f Func) Detect(frame *capture.Frame) (Result, error) {
	count, confidence, err := f(frame)
	if err != nil {
		return Result{}, err
	}
	return Result{
		PersonCount: count,
		Level:       LevelFor(count),
		Confidence:  confidence,
	}, nil
}

// Null returns a Detector that always reports an empty room. Used when
// no inference backend is configured so the rest of the system keeps
// operating.
func Null() Detector {
	return Func(func(*capture.Frame) (int, float64, error) {
		return 0, 0, nil
	})
}
