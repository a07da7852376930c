package detect

import (
	"errors"
	"testing"

	"github.com/KazuyukiGui/restaurant-camera-system/internal/capture"
)

func TestLevelFor(t *testing.T) {
	tests := []struct {
		count int
		want  Level
	}{
		{0, LevelLow},
		{6, LevelLow},
		{7, LevelMedium},
		{10, LevelMedium},
		{11, LevelHigh},
		{50, LevelHigh},
	}
	for _, tt := range tests {
		if got := LevelFor(tt.count); got != tt.want {
			t.Errorf("LevelFor(%d) = %q, want %q", tt.count, got, tt.want)
		}
	}
}

func TestFuncDerivesLevel(t *testing.T) {
	d := Func(func(*capture.Frame) (int, float64, error) {
		return 8, 0.9, nil
	})
	res, err := d.Detect(&capture.Frame{})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if res.PersonCount != 8 || res.Level != LevelMedium || res.Confidence != 0.9 {
		t.Errorf("Detect() = %+v, want count 8, level medium, confidence 0.9", res)
	}
}

func TestFuncPropagatesError(t *testing.T) {
	wantErr := errors.New("backend unavailable")
	d := Func(func(*capture.Frame) (int, float64, error) {
		return 0, 0, wantErr
	})
	if _, err := d.Detect(&capture.Frame{}); !errors.Is(err, wantErr) {
		t.Errorf("Detect() error = %v, want %v", err, wantErr)
	}
}

func TestNullDetector(t *testing.T) {
	res, err := Null().Detect(&capture.Frame{})
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if res.PersonCount != 0 || res.Level != LevelLow {
		t.Errorf("Null().Detect() = %+v, want empty room", res)
	}
}
