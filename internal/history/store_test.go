package history

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/KazuyukiGui/restaurant-camera-system/internal/detect"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return s
}

func mustSave(t *testing.T, s *Store, ts time.Time, count int, level detect.Level, confidence float64) {
	t.Helper()
	err := s.Save(context.Background(), Record{
		Timestamp:   ts,
		PersonCount: count,
		Level:       level,
		Confidence:  confidence,
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
}

func TestSaveAndRecent(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mustSave(t, s, base, 3, detect.LevelLow, 0.8)
	mustSave(t, s, base.Add(time.Minute), 8, detect.LevelMedium, 0.9)
	mustSave(t, s, base.Add(2*time.Minute), 12, detect.LevelHigh, 0.7)

	records, err := s.Recent(context.Background(), 2)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Recent() returned %d records, want 2", len(records))
	}
	// Most recent first.
	if records[0].PersonCount != 12 || records[0].Level != detect.LevelHigh {
		t.Errorf("records[0] = %+v, want the newest record", records[0])
	}
	if records[1].PersonCount != 8 {
		t.Errorf("records[1] = %+v, want the middle record", records[1])
	}
	if !records[0].Timestamp.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("records[0].Timestamp = %v, want %v", records[0].Timestamp, base.Add(2*time.Minute))
	}
}

func TestRecentDefaultLimit(t *testing.T) {
	s := openTestStore(t)
	mustSave(t, s, time.Now(), 1, detect.LevelLow, 0.5)

	records, err := s.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Recent(0) returned %d records, want 1", len(records))
	}
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mustSave(t, s, base.Add(-48*time.Hour), 20, detect.LevelHigh, 0.9) // outside the period
	mustSave(t, s, base, 2, detect.LevelLow, 0.8)
	mustSave(t, s, base.Add(time.Minute), 4, detect.LevelLow, 0.8)
	mustSave(t, s, base.Add(2*time.Minute), 9, detect.LevelMedium, 0.9)

	stats, err := s.Stats(context.Background(), base.Add(-time.Hour))
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalRecords != 3 {
		t.Errorf("TotalRecords = %d, want 3", stats.TotalRecords)
	}
	if stats.AvgPersonCount != 5.0 {
		t.Errorf("AvgPersonCount = %v, want 5.0", stats.AvgPersonCount)
	}
	if stats.MaxPersonCount != 9 || stats.MinPersonCount != 2 {
		t.Errorf("max/min = %d/%d, want 9/2", stats.MaxPersonCount, stats.MinPersonCount)
	}
	if stats.Levels["low"] != 2 || stats.Levels["medium"] != 1 {
		t.Errorf("Levels = %v, want low:2 medium:1", stats.Levels)
	}
}

func TestStatsEmpty(t *testing.T) {
	s := openTestStore(t)
	stats, err := s.Stats(context.Background(), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalRecords != 0 || stats.AvgPersonCount != 0 {
		t.Errorf("empty Stats() = %+v, want zeros", stats)
	}
}

func TestTimelineBuckets(t *testing.T) {
	s := openTestStore(t)
	// Bucket boundaries land on 5-minute multiples of the Unix epoch.
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mustSave(t, s, base.Add(1*time.Minute), 2, detect.LevelLow, 0.8)
	mustSave(t, s, base.Add(3*time.Minute), 4, detect.LevelLow, 0.8)
	mustSave(t, s, base.Add(7*time.Minute), 9, detect.LevelMedium, 0.9)

	buckets, err := s.Timeline(context.Background(), base)
	if err != nil {
		t.Fatalf("Timeline() error = %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("Timeline() returned %d buckets, want 2", len(buckets))
	}
	if !buckets[0].Start.Equal(base) {
		t.Errorf("buckets[0].Start = %v, want %v", buckets[0].Start, base)
	}
	if buckets[0].AvgPersonCount != 3.0 || buckets[0].Records != 2 {
		t.Errorf("buckets[0] = %+v, want avg 3.0 over 2 records", buckets[0])
	}
	if !buckets[1].Start.Equal(base.Add(5 * time.Minute)) {
		t.Errorf("buckets[1].Start = %v, want %v", buckets[1].Start, base.Add(5*time.Minute))
	}
}

func TestExportCSV(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mustSave(t, s, base, 3, detect.LevelLow, 0.85)
	mustSave(t, s, base.Add(time.Minute), 11, detect.LevelHigh, 0.75)

	var sb strings.Builder
	if err := s.ExportCSV(context.Background(), base.Add(-time.Hour), &sb); err != nil {
		t.Fatalf("ExportCSV() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("csv has %d lines, want 3 (header + 2 records)", len(lines))
	}
	if lines[0] != "id,timestamp,person_count,crowding_level,confidence" {
		t.Errorf("csv header = %q", lines[0])
	}
	// Oldest first.
	if !strings.Contains(lines[1], ",3,low,") {
		t.Errorf("csv line 1 = %q, want the low record first", lines[1])
	}
	if !strings.Contains(lines[2], ",11,high,") {
		t.Errorf("csv line 2 = %q, want the high record", lines[2])
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Error("Open(\"\"): want error, got nil")
	}
}
