package series

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"restock-forecaster/pkg/models"
)

var day = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func record(retailer string, hour int, count int) models.EventRecord {
	return models.EventRecord{
		Timestamp: day.Add(time.Duration(hour) * time.Hour),
		Retailer:  retailer,
		Count:     count,
	}
}

func TestRegularize_FillsGaps(t *testing.T) {
	records := []models.EventRecord{
		record("A", 0, 5),
		record("A", 3, 2),
	}

	s, err := Regularize(records, "A")
	if err != nil {
		t.Fatalf("Regularize failed: %v", err)
	}

	want := []int{5, 0, 0, 2}
	if s.Len() != len(want) {
		t.Fatalf("Expected %d points, got %d", len(want), s.Len())
	}
	for i, p := range s.Points {
		if p.Count != want[i] {
			t.Errorf("Point %d: expected count %d, got %d", i, want[i], p.Count)
		}
		expectedTS := day.Add(time.Duration(i) * time.Hour)
		if !p.Timestamp.Equal(expectedTS) {
			t.Errorf("Point %d: expected timestamp %s, got %s", i, expectedTS, p.Timestamp)
		}
	}
}

func TestRegularize_GridInvariants(t *testing.T) {
	records := []models.EventRecord{
		record("A", 40, 1),
		record("B", 2, 9),
		record("A", 7, 3),
		record("A", 12, 0),
		record("A", 25, 4),
	}

	s, err := Regularize(records, "A")
	if err != nil {
		t.Fatalf("Regularize failed: %v", err)
	}

	if !s.Start().Equal(day.Add(7 * time.Hour)) {
		t.Errorf("Expected first timestamp at hour 7, got %s", s.Start())
	}
	if !s.End().Equal(day.Add(40 * time.Hour)) {
		t.Errorf("Expected last timestamp at hour 40, got %s", s.End())
	}
	if s.Len() != 34 {
		t.Errorf("Expected 34 points, got %d", s.Len())
	}

	for i := 1; i < s.Len(); i++ {
		if diff := s.Points[i].Timestamp.Sub(s.Points[i-1].Timestamp); diff != time.Hour {
			t.Fatalf("Step %d is %s, expected 1h", i, diff)
		}
	}

	if s.Total() != 8 {
		t.Errorf("Expected total 8 (retailer B excluded), got %d", s.Total())
	}
}

func TestRegularize_SumsDuplicates(t *testing.T) {
	records := []models.EventRecord{
		record("A", 0, 1),
		record("A", 1, 2),
		record("A", 1, 3),
		record("A", 2, 0),
	}

	s, err := Regularize(records, "A")
	if err != nil {
		t.Fatalf("Regularize failed: %v", err)
	}

	if s.Points[1].Count != 5 {
		t.Errorf("Expected duplicate hour to sum to 5, got %d", s.Points[1].Count)
	}
}

func TestRegularize_OffGridTimestampBucketed(t *testing.T) {
	records := []models.EventRecord{
		record("A", 0, 1),
		{Timestamp: day.Add(90 * time.Minute), Retailer: "A", Count: 4},
		record("A", 3, 1),
	}

	s, err := Regularize(records, "A")
	if err != nil {
		t.Fatalf("Regularize failed: %v", err)
	}

	if s.Len() != 4 {
		t.Fatalf("Expected 4 points, got %d", s.Len())
	}
	if s.Points[1].Count != 4 {
		t.Errorf("Expected 01:30 record in the 01:00 slot, got counts %v", s.Values())
	}
}

func TestRegularize_SinglePoint(t *testing.T) {
	s, err := Regularize([]models.EventRecord{record("B", 5, 7)}, "B")
	if err != nil {
		t.Fatalf("Regularize failed: %v", err)
	}
	if s.Len() != 1 || s.Points[0].Count != 7 {
		t.Errorf("Expected single point with count 7, got %+v", s.Points)
	}
}

func TestRegularize_EmptyGroup(t *testing.T) {
	records := []models.EventRecord{record("A", 0, 1)}

	_, err := Regularize(records, "Z")
	if err == nil {
		t.Fatal("Expected error for unknown retailer")
	}

	var emptyErr *EmptyGroupError
	if !errors.As(err, &emptyErr) {
		t.Fatalf("Expected EmptyGroupError, got %T", err)
	}
	if emptyErr.Retailer != "Z" {
		t.Errorf("Expected retailer Z in error, got %q", emptyErr.Retailer)
	}

	if _, err := Regularize(nil, "A"); err == nil {
		t.Error("Expected error for nil records")
	}
}

func TestRegularize_Idempotent(t *testing.T) {
	records := []models.EventRecord{
		record("A", 10, 2),
		record("A", 0, 1),
		record("A", 4, 6),
	}
	snapshot := make([]models.EventRecord, len(records))
	copy(snapshot, records)

	first, err := Regularize(records, "A")
	if err != nil {
		t.Fatalf("Regularize failed: %v", err)
	}
	second, err := Regularize(records, "A")
	if err != nil {
		t.Fatalf("Regularize failed: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Error("Expected identical output from repeated calls")
	}
	if !reflect.DeepEqual(records, snapshot) {
		t.Error("Regularize must not modify its input")
	}
}

func TestRetailers(t *testing.T) {
	records := []models.EventRecord{
		record("Target", 0, 1),
		record("Best Buy", 0, 1),
		record("Target", 1, 1),
		record("Walmart", 0, 1),
	}

	got := Retailers(records)
	want := []string{"Best Buy", "Target", "Walmart"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Retailers() = %v, want %v", got, want)
	}
}

func TestRegularizeAll(t *testing.T) {
	records := []models.EventRecord{
		record("A", 0, 1),
		record("A", 2, 1),
		record("B", 5, 3),
	}

	all, failures := RegularizeAll(records)
	if len(failures) != 0 {
		t.Fatalf("Expected no failures, got %v", failures)
	}
	if len(all) != 2 {
		t.Fatalf("Expected 2 series, got %d", len(all))
	}
	if all["A"].Len() != 3 {
		t.Errorf("Expected 3 points for A, got %d", all["A"].Len())
	}
	if all["B"].Len() != 1 {
		t.Errorf("Expected 1 point for B, got %d", all["B"].Len())
	}
}

func TestHoursBetween(t *testing.T) {
	base := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		a, b time.Time
		want int64
	}{
		{"same instant", base, base, 0},
		{"under an hour", base, base.Add(59 * time.Minute), 0},
		{"one hour", base, base.Add(time.Hour), 1},
		{"sub-second borrow", base.Add(500 * time.Millisecond), base.Add(time.Hour + 200*time.Millisecond), 0},
		// 300 years with 72 leap days, beyond the range of time.Duration
		{"three centuries", time.Date(1700, 1, 1, 0, 0, 0, 0, time.UTC), base, (300*365 + 72) * 24},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HoursBetween(tt.a, tt.b); got != tt.want {
				t.Errorf("HoursBetween() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRegularize_SpanTooLong(t *testing.T) {
	records := []models.EventRecord{
		{Timestamp: time.Date(1700, 1, 1, 0, 0, 0, 0, time.UTC), Retailer: "A", Count: 1},
		{Timestamp: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), Retailer: "A", Count: 7},
		{Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Retailer: "A", Count: 9},
	}

	s, err := Regularize(records, "A")
	if s != nil {
		t.Fatalf("Expected no series, got %d points ending %s", s.Len(), s.End())
	}

	var spanErr *SpanError
	if !errors.As(err, &spanErr) {
		t.Fatalf("Expected SpanError, got %v", err)
	}
	if spanErr.Retailer != "A" || spanErr.Limit != DefaultMaxHours {
		t.Errorf("Unexpected error fields %+v", spanErr)
	}
	if !spanErr.Last.Equal(records[2].Timestamp) {
		t.Errorf("Expected last %s, got %s", records[2].Timestamp, spanErr.Last)
	}
	if want := HoursBetween(records[0].Timestamp, records[2].Timestamp) + 1; spanErr.Hours != want {
		t.Errorf("Expected %d hours, got %d", want, spanErr.Hours)
	}
}

func TestRegularizeWithLimit(t *testing.T) {
	records := []models.EventRecord{
		record("A", 0, 1),
		record("A", 9, 2),
	}

	s, err := RegularizeWithLimit(records, "A", 10)
	if err != nil {
		t.Fatalf("Expected 10 hours to fit a limit of 10, got %v", err)
	}
	if s.Len() != 10 || s.Points[9].Count != 2 {
		t.Errorf("Unexpected series: len %d, last count %d", s.Len(), s.Points[s.Len()-1].Count)
	}

	var spanErr *SpanError
	if _, err := RegularizeWithLimit(records, "A", 9); !errors.As(err, &spanErr) {
		t.Fatalf("Expected SpanError for limit 9, got %v", err)
	}
	if spanErr.Hours != 10 {
		t.Errorf("Expected 10 hours, got %d", spanErr.Hours)
	}

	if s, err := RegularizeWithLimit(records, "A", 0); err != nil || s.Len() != 10 {
		t.Errorf("Expected default limit for 0, got %v", err)
	}
}
