// Package series turns sparse restock event logs into contiguous hourly series.
package series

import (
	"fmt"
	"sort"
	"time"

	"restock-forecaster/pkg/models"
)

// Step is the grid spacing of every regularized series
const Step = time.Hour

// DefaultMaxHours caps a retailer's grid at ten years of hourly slots
const DefaultMaxHours = 10 * 365 * 24

// EmptyGroupError is returned when no record matches the requested retailer
type EmptyGroupError struct {
	Retailer string
}

func (e *EmptyGroupError) Error() string {
	return fmt.Sprintf("no restock records for retailer %q", e.Retailer)
}

// SpanError is returned when a retailer's timestamps cover more hourly
// slots than the grid allows, usually because of a mistyped year
type SpanError struct {
	Retailer string
	First    time.Time
	Last     time.Time
	Hours    int64
	Limit    int
}

func (e *SpanError) Error() string {
	return fmt.Sprintf("records for retailer %q span %d hours (%s to %s), limit is %d",
		e.Retailer, e.Hours, e.First.Format(time.RFC3339), e.Last.Format(time.RFC3339), e.Limit)
}

// HoursBetween returns the whole hours from a to b, for b not before a.
// It works on Unix seconds, so spans beyond the range of time.Duration
// stay exact.
func HoursBetween(a, b time.Time) int64 {
	secs := b.Unix() - a.Unix()
	if b.Nanosecond() < a.Nanosecond() {
		secs--
	}
	return secs / int64(Step/time.Second)
}

// Point is a single hourly slot of a regularized series
type Point struct {
	Timestamp time.Time `json:"timestamp"`
	Count     int       `json:"count"`
}

// Series is a zero-filled hourly series for one retailer.
// Points are strictly increasing by exactly one Step.
type Series struct {
	Retailer string
	Points   []Point
}

// Len returns the number of hourly slots
func (s *Series) Len() int {
	return len(s.Points)
}

// Start returns the first grid timestamp
func (s *Series) Start() time.Time {
	if len(s.Points) == 0 {
		return time.Time{}
	}
	return s.Points[0].Timestamp
}

// End returns the last grid timestamp
func (s *Series) End() time.Time {
	if len(s.Points) == 0 {
		return time.Time{}
	}
	return s.Points[len(s.Points)-1].Timestamp
}

// Values returns the counts as float64, in grid order
func (s *Series) Values() []float64 {
	values := make([]float64, len(s.Points))
	for i, p := range s.Points {
		values[i] = float64(p.Count)
	}
	return values
}

// Timestamps returns the grid timestamps in order
func (s *Series) Timestamps() []time.Time {
	ts := make([]time.Time, len(s.Points))
	for i, p := range s.Points {
		ts[i] = p.Timestamp
	}
	return ts
}

// Total returns the sum of all counts
func (s *Series) Total() int {
	total := 0
	for _, p := range s.Points {
		total += p.Count
	}
	return total
}

// Regularize builds the hourly grid for retailer from min to max observed
// timestamp, summing counts that land on the same slot and filling the rest
// with zero. A timestamp that is not a whole number of hours after the first
// one is bucketed into the slot that contains it. Grids longer than
// DefaultMaxHours fail with a SpanError.
func Regularize(records []models.EventRecord, retailer string) (*Series, error) {
	return RegularizeWithLimit(records, retailer, DefaultMaxHours)
}

// RegularizeWithLimit is Regularize with a custom cap on the number of
// hourly slots. maxHours <= 0 means DefaultMaxHours.
func RegularizeWithLimit(records []models.EventRecord, retailer string, maxHours int) (*Series, error) {
	if maxHours <= 0 {
		maxHours = DefaultMaxHours
	}

	var start, end time.Time
	matched := 0

	for _, r := range records {
		if r.Retailer != retailer {
			continue
		}
		if matched == 0 || r.Timestamp.Before(start) {
			start = r.Timestamp
		}
		if matched == 0 || r.Timestamp.After(end) {
			end = r.Timestamp
		}
		matched++
	}

	if matched == 0 {
		return nil, &EmptyGroupError{Retailer: retailer}
	}

	hours := HoursBetween(start, end) + 1
	if hours > int64(maxHours) {
		return nil, &SpanError{Retailer: retailer, First: start, Last: end, Hours: hours, Limit: maxHours}
	}

	n := int(hours)
	points := make([]Point, n)
	for i := range points {
		points[i].Timestamp = start.Add(time.Duration(i) * Step)
	}

	for _, r := range records {
		if r.Retailer != retailer {
			continue
		}
		slot := int(HoursBetween(start, r.Timestamp))
		points[slot].Count += r.Count
	}

	return &Series{
		Retailer: retailer,
		Points:   points,
	}, nil
}

// Retailers returns the distinct retailer names present in records, sorted
func Retailers(records []models.EventRecord) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		seen[r.Retailer] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegularizeAll regularizes every retailer present in records
func RegularizeAll(records []models.EventRecord) (map[string]*Series, map[string]error) {
	result := make(map[string]*Series)
	failures := make(map[string]error)

	for _, retailer := range Retailers(records) {
		s, err := Regularize(records, retailer)
		if err != nil {
			failures[retailer] = err
			continue
		}
		result[retailer] = s
	}

	return result, failures
}
