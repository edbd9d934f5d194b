package cadence

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"

	"restock-forecaster/pkg/prediction"
	"restock-forecaster/pkg/series"
)

// Analyzer derives hour-of-day and day-of-week restock profiles from a
// regularized hourly series
type Analyzer struct {
	// MinSamples is the minimum number of observed hours per hour-of-day
	// bucket before it can be called a peak or quiet hour
	MinSamples int

	// PeakThresholdRatio defines how much higher than average constitutes a "peak"
	// e.g., 1.5 means 50% above average
	PeakThresholdRatio float64

	// QuietThresholdRatio defines how much lower than average constitutes "quiet"
	QuietThresholdRatio float64

	// SignificantVariationCV is the coefficient of variation threshold for
	// significant patterns. Below this, restocks are considered flat.
	SignificantVariationCV float64

	// Custom windows are evaluated for every retailer in addition to the
	// windows derived from its peaks
	Custom []WindowSpec

	parser cron.Parser
}

// Profile is the restock cadence of one retailer
type Profile struct {
	Retailer string `json:"retailer"`

	// HasPattern indicates whether a significant time pattern was detected
	HasPattern  bool        `json:"has_pattern"`
	PatternType PatternType `json:"pattern_type"`
	Description string      `json:"description"`

	// PeakHours are the hours (0-23) with above-average restocks
	PeakHours  []int `json:"peak_hours,omitempty"`
	QuietHours []int `json:"quiet_hours,omitempty"`

	// PeakDays are the days of week (0=Sunday, 6=Saturday) with above-average restocks
	PeakDays  []time.Weekday `json:"peak_days,omitempty"`
	QuietDays []time.Weekday `json:"quiet_days,omitempty"`

	Hourly  [24]HourStats `json:"-"`
	Daily   [7]DayStats   `json:"-"`
	Overall OverallStats  `json:"overall"`

	// DominantPeriod is the strongest autocorrelation lag in hours, 1 if none
	DominantPeriod int `json:"dominant_period_hours"`

	// Windows are upcoming hours worth watching, with their next start after
	// the last observed hour
	Windows []WatchWindow `json:"windows,omitempty"`
}

// PatternType describes the shape of a retailer's restock cadence
type PatternType string

const (
	// PatternNone indicates no significant time pattern
	PatternNone PatternType = "none"

	// PatternBusinessHours indicates restocks during shop hours (8-18)
	PatternBusinessHours PatternType = "business_hours"

	// PatternOvernight indicates restocks during the night (22-06)
	PatternOvernight PatternType = "overnight"

	// PatternWeekdayOnly indicates little or no weekend activity
	PatternWeekdayOnly PatternType = "weekday_only"

	// PatternWeekendPeak indicates restocks concentrated on weekends
	PatternWeekendPeak PatternType = "weekend_peak"

	// PatternMorningDrop indicates a short morning burst
	PatternMorningDrop PatternType = "morning_drop"

	// PatternEveningDrop indicates a short evening burst
	PatternEveningDrop PatternType = "evening_drop"

	// PatternCustom indicates an irregular pattern
	PatternCustom PatternType = "custom"
)

// HourStats contains statistics for a specific hour of day
type HourStats struct {
	Hour    int
	Samples int
	Mean    float64
	Max     int
	StdDev  float64
	IsPeak  bool
	IsQuiet bool
}

// DayStats contains statistics for a specific day of week
type DayStats struct {
	Day     time.Weekday
	Samples int
	Mean    float64
	Max     int
	IsPeak  bool
	IsQuiet bool
}

// OverallStats contains whole-series statistics
type OverallStats struct {
	Hours            int     `json:"hours"`
	Total            int     `json:"total"`
	Mean             float64 `json:"mean"`
	Max              int     `json:"max"`
	StdDev           float64 `json:"std_dev"`
	CoefficientOfVar float64 `json:"cv"`

	// ActiveRatio is the share of hours with at least one restock
	ActiveRatio float64 `json:"active_ratio"`
}

// NewAnalyzer creates a cadence analyzer with default settings
func NewAnalyzer() *Analyzer {
	return &Analyzer{
		MinSamples:             2,    // Hour seen on at least two days
		PeakThresholdRatio:     1.5,  // 50% above average = peak
		QuietThresholdRatio:    0.5,  // 50% below average = quiet
		SignificantVariationCV: 0.25, // 25% CV threshold for patterns
		parser:                 newParser(),
	}
}

// Analyze builds the cadence profile of s
func (a *Analyzer) Analyze(s *series.Series) *Profile {
	profile := &Profile{
		PatternType:    PatternNone,
		DominantPeriod: 1,
	}
	if s == nil || s.Len() == 0 {
		profile.Description = "No data available for analysis"
		return profile
	}
	profile.Retailer = s.Retailer

	a.calculateHourlyStats(s, profile)
	a.calculateDailyStats(s, profile)
	a.calculateOverallStats(s, profile)
	profile.DominantPeriod = prediction.DominantPeriod(s.Values(), 2*7*24)

	if profile.Overall.CoefficientOfVar < a.SignificantVariationCV {
		profile.Description = fmt.Sprintf("Flat restock pattern (CV=%.2f%%)", profile.Overall.CoefficientOfVar*100)
		profile.Windows = a.windows(profile, s.End())
		return profile
	}

	a.identifyPeakHours(profile)
	a.identifyPeakDays(profile)
	a.classifyPattern(profile)
	profile.Windows = a.windows(profile, s.End())

	klog.V(4).Infof("Cadence for %s: %s, %d peak hours, dominant period %dh",
		s.Retailer, profile.PatternType, len(profile.PeakHours), profile.DominantPeriod)
	return profile
}

func (a *Analyzer) calculateHourlyStats(s *series.Series, profile *Profile) {
	buckets := make([][]float64, 24)
	for _, p := range s.Points {
		buckets[p.Timestamp.Hour()] = append(buckets[p.Timestamp.Hour()], float64(p.Count))
	}

	for hour := 0; hour < 24; hour++ {
		data := buckets[hour]
		stats := HourStats{Hour: hour, Samples: len(data)}
		if len(data) > 0 {
			stats.Mean, stats.StdDev = stat.PopMeanStdDev(data, nil)
			stats.Max = int(maxOf(data))
		}
		profile.Hourly[hour] = stats
	}
}

func (a *Analyzer) calculateDailyStats(s *series.Series, profile *Profile) {
	buckets := make([][]float64, 7)
	for _, p := range s.Points {
		day := p.Timestamp.Weekday()
		buckets[day] = append(buckets[day], float64(p.Count))
	}

	for day := time.Sunday; day <= time.Saturday; day++ {
		data := buckets[day]
		stats := DayStats{Day: day, Samples: len(data)}
		if len(data) > 0 {
			stats.Mean = stat.Mean(data, nil)
			stats.Max = int(maxOf(data))
		}
		profile.Daily[day] = stats
	}
}

func (a *Analyzer) calculateOverallStats(s *series.Series, profile *Profile) {
	values := s.Values()
	stats := &profile.Overall
	stats.Hours = len(values)
	stats.Total = s.Total()
	stats.Mean, stats.StdDev = stat.PopMeanStdDev(values, nil)
	stats.Max = int(maxOf(values))

	if stats.Mean > 0 {
		stats.CoefficientOfVar = stats.StdDev / stats.Mean
	}

	active := 0
	for _, v := range values {
		if v > 0 {
			active++
		}
	}
	stats.ActiveRatio = float64(active) / float64(len(values))
}

func (a *Analyzer) identifyPeakHours(profile *Profile) {
	peakThreshold := profile.Overall.Mean * a.PeakThresholdRatio
	quietThreshold := profile.Overall.Mean * a.QuietThresholdRatio

	for hour := 0; hour < 24; hour++ {
		stats := &profile.Hourly[hour]
		if stats.Samples < a.MinSamples {
			continue
		}

		if stats.Mean >= peakThreshold {
			stats.IsPeak = true
			profile.PeakHours = append(profile.PeakHours, hour)
		} else if stats.Mean <= quietThreshold {
			stats.IsQuiet = true
			profile.QuietHours = append(profile.QuietHours, hour)
		}
	}

	sort.Ints(profile.PeakHours)
	sort.Ints(profile.QuietHours)
}

// identifyPeakDays only considers weekdays covered by at least one full day
func (a *Analyzer) identifyPeakDays(profile *Profile) {
	peakThreshold := profile.Overall.Mean * a.PeakThresholdRatio
	quietThreshold := profile.Overall.Mean * a.QuietThresholdRatio

	for day := time.Sunday; day <= time.Saturday; day++ {
		stats := &profile.Daily[day]
		if stats.Samples < 24 {
			continue
		}

		if stats.Mean >= peakThreshold {
			stats.IsPeak = true
			profile.PeakDays = append(profile.PeakDays, day)
		} else if stats.Mean <= quietThreshold {
			stats.IsQuiet = true
			profile.QuietDays = append(profile.QuietDays, day)
		}
	}
}

func (a *Analyzer) classifyPattern(profile *Profile) {
	profile.HasPattern = true

	switch {
	case hourShare(profile.PeakHours, 8, 18) >= 0.7 && len(profile.PeakHours) >= 3:
		profile.PatternType = PatternBusinessHours
		profile.Description = "Restocks concentrated in shop hours (8:00-18:00)"
	case nightShare(profile.PeakHours) >= 0.7 && len(profile.PeakHours) >= 2:
		profile.PatternType = PatternOvernight
		profile.Description = "Restocks concentrated overnight (22:00-06:00)"
	case countWeekend(profile.QuietDays) >= 2:
		profile.PatternType = PatternWeekdayOnly
		profile.Description = "Restocks drop off on weekends"
	case countWeekend(profile.PeakDays) >= 2:
		profile.PatternType = PatternWeekendPeak
		profile.Description = "Restocks peak on weekends"
	case isShortBurst(profile.PeakHours, 6, 11):
		profile.PatternType = PatternMorningDrop
		profile.Description = fmt.Sprintf("Morning restock burst around %s", formatHourRange(profile.PeakHours))
	case isShortBurst(profile.PeakHours, 17, 22):
		profile.PatternType = PatternEveningDrop
		profile.Description = fmt.Sprintf("Evening restock burst around %s", formatHourRange(profile.PeakHours))
	case len(profile.PeakHours) > 0 || len(profile.QuietHours) > 0:
		profile.PatternType = PatternCustom
		profile.Description = fmt.Sprintf("Irregular restocks: peaks at %s, quiet at %s",
			formatHourRange(profile.PeakHours), formatHourRange(profile.QuietHours))
	default:
		profile.HasPattern = false
		profile.PatternType = PatternNone
		profile.Description = "No clear time-based pattern detected"
	}
}

func hourShare(hours []int, from, to int) float64 {
	if len(hours) == 0 {
		return 0
	}
	in := 0
	for _, h := range hours {
		if h >= from && h <= to {
			in++
		}
	}
	return float64(in) / float64(len(hours))
}

func nightShare(hours []int) float64 {
	if len(hours) == 0 {
		return 0
	}
	in := 0
	for _, h := range hours {
		if h <= 6 || h >= 22 {
			in++
		}
	}
	return float64(in) / float64(len(hours))
}

func countWeekend(days []time.Weekday) int {
	n := 0
	for _, d := range days {
		if d == time.Saturday || d == time.Sunday {
			n++
		}
	}
	return n
}

func isShortBurst(hours []int, from, to int) bool {
	return len(hours) >= 1 && len(hours) <= 4 && hourShare(hours, from, to) >= 0.7
}

func maxOf(values []float64) float64 {
	m := math.Inf(-1)
	for _, v := range values {
		m = math.Max(m, v)
	}
	return m
}

// formatHourRange formats a sorted slice of hours into a human-readable range
func formatHourRange(hours []int) string {
	if len(hours) == 0 {
		return "none"
	}

	var ranges []string
	for _, r := range contiguousRuns(hours) {
		if r[0] == r[1] {
			ranges = append(ranges, fmt.Sprintf("%d:00", r[0]))
		} else {
			ranges = append(ranges, fmt.Sprintf("%d:00-%d:00", r[0], r[1]))
		}
	}

	if len(ranges) == 1 {
		return ranges[0]
	}
	return fmt.Sprintf("%v", ranges)
}

// contiguousRuns splits sorted hours into [first, last] runs
func contiguousRuns(hours []int) [][2]int {
	if len(hours) == 0 {
		return nil
	}
	runs := [][2]int{{hours[0], hours[0]}}
	for _, h := range hours[1:] {
		last := &runs[len(runs)-1]
		if h == last[1]+1 {
			last[1] = h
			continue
		}
		runs = append(runs, [2]int{h, h})
	}
	return runs
}

// Summary returns a formatted summary of the profile
func (p *Profile) Summary() string {
	if !p.HasPattern {
		return fmt.Sprintf("%s: %s", p.Retailer, p.Description)
	}

	summary := fmt.Sprintf("%s: %s (%s)\n  Peak hours: %s\n  Quiet hours: %s\n  Peak days: %v\n  Mean/hour: %.2f, active %.0f%% of hours\n",
		p.Retailer,
		p.PatternType,
		p.Description,
		formatHourRange(p.PeakHours),
		formatHourRange(p.QuietHours),
		p.PeakDays,
		p.Overall.Mean,
		p.Overall.ActiveRatio*100,
	)

	for _, w := range p.Windows {
		summary += fmt.Sprintf("  Watch %s: %s for %dh, next %s\n",
			w.Name, w.Schedule, w.Hours, w.Next.Format("Mon 2006-01-02 15:04"))
	}
	return summary
}
