package cadence

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"k8s.io/klog/v2"

	"restock-forecaster/pkg/prediction"
)

// WindowSpec is a cron-scheduled span of hours worth watching
type WindowSpec struct {
	Name     string `yaml:"name"`
	Schedule string `yaml:"schedule"`
	Hours    int    `yaml:"hours"`
}

// WatchWindow is a WindowSpec resolved against a retailer's series
type WatchWindow struct {
	Name        string `json:"name"`
	Schedule    string `json:"schedule"`
	Hours       int    `json:"hours"`
	Description string `json:"description,omitempty"`

	// Next is the first start strictly after the last observed hour
	Next time.Time `json:"next"`

	// ExpectedRestocks sums the forecast over the next occurrence; only
	// hours covered by the forecast horizon count
	ExpectedRestocks float64 `json:"expected_restocks"`
	CoveredHours     int     `json:"covered_hours"`
}

func newParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
}

// ValidateWindow checks a window's cron schedule and length
func ValidateWindow(w WindowSpec) error {
	if w.Name == "" {
		return fmt.Errorf("window name is required")
	}
	if _, err := newParser().Parse(w.Schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %s: %w", w.Schedule, err)
	}
	if w.Hours < 1 || w.Hours > 7*24 {
		return fmt.Errorf("window %s: hours must be between 1 and 168, got %d", w.Name, w.Hours)
	}
	return nil
}

// windows derives watch windows from the profile's peaks, adds the custom
// ones and resolves each to its next start after last
func (a *Analyzer) windows(profile *Profile, last time.Time) []WatchWindow {
	specs := derivedWindows(profile)
	specs = append(specs, a.Custom...)

	windows := make([]WatchWindow, 0, len(specs))
	for _, spec := range specs {
		schedule, err := a.parser.Parse(spec.Schedule)
		if err != nil {
			klog.Warningf("Invalid cron schedule %s for window %s: %v", spec.Schedule, spec.Name, err)
			continue
		}
		windows = append(windows, WatchWindow{
			Name:        spec.Name,
			Schedule:    spec.Schedule,
			Hours:       spec.Hours,
			Description: describeWindow(spec, profile.PatternType),
			Next:        schedule.Next(last),
		})
	}

	sort.SliceStable(windows, func(i, j int) bool {
		return windows[i].Next.Before(windows[j].Next)
	})
	return windows
}

// derivedWindows turns every run of peak hours into a daily window. Peak
// days become whole-day windows when no hour stands out.
func derivedWindows(profile *Profile) []WindowSpec {
	if !profile.HasPattern {
		return nil
	}

	dow := "*"
	switch profile.PatternType {
	case PatternWeekdayOnly:
		dow = "1-5"
	case PatternWeekendPeak:
		dow = "0,6"
	}

	var specs []WindowSpec
	for _, run := range contiguousRuns(profile.PeakHours) {
		specs = append(specs, WindowSpec{
			Name:     fmt.Sprintf("peak-%02d", run[0]),
			Schedule: fmt.Sprintf("0 %d * * %s", run[0], dow),
			Hours:    run[1] - run[0] + 1,
		})
	}

	if len(specs) == 0 && len(profile.PeakDays) > 0 {
		days := make([]string, len(profile.PeakDays))
		for i, d := range profile.PeakDays {
			days[i] = fmt.Sprintf("%d", int(d))
		}
		specs = append(specs, WindowSpec{
			Name:     "peak-days",
			Schedule: fmt.Sprintf("0 0 * * %s", strings.Join(days, ",")),
			Hours:    24,
		})
	}
	return specs
}

func describeWindow(spec WindowSpec, pattern PatternType) string {
	if strings.HasPrefix(spec.Name, "peak-") {
		return fmt.Sprintf("%dh of above-average restocks (%s)", spec.Hours, pattern)
	}
	return "configured window"
}

// Project fills ExpectedRestocks and CoveredHours of every window from the
// future part of a forecast
func (p *Profile) Project(result *prediction.ForecastResult) {
	if result == nil {
		return
	}
	future := result.Forecasts()

	for i := range p.Windows {
		w := &p.Windows[i]
		w.ExpectedRestocks, w.CoveredHours = 0, 0
		end := w.Next.Add(time.Duration(w.Hours) * time.Hour)
		for _, fp := range future {
			if fp.Timestamp.Before(w.Next) || !fp.Timestamp.Before(end) {
				continue
			}
			w.ExpectedRestocks += fp.Value
			w.CoveredHours++
		}
	}
}
