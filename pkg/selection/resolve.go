package selection

import (
	"sort"

	"k8s.io/klog/v2"

	"restock-forecaster/pkg/models"
	"restock-forecaster/pkg/series"
)

// Summarize computes a Summary per retailer present in records
func Summarize(records []models.EventRecord) map[string]Summary {
	summaries := make(map[string]Summary)
	for _, r := range records {
		s, ok := summaries[r.Retailer]
		if !ok {
			s = Summary{Retailer: r.Retailer, First: r.Timestamp, Last: r.Timestamp}
		}
		s.Events++
		s.Total += r.Count
		if r.Timestamp.Before(s.First) {
			s.First = r.Timestamp
		}
		if r.Timestamp.After(s.Last) {
			s.Last = r.Timestamp
		}
		summaries[r.Retailer] = s
	}

	// Slots are relative to each retailer's first event, so count them in a
	// second pass
	slots := make(map[string]map[int64]struct{}, len(summaries))
	for _, r := range records {
		s := summaries[r.Retailer]
		if slots[r.Retailer] == nil {
			slots[r.Retailer] = make(map[int64]struct{})
		}
		slots[r.Retailer][series.HoursBetween(s.First, r.Timestamp)] = struct{}{}
	}
	for name, s := range summaries {
		s.SpanHours = int(series.HoursBetween(s.First, s.Last) + 1)
		s.ActiveHours = len(slots[name])
		summaries[name] = s
	}
	return summaries
}

// Resolve turns an explicit retailer list into the set to forecast.
// An empty list means every retailer in records. Names are deduplicated in
// first-seen order. Rules only see retailers present in records; explicitly
// named retailers without events are passed through untouched so the
// pipeline can report them.
func Resolve(records []models.EventRecord, explicit []string, engine *Engine) ([]string, []Decision, error) {
	candidates := dedupe(explicit)
	if len(candidates) == 0 {
		candidates = series.Retailers(records)
	}
	if engine == nil {
		return candidates, nil, nil
	}

	summaries := Summarize(records)
	selected := make([]string, 0, len(candidates))
	decisions := make([]Decision, 0, len(candidates))

	for _, name := range candidates {
		summary, ok := summaries[name]
		if !ok {
			selected = append(selected, name)
			decisions = append(decisions, Decision{
				Retailer: name,
				Action:   ActionInclude,
				Reason:   "No events in input",
			})
			continue
		}

		decision, err := engine.Evaluate(summary)
		if err != nil {
			return nil, nil, err
		}
		decisions = append(decisions, *decision)
		if decision.Action == ActionInclude {
			selected = append(selected, name)
		}
	}

	klog.V(2).Infof("Selection kept %d of %d retailers", len(selected), len(candidates))
	return selected, decisions, nil
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Excluded returns the retailers dropped by rules, sorted
func Excluded(decisions []Decision) []string {
	var out []string
	for _, d := range decisions {
		if d.Action == ActionExclude {
			out = append(out, d.Retailer)
		}
	}
	sort.Strings(out)
	return out
}
