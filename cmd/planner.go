package cmd

import (
	"errors"
	"fmt"
	"time"
)

// Planner error definitions
var (
	ErrInvalidDateRange = errors.New("minimum date is after maximum date")
	ErrInvalidRange     = errors.New("range start must be before range end")
)

// TimeRange is a half-open interval [Start, End) over the partition field.
// Top-level ranges are calendar months keyed "YYYY-MM"; adaptive sub-ranges
// append an ordinal suffix ("YYYY-MM-partN").
type TimeRange struct {
	Start time.Time
	End   time.Time
	Key   string
}

// String returns a human-readable description of the range
func (r TimeRange) String() string {
	return fmt.Sprintf("%s [%s, %s)", r.Key,
		r.Start.UTC().Format(time.RFC3339), r.End.UTC().Format(time.RFC3339))
}

// PlanMonthlyRanges walks calendar months from the UTC month containing
// minDate through the UTC month containing maxDate inclusive, producing one
// range per month. The returned ranges are contiguous and non-overlapping,
// together covering [month(minDate), month(maxDate)+1).
func PlanMonthlyRanges(minDate, maxDate time.Time) ([]TimeRange, error) {
	if minDate.After(maxDate) {
		return nil, fmt.Errorf("%w: min=%s max=%s", ErrInvalidDateRange,
			minDate.UTC().Format(time.RFC3339), maxDate.UTC().Format(time.RFC3339))
	}

	minDate = minDate.UTC()
	maxDate = maxDate.UTC()

	current := time.Date(minDate.Year(), minDate.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(maxDate.Year(), maxDate.Month(), 1, 0, 0, 0, 0, time.UTC)

	var ranges []TimeRange
	for !current.After(last) {
		next := current.AddDate(0, 1, 0)
		ranges = append(ranges, TimeRange{
			Start: current,
			End:   next,
			Key:   current.Format("2006-01"),
		})
		current = next
	}

	return ranges, nil
}

// PlanAdaptiveSubranges subdivides a range whose document count exceeds
// maxDocsPerRange into ceil(docCount/maxDocsPerRange) equal-duration
// sub-ranges. The split is duration-proportional, not count-proportional:
// it assumes roughly uniform temporal density, so skewed write patterns can
// still produce uneven sub-range sizes. The last sub-range absorbs any
// rounding remainder up to the parent's End.
func PlanAdaptiveSubranges(r TimeRange, docCount, maxDocsPerRange int64) ([]TimeRange, error) {
	if !r.Start.Before(r.End) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRange, r.Key)
	}
	if maxDocsPerRange <= 0 || docCount <= maxDocsPerRange {
		return []TimeRange{r}, nil
	}

	n := (docCount + maxDocsPerRange - 1) / maxDocsPerRange
	step := r.End.Sub(r.Start) / time.Duration(n)

	subranges := make([]TimeRange, 0, n)
	start := r.Start
	for i := int64(1); i <= n; i++ {
		end := start.Add(step)
		if i == n {
			end = r.End
		}
		subranges = append(subranges, TimeRange{
			Start: start,
			End:   end,
			Key:   fmt.Sprintf("%s-part%d", r.Key, i),
		})
		start = end
	}

	return subranges, nil
}
