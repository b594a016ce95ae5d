package pipeline

import (
	"fmt"
	"sort"
	"time"

	"learner-analytics-pipeline/internal/model"
)

// KpiEngine computes the aggregate indicators from a merged dataset. All
// rates are reported as null (nil value, sample_size 0) when their
// denominator is zero; a zero denominator is never an error. Values are not
// rounded here — presentation rounding belongs to the dashboard.
type KpiEngine struct {
	// Now stamps ComputedAt; overridable in tests.
	Now func() time.Time
}

func (e *KpiEngine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// Compute returns the daily KPIs for the logical date plus the all-time
// KPIs, for every course present in the dataset.
func (e *KpiEngine) Compute(records []model.LearnerActivityRecord, date string) ([]model.KpiRecord, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("parse logical date %q: %w", date, err)
	}

	var out []model.KpiRecord
	out = append(out, e.computeWindow(records, day, false)...)
	out = append(out, e.computeWindow(records, day, true)...)
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// computeWindow emits one KpiRecord per (course, kpi) for a single window:
// the calendar day when allTime is false, the whole dataset otherwise.
func (e *KpiEngine) computeWindow(records []model.LearnerActivityRecord, day time.Time, allTime bool) []model.KpiRecord {
	day = day.UTC().Truncate(24 * time.Hour)
	windowStart, windowEnd := day.Format("2006-01-02"), day.Format("2006-01-02")
	if allTime {
		windowStart, windowEnd = model.WindowAllTime, model.WindowAllTime
	}

	inWindow := filterWindow(records, day, allTime)
	byCourse := groupByCourse(inWindow)

	// popularity normalizes against the busiest course in the same window
	maxActivity := 0
	activityByCourse := make(map[string]int, len(byCourse))
	for course, recs := range byCourse {
		n := countActivityEvents(recs)
		activityByCourse[course] = n
		if n > maxActivity {
			maxActivity = n
		}
	}

	// retention compares against the previous calendar window
	var prevByCourse map[string][]model.LearnerActivityRecord
	if !allTime {
		prevDay := day.AddDate(0, 0, -1)
		prevByCourse = groupByCourse(filterWindow(records, prevDay, false))
	}

	courses := make([]string, 0, len(byCourse))
	for course := range byCourse {
		courses = append(courses, course)
	}
	sort.Strings(courses)

	computedAt := e.now()
	var out []model.KpiRecord
	for _, course := range courses {
		recs := byCourse[course]
		base := model.KpiRecord{
			CourseID:    course,
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
			ComputedAt:  computedAt,
		}

		out = append(out, engagementRate(base, recs))
		out = append(out, completionRate(base, recs))
		out = append(out, avgTimeSpent(base, recs))
		out = append(out, retentionRate(base, recs, prevByCourse[course], allTime))
		out = append(out, popularityScore(base, activityByCourse[course], maxActivity))
		out = append(out, temporalActivityBuckets(base, recs)...)
	}
	return out
}

func filterWindow(records []model.LearnerActivityRecord, day time.Time, allTime bool) []model.LearnerActivityRecord {
	if allTime {
		return records
	}
	start := day
	end := day.AddDate(0, 0, 1)
	var out []model.LearnerActivityRecord
	for _, rec := range records {
		ts := rec.Timestamp.UTC()
		if !ts.Before(start) && ts.Before(end) {
			out = append(out, rec)
		}
	}
	return out
}

func groupByCourse(records []model.LearnerActivityRecord) map[string][]model.LearnerActivityRecord {
	out := make(map[string][]model.LearnerActivityRecord)
	for _, rec := range records {
		out[rec.CourseID] = append(out[rec.CourseID], rec)
	}
	return out
}

// distinctLearners collects learner ids over records matching the filter;
// records without a learner (video metadata) never count.
func distinctLearners(records []model.LearnerActivityRecord, match func(model.LearnerActivityRecord) bool) map[string]struct{} {
	out := make(map[string]struct{})
	for _, rec := range records {
		if rec.LearnerID == "" {
			continue
		}
		if match == nil || match(rec) {
			out[rec.LearnerID] = struct{}{}
		}
	}
	return out
}

func countActivityEvents(records []model.LearnerActivityRecord) int {
	n := 0
	for _, rec := range records {
		if rec.EventType == model.EventView || rec.EventType == model.EventEngagementSignal {
			n++
		}
	}
	return n
}

func ratio(num, den int) *float64 {
	if den == 0 {
		return nil
	}
	v := float64(num) / float64(den)
	return &v
}

// engagementRate is the share of the course's learners that produced at
// least one engagement signal or view.
func engagementRate(base model.KpiRecord, recs []model.LearnerActivityRecord) model.KpiRecord {
	base.KpiName = model.KpiEngagementRate
	engaged := distinctLearners(recs, func(r model.LearnerActivityRecord) bool {
		return r.EventType == model.EventEngagementSignal || r.EventType == model.EventView
	})
	anyEvent := distinctLearners(recs, nil)

	base.Value = ratio(len(engaged), len(anyEvent))
	if base.Value != nil {
		base.SampleSize = len(anyEvent)
	}
	return base
}

// completionRate is completers over starters (learners with any view or
// engagement event).
func completionRate(base model.KpiRecord, recs []model.LearnerActivityRecord) model.KpiRecord {
	base.KpiName = model.KpiCompletionRate
	completed := distinctLearners(recs, func(r model.LearnerActivityRecord) bool {
		return r.EventType == model.EventCompletion
	})
	started := distinctLearners(recs, func(r model.LearnerActivityRecord) bool {
		return r.EventType == model.EventView || r.EventType == model.EventEngagementSignal
	})

	base.Value = ratio(len(completed), len(started))
	if base.Value != nil {
		base.SampleSize = len(started)
	}
	return base
}

// avgTimeSpent averages engagement-signal values whose unit is time.
func avgTimeSpent(base model.KpiRecord, recs []model.LearnerActivityRecord) model.KpiRecord {
	base.KpiName = model.KpiAvgTimeSpent
	var sum float64
	var n int
	for _, rec := range recs {
		if rec.EventType == model.EventEngagementSignal && rec.TimeUnit {
			sum += rec.Value
			n++
		}
	}
	if n > 0 {
		v := sum / float64(n)
		base.Value = &v
		base.SampleSize = n
	}
	return base
}

// retentionRate is the fraction of learners active in the previous calendar
// window that are also active in this one. Undefined (null) for the first
// window, for the all-time granularity, and whenever the previous window saw
// no learners.
func retentionRate(base model.KpiRecord, recs, prev []model.LearnerActivityRecord, allTime bool) model.KpiRecord {
	base.KpiName = model.KpiRetentionRate
	if allTime {
		return base
	}
	prevActive := distinctLearners(prev, nil)
	if len(prevActive) == 0 {
		return base
	}
	current := distinctLearners(recs, nil)
	retained := 0
	for learner := range prevActive {
		if _, ok := current[learner]; ok {
			retained++
		}
	}
	v := float64(retained) / float64(len(prevActive))
	base.Value = &v
	base.SampleSize = len(prevActive)
	return base
}

// popularityScore normalizes the course's view/engagement event count against
// the window's busiest course, yielding [0,1].
func popularityScore(base model.KpiRecord, activity, maxActivity int) model.KpiRecord {
	base.KpiName = model.KpiPopularityScore
	if maxActivity == 0 {
		return base
	}
	v := float64(activity) / float64(maxActivity)
	base.Value = &v
	base.SampleSize = activity
	return base
}

// temporalActivityBuckets counts events per hour-of-day and day-of-week,
// one KpiRecord per non-empty bucket.
func temporalActivityBuckets(base model.KpiRecord, recs []model.LearnerActivityRecord) []model.KpiRecord {
	hours := make(map[int]int)
	weekdays := make(map[time.Weekday]int)
	for _, rec := range recs {
		ts := rec.Timestamp.UTC()
		hours[ts.Hour()]++
		weekdays[ts.Weekday()]++
	}

	var out []model.KpiRecord
	for hour := 0; hour < 24; hour++ {
		if n := hours[hour]; n > 0 {
			kpi := base
			kpi.KpiName = model.KpiTemporalActivity
			kpi.Bucket = fmt.Sprintf("hour_%02d", hour)
			v := float64(n)
			kpi.Value = &v
			kpi.SampleSize = n
			out = append(out, kpi)
		}
	}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if n := weekdays[wd]; n > 0 {
			kpi := base
			kpi.KpiName = model.KpiTemporalActivity
			kpi.Bucket = fmt.Sprintf("weekday_%d", int(wd))
			v := float64(n)
			kpi.Value = &v
			kpi.SampleSize = n
			out = append(out, kpi)
		}
	}
	return out
}
