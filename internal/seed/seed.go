package seed

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"learner-analytics-pipeline/internal/zones"
	"learner-analytics-pipeline/pkg/utils"
)

// Generator deposits synthetic collector batches in the raw zone, one batch
// per source, so a full run can be exercised locally without the upstream
// collectors. Output is deterministic for a given seed.
type Generator struct {
	Store    zones.Store
	Seed     int64
	Learners int
	Courses  []string
}

func New(store zones.Store, seed int64) *Generator {
	return &Generator{
		Store:    store,
		Seed:     seed,
		Learners: 40,
		Courses:  []string{"algebra-101", "chemistry-201", "world-history", "intro-python"},
	}
}

// Generate writes one batch per source dated to the logical date.
func (g *Generator) Generate(ctx context.Context, date string) error {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return fmt.Errorf("parse date %q: %w", date, err)
	}
	rng := rand.New(rand.NewSource(g.Seed))

	if err := g.writeSimulated(ctx, date, day, rng); err != nil {
		return err
	}
	if err := g.writeKaggle(ctx, date, day, rng); err != nil {
		return err
	}
	return g.writeYouTube(ctx, date, day, rng)
}

func (g *Generator) writeSimulated(ctx context.Context, date string, day time.Time, rng *rand.Rand) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"record_id", "student_id", "course", "event_type", "value", "timestamp", "time_unit", "hours_studied"})

	eventTypes := []string{"view", "completion", "score", "engagement_signal"}
	n := 0
	for learner := 0; learner < g.Learners; learner++ {
		learnerID := fmt.Sprintf("sim-%04d", learner)
		course := g.Courses[rng.Intn(len(g.Courses))]
		events := 1 + rng.Intn(4)
		for e := 0; e < events; e++ {
			eventType := eventTypes[rng.Intn(len(eventTypes))]
			ts := day.Add(time.Duration(rng.Intn(24*3600)) * time.Second)
			value, unit := simulatedValue(eventType, rng)
			n++
			w.Write([]string{
				fmt.Sprintf("sim-rec-%s-%04d", date, n),
				learnerID,
				course,
				eventType,
				value,
				ts.UTC().Format(time.RFC3339),
				unit,
				strconv.Itoa(rng.Intn(12)), // dropped by the mapping
			})
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	path := utils.RawSourcePrefix("simulated") + fmt.Sprintf("batch-%s.csv", date)
	return g.Store.Put(ctx, zones.ZoneRaw, path, buf.Bytes())
}

func simulatedValue(eventType string, rng *rand.Rand) (value, timeUnit string) {
	switch eventType {
	case "score":
		return strconv.FormatFloat(float64(rng.Intn(2001))/100, 'f', 2, 64), ""
	case "engagement_signal":
		return strconv.Itoa(60 + rng.Intn(3540)), "seconds"
	default:
		return "1", ""
	}
}

func (g *Generator) writeKaggle(ctx context.Context, date string, day time.Time, rng *rand.Rand) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Write([]string{"student_id", "course", "timestamp", "math score", "reading score", "writing score", "gender"})

	genders := []string{"female", "male"}
	for learner := 0; learner < g.Learners/2; learner++ {
		ts := day.Add(time.Duration(rng.Intn(24*3600)) * time.Second)
		w.Write([]string{
			fmt.Sprintf("kg-%04d", learner),
			g.Courses[rng.Intn(len(g.Courses))],
			ts.UTC().Format(time.RFC3339),
			strconv.Itoa(35 + rng.Intn(66)),
			strconv.Itoa(35 + rng.Intn(66)),
			strconv.Itoa(35 + rng.Intn(66)),
			genders[rng.Intn(len(genders))], // dropped by the mapping
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	path := utils.RawSourcePrefix("kaggle") + fmt.Sprintf("batch-%s.csv", date)
	return g.Store.Put(ctx, zones.ZoneRaw, path, buf.Bytes())
}

func (g *Generator) writeYouTube(ctx context.Context, date string, day time.Time, rng *rand.Rand) error {
	items := make([]map[string]interface{}, 0, len(g.Courses)*2)
	for i, course := range g.Courses {
		for part := 1; part <= 2; part++ {
			published := day.Add(time.Duration(rng.Intn(24*3600)) * time.Second)
			items = append(items, map[string]interface{}{
				"video_id":     fmt.Sprintf("vid-%s-%02d-%d", date, i, part),
				"title":        fmt.Sprintf("%s lecture part %d", course, part),
				"published_at": published.UTC().Format(time.RFC3339),
				"views":        100 + rng.Intn(9900),
				"duration":     fmt.Sprintf("PT%dM%dS", 5+rng.Intn(55), rng.Intn(60)),
			})
		}
	}

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	path := utils.RawSourcePrefix("youtube") + fmt.Sprintf("batch-%s.json", date)
	return g.Store.Put(ctx, zones.ZoneRaw, path, data)
}
