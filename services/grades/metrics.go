package grades

import (
	"strings"

	"github.com/peterfisher/canvas-parent/lib/textutil"
	"github.com/peterfisher/canvas-parent/services/grades/extract"

	"github.com/antzucaro/matchr"
)

// dashboard buckets, in display order
var Categories = []string{"Tests", "Quizzes", "Labs", "Projects", "Homework", "Other"}

var categoryKeywords = map[string][]string{
	"Tests":    {"test", "exam", "midterm", "final"},
	"Quizzes":  {"quiz"},
	"Labs":     {"lab"},
	"Projects": {"project", "writing", "essay"},
	"Homework": {"homework", "assignment", "classwork", "practice"},
}

func classifyCategory(category, name string) string {
	for _, text := range []string{category, name} {
		if text == "" {
			continue
		}
		for _, bucket := range Categories {
			if textutil.MatchName(text, categoryKeywords[bucket]) {
				return bucket
			}
		}
	}
	return "Other"
}

type CategoryMetric struct {
	Category string
	// earned over possible across the bucket's scored assignments,
	// nil when nothing in the bucket has a score yet
	Percent *float64
	// grading weight declared by the portal, nil for unweighted
	// courses
	Weight         *float64
	SubmittedCount int
	TotalCount     int
}

type categoryTally struct {
	earned    float64
	possible  float64
	submitted int
	total     int
}

// snapWeights maps portal assignment-group names ("Quizzes", "Unit
// Tests", "HW & Classwork") onto dashboard buckets. Keyword
// classification first, JaroWinkler similarity as a fallback for
// near-miss spellings. Groups snapping to the same bucket sum their
// weights.
func snapWeights(weights map[string]float64) map[string]float64 {
	snapped := map[string]float64{}
	for groupName, weight := range weights {
		bucket := classifyCategory(groupName, "")
		if bucket == "Other" {
			best := ""
			var bestSimilarity float64
			for _, candidate := range Categories {
				if candidate == "Other" {
					continue
				}
				similarity := matchr.JaroWinkler(strings.ToLower(groupName), strings.ToLower(candidate), false)
				if similarity > bestSimilarity {
					bestSimilarity = similarity
					best = candidate
				}
			}
			if bestSimilarity >= 0.8 {
				bucket = best
			}
		}
		snapped[bucket] += weight
	}
	return snapped
}

// ComputeMetrics buckets one course's assignments by category and
// computes per-bucket score percentage and submission counts, with
// the portal's declared group weights attached where they snap to a
// bucket.
func ComputeMetrics(assignments []extract.Assignment, weights map[string]float64) []CategoryMetric {
	tallies := map[string]*categoryTally{}

	for _, a := range assignments {
		bucket := classifyCategory(a.Category, a.Name)
		tally := tallies[bucket]
		if tally == nil {
			tally = &categoryTally{}
			tallies[bucket] = tally
		}

		tally.total++
		switch a.Status {
		case extract.StatusGraded, extract.StatusSubmitted, extract.StatusLate:
			tally.submitted++
		}
		if a.Score != nil && a.MaxScore != nil && *a.MaxScore > 0 {
			tally.earned += *a.Score
			tally.possible += *a.MaxScore
		}
	}

	bucketWeights := snapWeights(weights)
	// a declared weight is worth surfacing even before anything in
	// its bucket has been scraped
	for bucket, weight := range bucketWeights {
		if weight > 0 && tallies[bucket] == nil {
			tallies[bucket] = &categoryTally{}
		}
	}

	var metrics []CategoryMetric
	for _, bucket := range Categories {
		tally := tallies[bucket]
		if tally == nil {
			continue
		}

		m := CategoryMetric{
			Category:       bucket,
			SubmittedCount: tally.submitted,
			TotalCount:     tally.total,
		}
		if tally.possible > 0 {
			pct := tally.earned / tally.possible * 100
			m.Percent = &pct
		}
		if weight, ok := bucketWeights[bucket]; ok {
			m.Weight = &weight
		}
		metrics = append(metrics, m)
	}
	return metrics
}
