package grades

import (
	"testing"

	"github.com/peterfisher/canvas-parent/services/grades/extract"

	"github.com/stretchr/testify/require"
)

func TestClassifyCategory(t *testing.T) {
	cases := []struct {
		name     string
		category string
		title    string
		want     string
	}{
		{"category keyword", "Unit Tests", "", "Tests"},
		{"exam counts as test", "Exams", "", "Tests"},
		{"quiz", "Quizzes", "", "Quizzes"},
		{"lab", "Labs", "", "Labs"},
		{"essay is a project", "Essays", "", "Projects"},
		{"homework", "Homework", "", "Homework"},
		{"classwork is homework", "Classwork", "", "Homework"},
		{"falls back to title", "", "Chapter 4 Quiz", "Quizzes"},
		{"category wins over title", "Labs", "Midterm Exam Prep", "Labs"},
		{"test beats quiz when both appear", "", "Test on Quiz Material", "Tests"},
		{"nothing matches", "Participation", "Week 3", "Other"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, classifyCategory(c.category, c.title))
		})
	}
}

func TestSnapWeights(t *testing.T) {
	snapped := snapWeights(map[string]float64{
		"Laboratory Work": 30, // keyword match
		"Projekt":         20, // close misspelling, fuzzy match
		"Participation":   10, // no match, lands in Other
		"Tests":           40,
	})
	require.InDelta(t, 30.0, snapped["Labs"], 0.001)
	require.InDelta(t, 20.0, snapped["Projects"], 0.001)
	require.InDelta(t, 10.0, snapped["Other"], 0.001)
	require.InDelta(t, 40.0, snapped["Tests"], 0.001)
}

func TestSnapWeightsMergesBuckets(t *testing.T) {
	snapped := snapWeights(map[string]float64{
		"Unit Tests": 25,
		"Final Exam": 25,
	})
	require.InDelta(t, 50.0, snapped["Tests"], 0.001)
}

func TestComputeMetrics(t *testing.T) {
	assignments := []extract.Assignment{
		{Name: "Cell Division Lab", Category: "Labs", Status: extract.StatusGraded, Score: ptr(18.0), MaxScore: ptr(20.0)},
		{Name: "Osmosis Lab", Category: "Labs", Status: extract.StatusLate, Score: ptr(9.0), MaxScore: ptr(10.0)},
		{Name: "Genetics Homework", Category: "Homework", Status: extract.StatusMissing},
		{Name: "Review Packet", Category: "Homework", Status: extract.StatusUpcoming},
	}

	metrics := ComputeMetrics(assignments, map[string]float64{"Labs": 60, "Homework": 40})
	require.Len(t, metrics, 2)

	labs := metrics[0]
	require.Equal(t, "Labs", labs.Category)
	require.NotNil(t, labs.Percent)
	require.InDelta(t, 90.0, *labs.Percent, 0.001)
	require.NotNil(t, labs.Weight)
	require.InDelta(t, 60.0, *labs.Weight, 0.001)
	require.Equal(t, 2, labs.SubmittedCount)
	require.Equal(t, 2, labs.TotalCount)

	homework := metrics[1]
	require.Equal(t, "Homework", homework.Category)
	require.Nil(t, homework.Percent, "nothing graded yet, no percent to report")
	require.Equal(t, 0, homework.SubmittedCount)
	require.Equal(t, 2, homework.TotalCount)
}

func TestComputeMetricsUsesAssignmentNameWhenCategoryIsBlank(t *testing.T) {
	assignments := []extract.Assignment{
		{Name: "Chapter 4 Quiz", Status: extract.StatusGraded, Score: ptr(8.0), MaxScore: ptr(10.0)},
		{Name: "Attendance", Status: extract.StatusGraded, Score: ptr(5.0), MaxScore: ptr(5.0)},
	}

	metrics := ComputeMetrics(assignments, nil)
	require.Len(t, metrics, 2)
	require.Equal(t, "Quizzes", metrics[0].Category)
	require.Equal(t, "Other", metrics[1].Category)
}

func TestComputeMetricsEmitsDeclaredWeightsWithoutAssignments(t *testing.T) {
	metrics := ComputeMetrics(nil, map[string]float64{"Tests": 50})
	require.Len(t, metrics, 1)
	require.Equal(t, "Tests", metrics[0].Category)
	require.NotNil(t, metrics[0].Weight)
	require.InDelta(t, 50.0, *metrics[0].Weight, 0.001)
	require.Equal(t, 0, metrics[0].TotalCount)
	require.Nil(t, metrics[0].Percent)
}
