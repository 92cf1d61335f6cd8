package grades

import (
	"context"
	"testing"
	"time"

	"github.com/peterfisher/canvas-parent/lib/scrapers/canvas"
	"github.com/peterfisher/canvas-parent/lib/testutil"
	"github.com/peterfisher/canvas-parent/lib/timezone"
	"github.com/peterfisher/canvas-parent/services/grades/db"
	"github.com/peterfisher/canvas-parent/services/grades/extract"
	"github.com/peterfisher/canvas-parent/services/grades/scraper"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func setupStore(t testing.TB) Store {
	result, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "grades",
		DbSchema: db.Schema,
	})
	t.Cleanup(cleanup)
	return NewStore(result.DB)
}

func ptr[T any](v T) *T {
	return &v
}

func day(year int, month time.Month, d int) *time.Time {
	t := time.Date(year, month, d, 0, 0, 0, 0, timezone.Location)
	return &t
}

func biologyFields() extract.Fields {
	return extract.Fields{
		extract.AssignmentsKey: []extract.Assignment{
			{
				Id:       "1",
				Name:     "Cell Division Lab",
				Category: "Labs",
				Status:   extract.StatusGraded,
				DueDate:  day(2025, time.May, 23),
				Score:    ptr(18.0),
				MaxScore: ptr(20.0),
				CourseId: "101",
			},
			{
				Id:       "2",
				Name:     "Genetics Homework",
				Category: "Homework",
				Status:   extract.StatusMissing,
				DueDate:  day(2025, time.May, 20),
				CourseId: "101",
			},
		},
		extract.CourseGradeKey: extract.CourseGrade{
			Percent:         ptr(90.0),
			Letter:          "A-",
			CategoryWeights: map[string]float64{"Labs": 60, "Homework": 40},
		},
	}
}

func TestSaveSnapshotRoundTrip(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	err := store.SaveSnapshot(ctx, "casey", canvas.Course{Id: "101", Name: "AP Biology"}, biologyFields())
	require.NoError(t, err)

	students, err := store.Students(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"casey"}, students)

	courses, err := store.CoursesForStudent(ctx, "casey")
	require.NoError(t, err)
	require.Len(t, courses, 1)
	require.Equal(t, "AP Biology", courses[0].Name)
	require.Equal(t, "A-", courses[0].GradeLetter)
	require.NotNil(t, courses[0].GradePercent)
	require.InDelta(t, 90.0, *courses[0].GradePercent, 0.001)

	assignments, err := store.AssignmentsForCourse(ctx, "101")
	require.NoError(t, err)
	require.Len(t, assignments, 2)
	// newest due date first
	want := extract.Assignment{
		Id:       "1",
		Name:     "Cell Division Lab",
		Category: "Labs",
		Status:   extract.StatusGraded,
		DueDate:  day(2025, time.May, 23),
		Score:    ptr(18.0),
		MaxScore: ptr(20.0),
		CourseId: "101",
	}
	if diff := cmp.Diff(want, assignments[0]); diff != "" {
		t.Fatal(diff)
	}

	metrics, err := store.CourseMetrics(ctx, "101")
	require.NoError(t, err)
	require.Len(t, metrics, 2)
	require.Equal(t, "Labs", metrics[0].Category)
	require.NotNil(t, metrics[0].Percent)
	require.InDelta(t, 90.0, *metrics[0].Percent, 0.001)
	require.NotNil(t, metrics[0].Weight)
	require.InDelta(t, 60.0, *metrics[0].Weight, 0.001)
	require.Equal(t, 1, metrics[0].SubmittedCount)
	require.Equal(t, 1, metrics[0].TotalCount)
}

func TestSnapshotOverwriteLeavesNoStaleRows(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	course := canvas.Course{Id: "101", Name: "AP Biology"}

	err := store.SaveSnapshot(ctx, "casey", course, biologyFields())
	require.NoError(t, err)

	err = store.SaveSnapshot(ctx, "casey", course, extract.Fields{
		extract.AssignmentsKey: []extract.Assignment{
			{
				Id:       "3",
				Name:     "Photosynthesis Quiz",
				Category: "Quizzes",
				Status:   extract.StatusUpcoming,
				CourseId: "101",
			},
		},
	})
	require.NoError(t, err)

	assignments, err := store.AssignmentsForCourse(ctx, "101")
	require.NoError(t, err)
	require.Len(t, assignments, 1)
	require.Equal(t, "Photosynthesis Quiz", assignments[0].Name)
}

func TestFailedAssignmentExtractorKeepsLastSnapshot(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	course := canvas.Course{Id: "101", Name: "AP Biology"}

	err := store.SaveSnapshot(ctx, "casey", course, biologyFields())
	require.NoError(t, err)

	// a pass where only the course grade extractor succeeded
	err = store.SaveSnapshot(ctx, "casey", course, extract.Fields{
		extract.CourseGradeKey: extract.CourseGrade{Percent: ptr(91.0), Letter: "A-"},
	})
	require.NoError(t, err)

	assignments, err := store.AssignmentsForCourse(ctx, "101")
	require.NoError(t, err)
	require.Len(t, assignments, 2, "assignment snapshot must survive a pass without assignment data")

	courses, err := store.CoursesForStudent(ctx, "casey")
	require.NoError(t, err)
	require.InDelta(t, 91.0, *courses[0].GradePercent, 0.001)
}

func TestMissingAssignmentsFilter(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	err := store.SaveSnapshot(ctx, "casey", canvas.Course{Id: "101", Name: "AP Biology"}, biologyFields())
	require.NoError(t, err)
	err = store.SaveSnapshot(ctx, "jordan", canvas.Course{Id: "202", Name: "Geometry"}, extract.Fields{
		extract.AssignmentsKey: []extract.Assignment{
			{Id: "9", Name: "Proofs Worksheet", Status: extract.StatusMissing, CourseId: "202"},
		},
	})
	require.NoError(t, err)

	missing, err := store.MissingAssignments(ctx, "casey")
	require.NoError(t, err)
	require.Len(t, missing, 1)
	require.Equal(t, "Genetics Homework", missing[0].Name)
	require.Equal(t, "AP Biology", missing[0].CourseName)

	everyone, err := store.MissingAssignments(ctx, "")
	require.NoError(t, err)
	require.Len(t, everyone, 2)

	all, err := store.Assignments(ctx, "casey")
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "Cell Division Lab", all[0].Name)
}

func TestSaveRunAndLastRun(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	last, err := store.LastRun(ctx)
	require.NoError(t, err)
	require.Nil(t, last)

	first := scraper.RunSummary{
		Id:               "run00001",
		Student:          "casey",
		StartedAt:        time.Date(2025, time.May, 23, 6, 0, 0, 0, timezone.Location),
		Duration:         42 * time.Second,
		CoursesAttempted: 3,
		CoursesSucceeded: 3,
		AssignmentCount:  17,
	}
	require.NoError(t, store.SaveRun(ctx, first))

	second := first
	second.Id = "run00002"
	second.StartedAt = first.StartedAt.Add(time.Hour)
	second.CoursesSucceeded = 2
	second.CoursesPartial = 1
	require.NoError(t, store.SaveRun(ctx, second))

	last, err = store.LastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	require.Equal(t, "run00002", last.Id)
	require.Equal(t, 1, last.CoursesPartial)
	require.True(t, last.StartedAt.Equal(second.StartedAt))
	require.Equal(t, 42*time.Second, last.Duration)
}
