package site

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/peterfisher/canvas-parent/lib/scrapers/canvas"
	"github.com/peterfisher/canvas-parent/lib/testutil"
	"github.com/peterfisher/canvas-parent/lib/timezone"
	"github.com/peterfisher/canvas-parent/services/grades"
	"github.com/peterfisher/canvas-parent/services/grades/db"
	"github.com/peterfisher/canvas-parent/services/grades/extract"
	"github.com/peterfisher/canvas-parent/services/grades/scraper"

	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T {
	return &v
}

func setupSeededStore(t *testing.T) grades.Store {
	result, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "site",
		DbSchema: db.Schema,
	})
	t.Cleanup(cleanup)

	store := grades.NewStore(result.DB)
	ctx := context.Background()

	due := time.Date(2025, time.May, 23, 0, 0, 0, 0, timezone.Location)
	err := store.SaveSnapshot(ctx, "Casey Smith", canvas.Course{Id: "101", Name: "AP Biology"}, extract.Fields{
		extract.AssignmentsKey: []extract.Assignment{
			{
				Id:       "1",
				Name:     "Cell Division Lab",
				Category: "Labs",
				Status:   extract.StatusGraded,
				DueDate:  &due,
				Score:    ptr(18.0),
				MaxScore: ptr(20.0),
				CourseId: "101",
			},
			{
				Id:       "2",
				Name:     "Genetics Homework",
				Category: "Homework",
				Status:   extract.StatusMissing,
				CourseId: "101",
			},
		},
		extract.CourseGradeKey: extract.CourseGrade{
			Percent:         ptr(90.0),
			Letter:          "A-",
			CategoryWeights: map[string]float64{"Labs": 60, "Homework": 40},
		},
	})
	require.NoError(t, err)

	err = store.SaveRun(ctx, scraper.RunSummary{
		Id:               "run00001",
		Student:          "Casey Smith",
		StartedAt:        timezone.Now(),
		Duration:         12 * time.Second,
		CoursesAttempted: 1,
		CoursesSucceeded: 1,
		AssignmentCount:  2,
	})
	require.NoError(t, err)

	return store
}

func readPage(t *testing.T, parts ...string) string {
	data, err := os.ReadFile(filepath.Join(parts...))
	require.NoError(t, err)
	return string(data)
}

func TestGenerateAll(t *testing.T) {
	store := setupSeededStore(t)
	outputDir := filepath.Join(t.TempDir(), "site")

	service := NewService(store, outputDir, "https://grades.example.com/")
	err := service.GenerateAll(context.Background())
	require.NoError(t, err)

	index := readPage(t, outputDir, "index.html")
	require.Contains(t, index, "Casey Smith")
	require.Contains(t, index, "student/caseysmith/index.html")
	require.Contains(t, index, "Last synced")
	require.Contains(t, index, "https://grades.example.com/")

	scorecard := readPage(t, outputDir, "student", "caseysmith", "index.html")
	require.Contains(t, scorecard, "AP Biology")
	require.Contains(t, scorecard, "90.0% (A-)")
	require.Contains(t, scorecard, "Cell Division Lab")
	require.Contains(t, scorecard, "18/20")
	require.Contains(t, scorecard, "Labs")

	assignments := readPage(t, outputDir, "assignments.html")
	require.Contains(t, assignments, "AP Biology")
	require.Contains(t, assignments, "Genetics Homework")
	require.Contains(t, assignments, "badge-missing")

	studentAssignments := readPage(t, outputDir, "student", "caseysmith", "assignments.html")
	require.Contains(t, studentAssignments, "Assignments for Casey Smith")

	_, err = os.Stat(filepath.Join(outputDir, "static", "style.css"))
	require.NoError(t, err)
}

func TestGenerateAllReplacesPreviousOutput(t *testing.T) {
	store := setupSeededStore(t)
	outputDir := filepath.Join(t.TempDir(), "site")

	stale := filepath.Join(outputDir, "student", "removed", "index.html")
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0755))
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0644))

	service := NewService(store, outputDir, "")
	require.NoError(t, service.GenerateAll(context.Background()))

	_, err := os.Stat(stale)
	require.True(t, os.IsNotExist(err), "stale pages must not survive regeneration")
}

func TestGenerateAllEmptyStore(t *testing.T) {
	result, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "site",
		DbSchema: db.Schema,
	})
	t.Cleanup(cleanup)

	outputDir := filepath.Join(t.TempDir(), "site")
	service := NewService(grades.NewStore(result.DB), outputDir, "")
	require.NoError(t, service.GenerateAll(context.Background()))

	index := readPage(t, outputDir, "index.html")
	require.Contains(t, index, "Never synced")
	require.Contains(t, index, "No students yet")
}

func TestFormatDueDate(t *testing.T) {
	past := time.Date(2020, time.January, 15, 0, 0, 0, 0, timezone.Location)

	t.Run("no due date", func(t *testing.T) {
		require.Equal(t, "N/A", formatDueDate(nil, extract.StatusGraded))
	})
	t.Run("graded date is plain", func(t *testing.T) {
		require.Equal(t, "January 15, 2020", formatDueDate(&past, extract.StatusGraded))
	})
	t.Run("upcoming in the past is plain", func(t *testing.T) {
		require.Equal(t, "January 15, 2020", formatDueDate(&past, extract.StatusUpcoming))
	})
	t.Run("due later today", func(t *testing.T) {
		now := timezone.Now()
		due := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, timezone.Location)
		if !due.After(now) {
			t.Skip("too close to midnight")
		}
		require.Contains(t, formatDueDate(&due, extract.StatusUpcoming), "(due today)")
	})
	t.Run("due tomorrow", func(t *testing.T) {
		now := timezone.Now()
		due := time.Date(now.Year(), now.Month(), now.Day()+1, 12, 0, 0, 0, timezone.Location)
		require.Contains(t, formatDueDate(&due, extract.StatusUpcoming), "(1 day left)")
	})
	t.Run("due in two weeks", func(t *testing.T) {
		now := timezone.Now()
		due := time.Date(now.Year(), now.Month(), now.Day()+14, 12, 0, 0, 0, timezone.Location)
		require.Contains(t, formatDueDate(&due, extract.StatusUpcoming), "(14 days left)")
	})
}

func TestGradeLine(t *testing.T) {
	cases := []struct {
		name   string
		course grades.Course
		want   string
	}{
		{"percent and letter", grades.Course{GradePercent: ptr(92.4), GradeLetter: "A-"}, "92.4% (A-)"},
		{"percent only", grades.Course{GradePercent: ptr(92.4)}, "92.4%"},
		{"letter only", grades.Course{GradeLetter: "B+"}, "B+"},
		{"nothing yet", grades.Course{}, "not graded yet"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.want, gradeLine(c.course))
		})
	}
}

func TestScoreLine(t *testing.T) {
	require.Equal(t, "18/20", scoreLine(ptr(18.0), ptr(20.0)))
	require.Equal(t, "17.5/20", scoreLine(ptr(17.5), ptr(20.0)))
	require.Equal(t, "-/20", scoreLine(nil, ptr(20.0)))
	require.Equal(t, "-", scoreLine(nil, nil))
}
