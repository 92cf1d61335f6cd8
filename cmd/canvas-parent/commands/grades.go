package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/peterfisher/canvas-parent/lib/serviceutil"
	"github.com/peterfisher/canvas-parent/lib/textutil"
	"github.com/peterfisher/canvas-parent/lib/timezone"
	"github.com/peterfisher/canvas-parent/services/grades"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var gradesStudent *string
var gradesAll *bool
var gradesMissing *bool

func init() {
	gradesStudent = gradesCmd.Flags().String("student", "", "Show a specific student, defaults to the configured one.")
	gradesAll = gradesCmd.Flags().Bool("all", false, "Show every student in the store.")
	gradesMissing = gradesCmd.Flags().Bool("missing", false, "Only show missing work.")
	rootCmd.AddCommand(gradesCmd)
}

func gradeCell(course grades.Course) string {
	switch {
	case course.GradePercent != nil && course.GradeLetter != "":
		return fmt.Sprintf("%.1f%% (%s)", *course.GradePercent, course.GradeLetter)
	case course.GradePercent != nil:
		return fmt.Sprintf("%.1f%%", *course.GradePercent)
	case course.GradeLetter != "":
		return course.GradeLetter
	}
	return ""
}

func scoreCell(row grades.AssignmentRow) string {
	if row.MaxScore == nil {
		return ""
	}
	if row.Score == nil {
		return fmt.Sprintf("-/%g", *row.MaxScore)
	}
	return fmt.Sprintf("%g/%g", *row.Score, *row.MaxScore)
}

func dueCell(row grades.AssignmentRow) string {
	if row.DueDate == nil {
		return ""
	}
	return row.DueDate.In(timezone.Location).Format("Jan 2, 2006")
}

func printCourses(ctx context.Context, store grades.Store, student string) {
	students := []string{student}
	if student == "" {
		var err error
		students, err = store.Students(ctx)
		if err != nil {
			serviceutil.Fatal("failed to list students", err)
		}
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Student", "Course", "Grade", "Updated"})
	for _, name := range students {
		courses, err := store.CoursesForStudent(ctx, name)
		if err != nil {
			serviceutil.Fatal("failed to list courses", err)
		}
		for _, course := range courses {
			t.AppendRow(table.Row{
				name,
				course.Name,
				gradeCell(course),
				course.UpdatedAt.In(timezone.Location).Format("Jan 2 15:04"),
			})
		}
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func printAssignments(ctx context.Context, store grades.Store, student string, missingOnly bool) {
	var rows []grades.AssignmentRow
	var err error
	if missingOnly {
		rows, err = store.MissingAssignments(ctx, student)
	} else {
		rows, err = store.Assignments(ctx, student)
	}
	if err != nil {
		serviceutil.Fatal("failed to list assignments", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Course", "Assignment", "Status", "Due", "Score"})
	for _, row := range rows {
		t.AppendRow(table.Row{
			textutil.Truncate(row.CourseName, 24),
			textutil.Truncate(row.Name, 40),
			string(row.Status),
			dueCell(row),
			scoreCell(row),
		})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

var gradesCmd = &cobra.Command{
	Use:   "grades [--student <name>|--all] [--missing]",
	Short: "Prints the latest stored grades and assignments.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		cfg := mustLoadConfig()

		store, database := openStore(cfg)
		defer database.Close()

		student := *gradesStudent
		if student == "" {
			student = cfg.Student
		}
		if *gradesAll {
			student = ""
		}

		if !*gradesMissing {
			printCourses(ctx, store, student)
		}
		printAssignments(ctx, store, student, *gradesMissing)
	},
}
