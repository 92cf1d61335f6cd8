package site

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peterfisher/canvas-parent/lib/textutil"
	"github.com/peterfisher/canvas-parent/lib/timezone"
	"github.com/peterfisher/canvas-parent/services/grades"
	"github.com/peterfisher/canvas-parent/services/grades/extract"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/site")

//go:embed templates
var content embed.FS

var pages = template.Must(template.New("").Funcs(template.FuncMap{
	"formatDueDate": formatDueDate,
	"formatPercent": formatPercent,
	"scoreLine":     scoreLine,
	"statusClass":   statusClass,
}).ParseFS(content, "templates/*.html"))

// Service renders the whole dashboard from the grade store into a
// directory of static files. The output directory is removed and
// rebuilt on every generation.
type Service struct {
	store     grades.Store
	OutputDir string
	// BaseUrl is the public address the site is served from, used
	// for the canonical link on the index page. Optional.
	BaseUrl string
}

func NewService(store grades.Store, outputDir string, baseUrl string) Service {
	return Service{
		store:     store,
		OutputDir: outputDir,
		BaseUrl:   baseUrl,
	}
}

func formatDueDate(due *time.Time, status extract.Status) string {
	if due == nil {
		return "N/A"
	}
	local := due.In(timezone.Location)
	formatted := local.Format("January 2, 2006")

	now := timezone.Now()
	if status != extract.StatusUpcoming || !local.After(now) {
		return formatted
	}

	today := timezone.StartOfDay(now)
	dueDay := timezone.StartOfDay(local)
	days := int(math.Round(dueDay.Sub(today).Hours() / 24))
	switch days {
	case 0:
		return formatted + " (due today)"
	case 1:
		return formatted + " (1 day left)"
	default:
		return fmt.Sprintf("%s (%d days left)", formatted, days)
	}
}

func formatPercent(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.1f%%", *v)
}

func scoreLine(score, maxScore *float64) string {
	if maxScore == nil {
		return "-"
	}
	max := strconv.FormatFloat(*maxScore, 'f', -1, 64)
	if score == nil {
		return "-/" + max
	}
	return strconv.FormatFloat(*score, 'f', -1, 64) + "/" + max
}

func statusClass(status extract.Status) string {
	return strings.ToLower(string(status))
}

type studentLink struct {
	Name string
	Slug string
}

type syncInfo struct {
	Time   string
	Status string
}

type indexContext struct {
	Root     string
	BaseUrl  string
	Students []studentLink
	Sync     syncInfo
}

type courseSection struct {
	Name        string
	Grade       string
	Metrics     []grades.CategoryMetric
	Assignments []extract.Assignment
}

type studentContext struct {
	Root    string
	Student string
	Courses []courseSection
}

type assignmentsContext struct {
	Root        string
	Student     string
	Assignments []grades.AssignmentRow
	Sync        syncInfo
}

func gradeLine(course grades.Course) string {
	switch {
	case course.GradePercent != nil && course.GradeLetter != "":
		return fmt.Sprintf("%.1f%% (%s)", *course.GradePercent, course.GradeLetter)
	case course.GradePercent != nil:
		return fmt.Sprintf("%.1f%%", *course.GradePercent)
	case course.GradeLetter != "":
		return course.GradeLetter
	default:
		return "not graded yet"
	}
}

// GenerateAll writes the index, the all-students assignment page and
// a scorecard plus assignment page per student.
func (s Service) GenerateAll(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "GenerateAll")
	defer span.End()

	err := os.RemoveAll(s.OutputDir)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to clean output directory")
		return fmt.Errorf("clean output directory: %w", err)
	}
	err = os.MkdirAll(s.OutputDir, 0755)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create output directory")
		return fmt.Errorf("create output directory: %w", err)
	}

	err = s.copyStaticFiles()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to copy static files")
		return fmt.Errorf("copy static files: %w", err)
	}

	sync, err := s.lastSync(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read last run")
		return err
	}

	students, err := s.store.Students(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list students")
		return err
	}

	links := make([]studentLink, len(students))
	for i, name := range students {
		links[i] = studentLink{Name: name, Slug: textutil.NormalizeName(name)}
	}

	err = s.renderToFile("index.html", "index.html", indexContext{
		BaseUrl:  s.BaseUrl,
		Students: links,
		Sync:     sync,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to render index")
		return err
	}

	err = s.generateAssignments(ctx, "", "assignments.html", "", sync)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to render assignments")
		return err
	}

	for _, link := range links {
		dir := filepath.Join("student", link.Slug)
		err = s.generateStudent(ctx, link, dir)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to render student page")
			return err
		}
		err = s.generateAssignments(ctx, link.Name, filepath.Join(dir, "assignments.html"), "../../", sync)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to render student assignments")
			return err
		}
	}

	span.SetAttributes(attribute.Int("students", len(links)))
	slog.InfoContext(ctx, "generated site", "students", len(links), "output", s.OutputDir)
	return nil
}

func (s Service) lastSync(ctx context.Context) (syncInfo, error) {
	run, err := s.store.LastRun(ctx)
	if err != nil {
		return syncInfo{}, fmt.Errorf("read last run: %w", err)
	}
	if run == nil {
		return syncInfo{}, nil
	}
	return syncInfo{
		Time:   run.StartedAt.In(timezone.Location).Format("January 2, 2006 3:04 PM"),
		Status: run.Status(),
	}, nil
}

func (s Service) generateStudent(ctx context.Context, link studentLink, dir string) error {
	courses, err := s.store.CoursesForStudent(ctx, link.Name)
	if err != nil {
		return fmt.Errorf("list courses for %s: %w", link.Name, err)
	}

	sections := make([]courseSection, 0, len(courses))
	for _, course := range courses {
		metrics, err := s.store.CourseMetrics(ctx, course.Id)
		if err != nil {
			return fmt.Errorf("read metrics for course %s: %w", course.Id, err)
		}
		assignments, err := s.store.AssignmentsForCourse(ctx, course.Id)
		if err != nil {
			return fmt.Errorf("read assignments for course %s: %w", course.Id, err)
		}
		sections = append(sections, courseSection{
			Name:        course.Name,
			Grade:       gradeLine(course),
			Metrics:     metrics,
			Assignments: assignments,
		})
	}

	return s.renderToFile(filepath.Join(dir, "index.html"), "student.html", studentContext{
		Root:    "../../",
		Student: link.Name,
		Courses: sections,
	})
}

func (s Service) generateAssignments(ctx context.Context, student string, outPath string, root string, sync syncInfo) error {
	assignments, err := s.store.Assignments(ctx, student)
	if err != nil {
		return fmt.Errorf("list assignments: %w", err)
	}
	return s.renderToFile(outPath, "assignments.html", assignmentsContext{
		Root:        root,
		Student:     student,
		Assignments: assignments,
		Sync:        sync,
	})
}

func (s Service) renderToFile(relPath string, templateName string, data any) error {
	var buf bytes.Buffer
	err := pages.ExecuteTemplate(&buf, templateName, data)
	if err != nil {
		return fmt.Errorf("render %s: %w", templateName, err)
	}

	target := filepath.Join(s.OutputDir, relPath)
	err = os.MkdirAll(filepath.Dir(target), 0755)
	if err != nil {
		return err
	}
	return os.WriteFile(target, buf.Bytes(), 0644)
}

func (s Service) copyStaticFiles() error {
	return fs.WalkDir(content, "templates/static", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		target := filepath.Join(s.OutputDir, strings.TrimPrefix(path, "templates/"))
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		data, err := content.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0644)
	})
}
