package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/peterfisher/canvas-parent/lib/scrapers/canvas"
	"github.com/peterfisher/canvas-parent/lib/timezone"
	"github.com/peterfisher/canvas-parent/services/grades/extract"

	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/grades/scraper")

// PageSource is the authenticated portal surface the scraper drives.
type PageSource interface {
	ActiveCourses(ctx context.Context) ([]canvas.Course, error)
	GradesPage(ctx context.Context, course canvas.Course) (string, error)
}

// Sink receives each course's merged extraction as soon as the course
// completes, a failure later in the run cannot lose earlier courses.
type Sink interface {
	SaveSnapshot(ctx context.Context, student string, course canvas.Course, fields extract.Fields) error
}

type Scraper struct {
	source    PageSource
	sink      Sink
	student   string
	factories []extract.Factory
}

func NewScraper(source PageSource, sink Sink, student string) *Scraper {
	return &Scraper{
		source:  source,
		sink:    sink,
		student: student,
	}
}

// RegisterExtractor appends a factory to the registry. Registration
// order is invocation order. No de-duplication, registering the same
// factory twice runs it twice.
func (s *Scraper) RegisterExtractor(factory extract.Factory) {
	s.factories = append(s.factories, factory)
}

// CourseResult is the merged output of every registered extractor for
// one course in one pass.
type CourseResult struct {
	Course canvas.Course
	Fields extract.Fields
	// extractor key -> what went wrong, successful extractors'
	// fields are still present in Fields
	Failures map[string]error
}

// ScrapeCourse fetches the course's grade page once and runs every
// registered extractor over that single snapshot. Extractors run in
// isolation, one failing does not stop the others. An extractor whose
// output collides with an already-merged field has its whole
// contribution rejected and recorded as a failure.
func (s *Scraper) ScrapeCourse(ctx context.Context, course canvas.Course) (CourseResult, error) {
	ctx, span := tracer.Start(ctx, "ScrapeCourse")
	defer span.End()
	span.SetAttributes(
		attribute.String("course_id", course.Id),
		attribute.String("course_name", course.Name),
	)

	markup, err := s.source.GradesPage(ctx, course)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch grade page")
		return CourseResult{}, fmt.Errorf("fetch grade page for course %s: %w", course.Id, err)
	}

	result := CourseResult{
		Course:   course,
		Fields:   extract.Fields{},
		Failures: map[string]error{},
	}

	for _, factory := range s.factories {
		e := factory()

		err := e.ProvideContent(markup, course.Id)
		if err != nil {
			result.Failures[e.Key()] = err
			continue
		}

		fields, err := extract.Scrape(ctx, e)
		if err != nil {
			result.Failures[e.Key()] = err
			continue
		}

		collision := ""
		for key := range fields {
			if _, taken := result.Fields[key]; taken {
				collision = key
				break
			}
		}
		if collision != "" {
			result.Failures[e.Key()] = fmt.Errorf(
				"field %q was already contributed by an earlier extractor", collision)
			continue
		}

		for key, value := range fields {
			result.Fields[key] = value
		}
	}

	return result, nil
}

// RunSummary aggregates one full coordinator pass.
type RunSummary struct {
	Id        string
	Student   string
	StartedAt time.Time
	Duration  time.Duration

	CoursesAttempted  int
	CoursesSucceeded  int
	CoursesPartial    int
	CoursesFailed     int
	PersistenceErrors int
	AssignmentCount   int

	// course name -> extracted assignment count
	CourseAssignments map[string]int
}

func (s RunSummary) Status() string {
	switch {
	case s.CoursesAttempted > 0 && s.CoursesFailed == s.CoursesAttempted:
		return "failed"
	case s.CoursesFailed > 0 || s.CoursesPartial > 0 || s.PersistenceErrors > 0:
		return "partial"
	default:
		return "ok"
	}
}

// Run discovers active courses and scrapes them sequentially, handing
// each course's result to the sink as it completes. Only a failure to
// list courses aborts the run, everything narrower is recorded in the
// summary and skipped past.
func (s *Scraper) Run(ctx context.Context) (RunSummary, error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	runId, err := random.String(8)
	if err != nil {
		return RunSummary{}, err
	}
	span.SetAttributes(attribute.String("run_id", runId))

	summary := RunSummary{
		Id:                runId,
		Student:           s.student,
		StartedAt:         timezone.Now(),
		CourseAssignments: map[string]int{},
	}

	courses, err := s.source.ActiveCourses(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list active courses")
		return RunSummary{}, fmt.Errorf("list active courses: %w", err)
	}

	for _, course := range courses {
		summary.CoursesAttempted++
		slog.InfoContext(ctx, "scraping course", "run_id", runId, "id", course.Id, "name", course.Name)

		result, err := s.ScrapeCourse(ctx, course)
		if err != nil {
			slog.WarnContext(ctx, "course scrape failed", "name", course.Name, "err", err)
			summary.CoursesFailed++
			continue
		}

		if len(result.Failures) > 0 {
			summary.CoursesPartial++
			for key, extractErr := range result.Failures {
				slog.WarnContext(ctx, "extractor failed", "name", course.Name, "extractor", key, "err", extractErr)
			}
		} else {
			summary.CoursesSucceeded++
		}

		if assignments, ok := result.Fields[extract.AssignmentsKey].([]extract.Assignment); ok {
			summary.AssignmentCount += len(assignments)
			summary.CourseAssignments[course.Name] = len(assignments)
		}

		err = s.sink.SaveSnapshot(ctx, s.student, course, result.Fields)
		if err != nil {
			slog.WarnContext(ctx, "failed to persist course snapshot", "name", course.Name, "err", err)
			summary.PersistenceErrors++
		}
	}

	summary.Duration = timezone.Now().Sub(summary.StartedAt)
	span.SetAttributes(
		attribute.Int("courses_attempted", summary.CoursesAttempted),
		attribute.Int("courses_failed", summary.CoursesFailed),
		attribute.Int("assignment_count", summary.AssignmentCount),
	)
	return summary, nil
}
