package grades

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/peterfisher/canvas-parent/lib/scrapers/canvas"
	"github.com/peterfisher/canvas-parent/lib/timezone"
	"github.com/peterfisher/canvas-parent/services/grades/extract"
	"github.com/peterfisher/canvas-parent/services/grades/scraper"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

var tracer = otel.Tracer("services/grades")

type Store struct {
	db *sql.DB
}

func NewStore(database *sql.DB) Store {
	return Store{db: database}
}

func nullUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func timeValue(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).In(timezone.Location)
	return &t
}

func floatValue(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

// SaveSnapshot persists one course's merged extraction in a single
// transaction. The previous assignment snapshot for the course is
// replaced wholesale, but only when the extraction actually carries
// assignments, a failed assignment extractor must not wipe the last
// good snapshot.
func (s Store) SaveSnapshot(ctx context.Context, student string, course canvas.Course, fields extract.Fields) error {
	ctx, span := tracer.Start(ctx, "SaveSnapshot")
	defer span.End()
	span.SetAttributes(
		attribute.String("student", student),
		attribute.String("course_id", course.Id),
	)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO students (name) VALUES (?) ON CONFLICT (name) DO NOTHING`,
		student,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to ensure student")
		return fmt.Errorf("ensure student %q: %w", student, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO courses (id, student, name, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			student = excluded.student,
			name = excluded.name,
			updated_at = excluded.updated_at`,
		course.Id, student, course.Name, timezone.Now().Unix(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to upsert course")
		return fmt.Errorf("upsert course %s: %w", course.Id, err)
	}

	weights := map[string]float64{}
	if grade, ok := fields[extract.CourseGradeKey].(extract.CourseGrade); ok {
		weights = grade.CategoryWeights
		_, err = tx.ExecContext(ctx,
			`UPDATE courses SET grade_percent = ?, grade_letter = ? WHERE id = ?`,
			nullFloat(grade.Percent), grade.Letter, course.Id,
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to update course grade")
			return fmt.Errorf("update grade for course %s: %w", course.Id, err)
		}
	}

	if assignments, ok := fields[extract.AssignmentsKey].([]extract.Assignment); ok {
		err = replaceAssignments(ctx, tx, course.Id, assignments, weights)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to replace assignment snapshot")
			return err
		}
	}

	err = tx.Commit()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func replaceAssignments(ctx context.Context, tx *sql.Tx, courseId string, assignments []extract.Assignment, weights map[string]float64) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE course_id = ?`, courseId)
	if err != nil {
		return fmt.Errorf("clear assignment snapshot for course %s: %w", courseId, err)
	}

	for _, a := range assignments {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO assignments
				(course_id, portal_id, name, category, status, due_date, submitted_date, score, max_score)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			courseId, a.Id, a.Name, a.Category, string(a.Status),
			nullUnix(a.DueDate), nullUnix(a.SubmittedDate),
			nullFloat(a.Score), nullFloat(a.MaxScore),
		)
		if err != nil {
			return fmt.Errorf("insert assignment %q: %w", a.Name, err)
		}
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM course_metrics WHERE course_id = ?`, courseId)
	if err != nil {
		return fmt.Errorf("clear metrics for course %s: %w", courseId, err)
	}
	for _, m := range ComputeMetrics(assignments, weights) {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO course_metrics
				(course_id, category, percent, weight, submitted_count, total_count)
			VALUES (?, ?, ?, ?, ?, ?)`,
			courseId, m.Category, nullFloat(m.Percent), nullFloat(m.Weight),
			m.SubmittedCount, m.TotalCount,
		)
		if err != nil {
			return fmt.Errorf("insert metric %q for course %s: %w", m.Category, courseId, err)
		}
	}
	return nil
}

func (s Store) SaveRun(ctx context.Context, summary scraper.RunSummary) error {
	ctx, span := tracer.Start(ctx, "SaveRun")
	defer span.End()
	span.SetAttributes(attribute.String("run_id", summary.Id))

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scrape_runs
			(id, student, started_at, duration_ms, courses_attempted, courses_succeeded,
			 courses_partial, courses_failed, persistence_errors, assignment_count, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		summary.Id, summary.Student, summary.StartedAt.Unix(), summary.Duration.Milliseconds(),
		summary.CoursesAttempted, summary.CoursesSucceeded, summary.CoursesPartial,
		summary.CoursesFailed, summary.PersistenceErrors, summary.AssignmentCount,
		summary.Status(),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("save run %s: %w", summary.Id, err)
	}
	return nil
}

// LastRun returns the most recent run summary, or nil when no run has
// been recorded yet.
func (s Store) LastRun(ctx context.Context) (*scraper.RunSummary, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, student, started_at, duration_ms, courses_attempted, courses_succeeded,
			courses_partial, courses_failed, persistence_errors, assignment_count
		FROM scrape_runs
		ORDER BY started_at DESC
		LIMIT 1`)

	var summary scraper.RunSummary
	var startedAt, durationMs int64
	err := row.Scan(
		&summary.Id, &summary.Student, &startedAt, &durationMs,
		&summary.CoursesAttempted, &summary.CoursesSucceeded, &summary.CoursesPartial,
		&summary.CoursesFailed, &summary.PersistenceErrors, &summary.AssignmentCount,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	summary.StartedAt = time.Unix(startedAt, 0).In(timezone.Location)
	summary.Duration = time.Duration(durationMs) * time.Millisecond
	return &summary, nil
}

func (s Store) Students(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM students ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []string
	for rows.Next() {
		var name string
		err = rows.Scan(&name)
		if err != nil {
			return nil, err
		}
		students = append(students, name)
	}
	return students, rows.Err()
}

type Course struct {
	Id           string
	Student      string
	Name         string
	GradePercent *float64
	GradeLetter  string
	UpdatedAt    time.Time
}

func (s Store) CoursesForStudent(ctx context.Context, student string) ([]Course, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, student, name, grade_percent, grade_letter, updated_at
		FROM courses
		WHERE student = ?
		ORDER BY name`,
		student,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var courses []Course
	for rows.Next() {
		var c Course
		var percent sql.NullFloat64
		var updatedAt int64
		err = rows.Scan(&c.Id, &c.Student, &c.Name, &percent, &c.GradeLetter, &updatedAt)
		if err != nil {
			return nil, err
		}
		c.GradePercent = floatValue(percent)
		c.UpdatedAt = time.Unix(updatedAt, 0).In(timezone.Location)
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

func scanAssignment(rows *sql.Rows, withCourseName bool) (AssignmentRow, error) {
	var a AssignmentRow
	var status string
	var due, submitted sql.NullInt64
	var score, maxScore sql.NullFloat64

	dest := []any{
		&a.CourseId, &a.Id, &a.Name, &a.Category, &status,
		&due, &submitted, &score, &maxScore,
	}
	if withCourseName {
		dest = append(dest, &a.CourseName)
	}
	err := rows.Scan(dest...)
	if err != nil {
		return AssignmentRow{}, err
	}

	a.Status = extract.Status(status)
	a.DueDate = timeValue(due)
	a.SubmittedDate = timeValue(submitted)
	a.Score = floatValue(score)
	a.MaxScore = floatValue(maxScore)
	return a, nil
}

// AssignmentRow is an assignment joined with the course it belongs to.
type AssignmentRow struct {
	extract.Assignment
	CourseName string
}

func (s Store) AssignmentsForCourse(ctx context.Context, courseId string) ([]extract.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT course_id, portal_id, name, category, status,
			due_date, submitted_date, score, max_score
		FROM assignments
		WHERE course_id = ?
		ORDER BY due_date DESC, name`,
		courseId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []extract.Assignment
	for rows.Next() {
		a, err := scanAssignment(rows, false)
		if err != nil {
			return nil, err
		}
		assignments = append(assignments, a.Assignment)
	}
	return assignments, rows.Err()
}

// Assignments returns every stored assignment with its course name,
// newest due date first. An empty student selects all students.
func (s Store) Assignments(ctx context.Context, student string) ([]AssignmentRow, error) {
	return s.queryAssignmentRows(ctx, `
		SELECT a.course_id, a.portal_id, a.name, a.category, a.status,
			a.due_date, a.submitted_date, a.score, a.max_score, c.name
		FROM assignments a
		JOIN courses c ON c.id = a.course_id
		WHERE (? = '' OR c.student = ?)
		ORDER BY a.due_date DESC, a.name`,
		student, student,
	)
}

func (s Store) MissingAssignments(ctx context.Context, student string) ([]AssignmentRow, error) {
	return s.queryAssignmentRows(ctx, `
		SELECT a.course_id, a.portal_id, a.name, a.category, a.status,
			a.due_date, a.submitted_date, a.score, a.max_score, c.name
		FROM assignments a
		JOIN courses c ON c.id = a.course_id
		WHERE (? = '' OR c.student = ?) AND a.status = ?
		ORDER BY a.due_date DESC, a.name`,
		student, student, string(extract.StatusMissing),
	)
}

func (s Store) queryAssignmentRows(ctx context.Context, query string, args ...any) ([]AssignmentRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AssignmentRow
	for rows.Next() {
		a, err := scanAssignment(rows, true)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (s Store) CourseMetrics(ctx context.Context, courseId string) ([]CategoryMetric, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT category, percent, weight, submitted_count, total_count
		FROM course_metrics
		WHERE course_id = ?`,
		courseId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byCategory := map[string]CategoryMetric{}
	for rows.Next() {
		var m CategoryMetric
		var percent, weight sql.NullFloat64
		err = rows.Scan(&m.Category, &percent, &weight, &m.SubmittedCount, &m.TotalCount)
		if err != nil {
			return nil, err
		}
		m.Percent = floatValue(percent)
		m.Weight = floatValue(weight)
		byCategory[m.Category] = m
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var metrics []CategoryMetric
	for _, category := range Categories {
		if m, ok := byCategory[category]; ok {
			metrics = append(metrics, m)
		}
	}
	return metrics, nil
}
