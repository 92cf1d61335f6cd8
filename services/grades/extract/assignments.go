package extract

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/peterfisher/canvas-parent/lib/htmlutil"
	"github.com/peterfisher/canvas-parent/lib/timezone"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const AssignmentsKey = "assignments"

type Status string

const (
	StatusExcused   Status = "EXCUSED"
	StatusMissing   Status = "MISSING"
	StatusLate      Status = "LATE"
	StatusGraded    Status = "GRADED"
	StatusSubmitted Status = "SUBMITTED"
	StatusUpcoming  Status = "UPCOMING"
	StatusUnknown   Status = "UNKNOWN"
)

type Assignment struct {
	Id            string
	Name          string
	Category      string
	Status        Status
	DueDate       *time.Time
	SubmittedDate *time.Time
	Score         *float64
	MaxScore      *float64
	CourseId      string
}

// AssignmentExtractor walks the grade summary table and contributes
// the "assignments" field.
type AssignmentExtractor struct {
	Page
}

func NewAssignmentExtractor() Extractor {
	return &AssignmentExtractor{}
}

func (e *AssignmentExtractor) Key() string {
	return AssignmentsKey
}

func (e *AssignmentExtractor) ExtractData(ctx context.Context) (Fields, error) {
	ctx, span := tracer.Start(ctx, "AssignmentExtractor:ExtractData")
	defer span.End()

	table := e.Doc().Find("table#grades_summary")
	if table.Length() == 0 {
		err := MarkupError{Key: AssignmentsKey, Missing: "table#grades_summary"}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	assignments := []Assignment{}
	table.Find("tr.student_assignment").Each(func(_ int, row *goquery.Selection) {
		a, ok := assignmentFromRow(row, e.CourseId())
		if !ok {
			return
		}
		assignments = append(assignments, a)
	})

	span.SetAttributes(attribute.Int("assignment_count", len(assignments)))
	return Fields{AssignmentsKey: assignments}, nil
}

var scorePattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*/\s*(\d+(?:\.\d+)?)`)

func parseScore(text string) (*float64, *float64) {
	groups := scorePattern.FindStringSubmatch(text)
	if len(groups) < 3 {
		return nil, nil
	}
	achieved, err := strconv.ParseFloat(groups[1], 64)
	if err != nil {
		return nil, nil
	}
	max, err := strconv.ParseFloat(groups[2], 64)
	if err != nil {
		return nil, nil
	}
	return &achieved, &max
}

func hasToken(text, token string) bool {
	for _, field := range strings.Fields(text) {
		if field == token {
			return true
		}
	}
	return false
}

// classifyStatus applies the fixed precedence: excused > missing >
// late > graded > submitted > upcoming > unknown.
func classifyStatus(row *goquery.Selection, score *float64, submitted bool, due *time.Time) Status {
	scoreText := htmlutil.Clean(row.Find("td.assignment_score").Text())
	statusText := strings.ToLower(htmlutil.Clean(row.Find("td.status").Text()))

	if row.HasClass("excused") || hasToken(scoreText, "EX") {
		return StatusExcused
	}
	if row.Find("span.submission-missing-pill").Length() > 0 || strings.Contains(statusText, "missing") {
		return StatusMissing
	}
	if row.Find("span.submission-late-pill").Length() > 0 || strings.Contains(statusText, "late") {
		return StatusLate
	}
	if score != nil {
		return StatusGraded
	}
	if submitted {
		return StatusSubmitted
	}
	if due != nil && due.After(timezone.Now()) {
		return StatusUpcoming
	}
	return StatusUnknown
}

func assignmentFromRow(row *goquery.Selection, courseId string) (Assignment, bool) {
	// rows without a name link have no identity worth keeping
	name := htmlutil.CleanText(row.Find("th.title a"))
	if name == "" {
		return Assignment{}, false
	}

	id := ""
	if attr := row.AttrOr("id", ""); strings.HasPrefix(attr, "submission_") {
		id = strings.TrimPrefix(attr, "submission_")
	}

	due := ParseDate(row.Find("td.due").Text())
	submittedText := htmlutil.Clean(row.Find("td.submitted").Text())
	submitted := submittedText != "" && !noDateMarkers[strings.ToLower(submittedText)]
	score, maxScore := parseScore(htmlutil.Clean(row.Find("td.assignment_score").Text()))

	return Assignment{
		Id:            id,
		Name:          name,
		Category:      htmlutil.CleanText(row.Find("th.title div.context")),
		Status:        classifyStatus(row, score, submitted, due),
		DueDate:       due,
		SubmittedDate: ParseDate(submittedText),
		Score:         score,
		MaxScore:      maxScore,
		CourseId:      courseId,
	}, true
}
