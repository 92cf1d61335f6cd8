package extract

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/peterfisher/canvas-parent/lib/htmlutil"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const CourseGradeKey = "course_grade"

type CourseGrade struct {
	// nil when nothing in the course has been graded yet
	Percent *float64
	Letter  string
	// group name -> weight percentage, empty for unweighted courses
	CategoryWeights map[string]float64
}

// CourseGradeExtractor computes the current course grade from the
// page's ENV script blob and contributes the "course_grade" field.
type CourseGradeExtractor struct {
	Page
}

func NewCourseGradeExtractor() Extractor {
	return &CourseGradeExtractor{}
}

func (e *CourseGradeExtractor) Key() string {
	return CourseGradeKey
}

var envPattern = regexp.MustCompile(`(?s)ENV\s*=\s*(\{.*?\});`)

type envAssignmentGroup struct {
	Id          int64   `json:"id"`
	Name        string  `json:"name"`
	GroupWeight float64 `json:"group_weight"`
	Assignments []struct {
		Id             int64    `json:"id"`
		PointsPossible *float64 `json:"points_possible"`
	} `json:"assignments"`
}

type envSubmission struct {
	AssignmentId  int64    `json:"assignment_id"`
	Score         *float64 `json:"score"`
	WorkflowState string   `json:"workflow_state"`
	Excused       bool     `json:"excused"`
}

type envBlob struct {
	GradingScheme    [][]any              `json:"grading_scheme"`
	AssignmentGroups []envAssignmentGroup `json:"assignment_groups"`
	Submissions      []envSubmission      `json:"submissions"`
}

func (e *CourseGradeExtractor) ExtractData(ctx context.Context) (Fields, error) {
	ctx, span := tracer.Start(ctx, "CourseGradeExtractor:ExtractData")
	defer span.End()

	var env *envBlob
	for _, script := range e.Doc().Find("script").Nodes {
		text := htmlutil.GetText(script)
		groups := envPattern.FindStringSubmatch(text)
		if len(groups) < 2 {
			continue
		}

		var blob envBlob
		err := json.Unmarshal([]byte(groups[1]), &blob)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to unmarshal ENV blob")
			continue
		}
		env = &blob
		break
	}
	if env == nil {
		err := MarkupError{Key: CourseGradeKey, Missing: "ENV script blob"}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	grade := computeGrade(env)
	if grade.Percent != nil {
		span.SetAttributes(attribute.Float64("percent", *grade.Percent))
	}
	return Fields{CourseGradeKey: grade}, nil
}

type gradeBand struct {
	Letter string
	// minimum percentage for the band
	Cutoff float64
}

var defaultGradingScheme = []gradeBand{
	{"A", 94}, {"A-", 90},
	{"B+", 87}, {"B", 84}, {"B-", 80},
	{"C+", 77}, {"C", 74}, {"C-", 70},
	{"D+", 67}, {"D", 64}, {"D-", 60},
}

func letterForPercent(scheme []gradeBand, percent float64) string {
	for _, band := range scheme {
		if percent >= band.Cutoff {
			return band.Letter
		}
	}
	return "F"
}

// ENV grading schemes arrive as [name, cutoff] pairs with fractional
// cutoffs, e.g. ["A", 0.94].
func schemeFromEnv(raw [][]any) []gradeBand {
	var bands []gradeBand
	for _, entry := range raw {
		if len(entry) < 2 {
			continue
		}
		name, ok := entry[0].(string)
		if !ok {
			continue
		}
		cutoff, ok := entry[1].(float64)
		if !ok {
			continue
		}
		bands = append(bands, gradeBand{Letter: name, Cutoff: cutoff * 100})
	}
	sort.SliceStable(bands, func(i, j int) bool {
		return bands[i].Cutoff > bands[j].Cutoff
	})
	return bands
}

func computeGrade(env *envBlob) CourseGrade {
	graded := map[int64]envSubmission{}
	for _, sub := range env.Submissions {
		if sub.WorkflowState != "graded" || sub.Score == nil || sub.Excused {
			continue
		}
		graded[sub.AssignmentId] = sub
	}

	weighted := false
	for _, group := range env.AssignmentGroups {
		if group.GroupWeight > 0 {
			weighted = true
			break
		}
	}

	var percent *float64
	weights := map[string]float64{}

	if weighted {
		weightSum := 0.0
		earnedSum := 0.0
		for _, group := range env.AssignmentGroups {
			if group.GroupWeight <= 0 {
				continue
			}
			weights[strings.TrimSpace(group.Name)] = group.GroupWeight

			earned := 0.0
			possible := 0.0
			for _, a := range group.Assignments {
				sub, ok := graded[a.Id]
				if !ok || a.PointsPossible == nil || *a.PointsPossible <= 0 {
					continue
				}
				earned += *sub.Score
				possible += *a.PointsPossible
			}
			if possible <= 0 {
				continue
			}

			weightSum += group.GroupWeight
			earnedSum += group.GroupWeight * (earned / possible)
		}
		// normalize so groups with nothing graded yet do not drag
		// the total down
		if weightSum > 0 {
			pct := earnedSum / weightSum * 100
			percent = &pct
		}
	} else {
		earned := 0.0
		possible := 0.0
		for _, group := range env.AssignmentGroups {
			for _, a := range group.Assignments {
				sub, ok := graded[a.Id]
				if !ok || a.PointsPossible == nil || *a.PointsPossible <= 0 {
					continue
				}
				earned += *sub.Score
				possible += *a.PointsPossible
			}
		}
		if possible > 0 {
			pct := earned / possible * 100
			percent = &pct
		}
	}

	grade := CourseGrade{Percent: percent, CategoryWeights: weights}
	if percent != nil {
		scheme := schemeFromEnv(env.GradingScheme)
		if len(scheme) > 0 {
			grade.Letter = letterForPercent(scheme, *percent)
		} else {
			grade.Letter = letterForPercent(defaultGradingScheme, *percent)
		}
	}
	return grade
}
