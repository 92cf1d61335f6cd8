package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("services/grades/extract")

// Fields is the mapping one extractor contributes for one course.
type Fields map[string]any

// Extractor pulls one category of data out of a course's grade page.
//
// ProvideContent may be called any number of times, each call replaces
// the previous snapshot wholesale. ExtractData must only run once
// content has been provided, Scrape enforces this.
type Extractor interface {
	// Key names the field this extractor contributes to the course
	// result. Keys must not collide across registered extractors.
	Key() string
	ProvideContent(markup, courseId string) error
	Ready() bool
	ExtractData(ctx context.Context) (Fields, error)
}

// Factory builds a fresh extractor instance, one per course per pass.
type Factory func() Extractor

// Returned by Scrape when extraction is attempted before any content
// has been provided. Always an integration bug, never expected at
// runtime.
var ErrNoContent = fmt.Errorf("no page content was provided before extraction")

// MarkupError reports that the page is missing a structure the
// extractor requires.
type MarkupError struct {
	Key     string
	Missing string
}

func (e MarkupError) Error() string {
	return fmt.Sprintf("%s: expected markup not found: %s", e.Key, e.Missing)
}

// Page holds the parsed document snapshot and course id for one pass.
// Concrete extractors embed it to satisfy the content half of the
// contract.
type Page struct {
	doc      *goquery.Document
	courseId string
}

func (p *Page) ProvideContent(markup, courseId string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return fmt.Errorf("parse page markup: %w", err)
	}
	p.doc = doc
	p.courseId = courseId
	return nil
}

func (p *Page) Ready() bool {
	return p.doc != nil
}

func (p *Page) Doc() *goquery.Document {
	return p.doc
}

func (p *Page) CourseId() string {
	return p.courseId
}

// Scrape asserts content has been provided, then runs extraction.
func Scrape(ctx context.Context, e Extractor) (Fields, error) {
	if !e.Ready() {
		return nil, ErrNoContent
	}
	return e.ExtractData(ctx)
}
