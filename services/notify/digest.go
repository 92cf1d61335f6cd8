package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/peterfisher/canvas-parent/lib/timezone"
	"github.com/peterfisher/canvas-parent/services/grades"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/notify")

type SmtpConfig struct {
	Server       string `json:"server"`
	Port         int    `json:"port"`
	EmailAddress string `json:"email_address"`
	Password     string `json:"password"`
}

type Options struct {
	Smtp       SmtpConfig `json:"smtp"`
	Recipients []string   `json:"recipients"`
	// SiteUrl, when set, is linked at the bottom of each digest.
	SiteUrl string `json:"site_url"`
}

// Service emails parents a digest of missing work pulled from the
// grade store.
type Service struct {
	store  grades.Store
	config Options
}

func NewService(store grades.Store, options Options) Service {
	return Service{
		store:  store,
		config: options,
	}
}

func digestSubject(student string, count int) string {
	noun := "assignments"
	if count == 1 {
		noun = "assignment"
	}
	if student == "" {
		return fmt.Sprintf("%d missing %s", count, noun)
	}
	return fmt.Sprintf("%d missing %s for %s", count, noun, student)
}

type courseGroup struct {
	name string
	rows []grades.AssignmentRow
}

func groupByCourse(missing []grades.AssignmentRow) []*courseGroup {
	index := map[string]int{}
	var groups []*courseGroup
	for _, row := range missing {
		i, ok := index[row.CourseName]
		if !ok {
			i = len(groups)
			index[row.CourseName] = i
			groups = append(groups, &courseGroup{name: row.CourseName})
		}
		groups[i].rows = append(groups[i].rows, row)
	}
	return groups
}

func digestBody(student string, missing []grades.AssignmentRow, siteUrl string) string {
	var b strings.Builder

	noun := "assignments"
	if len(missing) == 1 {
		noun = "assignment"
	}
	today := timezone.Now().Format("January 2, 2006")
	if student == "" {
		fmt.Fprintf(&b, "There are %d missing %s as of %s.\n", len(missing), noun, today)
	} else {
		fmt.Fprintf(&b, "%s has %d missing %s as of %s.\n", student, len(missing), noun, today)
	}

	for _, group := range groupByCourse(missing) {
		fmt.Fprintf(&b, "\n%s:\n", group.name)
		for _, row := range group.rows {
			if row.DueDate == nil {
				fmt.Fprintf(&b, "  - %s (no due date)\n", row.Name)
			} else {
				fmt.Fprintf(&b, "  - %s (due %s)\n", row.Name, row.DueDate.In(timezone.Location).Format("January 2, 2006"))
			}
		}
	}

	if siteUrl != "" {
		fmt.Fprintf(&b, "\nFull scorecard: %s\n", siteUrl)
	}
	return b.String()
}

// SendMissingWorkDigest emails one plain-text digest of the student's
// missing assignments, grouped by course. An empty student covers
// everyone. Nothing is sent when no work is missing.
func (s Service) SendMissingWorkDigest(ctx context.Context, student string) error {
	ctx, span := tracer.Start(ctx, "SendMissingWorkDigest")
	defer span.End()
	span.SetAttributes(attribute.String("student", student))

	missing, err := s.store.MissingAssignments(ctx, student)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list missing assignments")
		return err
	}
	if len(missing) == 0 {
		slog.InfoContext(ctx, "no missing work, skipping digest", "student", student)
		return nil
	}
	if len(s.config.Recipients) == 0 {
		err := fmt.Errorf("notify: no recipients configured")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	mail := email.NewEmail()
	mail.From = fmt.Sprintf("Canvas Parent <%s>", s.config.Smtp.EmailAddress)
	mail.To = s.config.Recipients
	mail.Subject = digestSubject(student, len(missing))
	mail.Text = []byte(digestBody(student, missing, s.config.SiteUrl))

	addr := fmt.Sprintf("%s:%d", s.config.Smtp.Server, s.config.Smtp.Port)
	err = mail.Send(
		addr,
		smtp.PlainAuth("", s.config.Smtp.EmailAddress, s.config.Smtp.Password, s.config.Smtp.Server),
	)
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = mail.Send(addr, nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		return err
	}

	slog.InfoContext(ctx, "sent missing work digest",
		"student", student,
		"assignments", len(missing),
		"recipients", len(s.config.Recipients),
	)
	return nil
}
