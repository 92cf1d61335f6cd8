package extract

import (
	"regexp"
	"strings"
	"time"

	"github.com/peterfisher/canvas-parent/lib/timezone"
)

var noDateMarkers = map[string]bool{
	"no due date": true,
	"tbd":         true,
	"n/a":         true,
	"-":           true,
	"none":        true,
}

var meridiemGap = regexp.MustCompile(`(?i)(\d)\s+(am|pm)\b`)

// layouts the portal has been observed to emit, most specific first
var dateLayouts = []string{
	"Jan 2 2006 3:04pm",
	"Jan 2 3:04pm",
	"Jan 2 2006",
	"Jan 2",
	"1/2/2006",
	"1.2.2006",
}

// ParseDate turns the freeform date text found in grade table cells
// ("Due: May 23, 2025 at 11:59pm", "Mar 17", "12.19.2024", ...) into
// a midnight time in the pinned zone. Cells that carry no real date
// ("No Due Date", "TBD", "-", empty) and text that fails every known
// layout both come back nil, never an error.
func ParseDate(text string) *time.Time {
	s := strings.TrimSpace(text)

	lower := strings.ToLower(s)
	if strings.HasPrefix(lower, "due:") || strings.HasPrefix(lower, "due ") {
		s = strings.TrimSpace(s[4:])
	}
	if s == "" || noDateMarkers[strings.ToLower(s)] {
		return nil
	}

	s = strings.ReplaceAll(s, " at ", " ")
	s = strings.ReplaceAll(s, " by ", " ")
	s = strings.ReplaceAll(s, ",", "")
	s = meridiemGap.ReplaceAllString(s, "$1$2")
	s = strings.Join(strings.Fields(s), " ")

	for _, layout := range dateLayouts {
		parsed, err := time.ParseInLocation(layout, s, timezone.Location)
		if err != nil {
			continue
		}

		year := parsed.Year()
		// layouts without a year parse into year zero
		if year == 0 {
			year = timezone.Now().Year()
		}
		day := time.Date(year, parsed.Month(), parsed.Day(), 0, 0, 0, 0, timezone.Location)
		return &day
	}

	return nil
}
