package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("America/Los_Angeles")
	if err != nil {
		panic(err)
	}
}

// Set repins the zone used by Now(). Called once at startup when the
// config overrides the default.
func Set(name string) error {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return err
	}
	Location = loc
	return nil
}

// force the timezone to a known zone, otherwise date math based on
// <time.Time>.Year()/Month()/Day()/Hour()/... changes behavior depending
// on which machine the scraper happens to run on
func Now() time.Time {
	return time.Now().In(Location)
}

// StartOfDay truncates t to midnight in the pinned zone.
func StartOfDay(t time.Time) time.Time {
	t = t.In(Location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Location)
}
