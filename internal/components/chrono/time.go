package chrono

import (
	"time"
	_ "time/tzdata"
)

var central *time.Location

func init() {
	var err error
	central, err = time.LoadLocation("America/Chicago")
	if err != nil {
		panic(err)
	}
}

// Central returns a [*time.Location] for America/Chicago, the zone the
// supported districts report grades in.
func Central() *time.Location {
	return central
}

// TimeAPI is the interface that anything depending on the system clock should use.
type TimeAPI interface {
	// Now returns the current time in America/Chicago.
	Now() time.Time
}

// StandardTime is the standard implementation of TimeAPI using the standard library.
type StandardTime struct{}

func NewStandardTime() StandardTime {
	return StandardTime{}
}

func (StandardTime) Now() time.Time {
	return time.Now().In(central)
}

// FixedTime always returns the same instant, for tests.
type FixedTime struct {
	At time.Time
}

func (f FixedTime) Now() time.Time {
	return f.At.In(central)
}

// StartOfDay truncates t to midnight in America/Chicago.
func StartOfDay(t time.Time) time.Time {
	t = t.In(central)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, central)
}
