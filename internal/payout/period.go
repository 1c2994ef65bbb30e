package payout

import "time"

const periodDateLayout = "2006-01-02"

// Period is a calendar month in the payout time zone. End is exclusive.
type Period struct {
	Start time.Time
	End   time.Time
}

// MonthOf returns the calendar month containing instant in location.
func MonthOf(instant time.Time, location *time.Location) Period {
	if location == nil {
		location = time.UTC
	}
	local := instant.In(location)
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, location)
	return Period{Start: start, End: start.AddDate(0, 1, 0)}
}

// PreviousMonth returns the calendar month completed before instant.
func PreviousMonth(instant time.Time, location *time.Location) Period {
	current := MonthOf(instant, location)
	return Period{Start: current.Start.AddDate(0, -1, 0), End: current.Start}
}

// StartDate formats the first day of the period.
func (period Period) StartDate() string {
	return period.Start.Format(periodDateLayout)
}

// EndDate formats the last day of the period.
func (period Period) EndDate() string {
	return period.End.AddDate(0, 0, -1).Format(periodDateLayout)
}
