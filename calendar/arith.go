package calendar

import "time"

// =============================================================================
// CALENDAR ARITHMETIC PROVIDER
// =============================================================================
// The expansion engine owns no date math. Every civil-field get/set/add goes
// through a Context opened for one expansion and never shared.

// Field is a civil calendar field.
type Field int

const (
	FieldYear Field = iota
	FieldMonth            // 1-12
	FieldDay              // day of month
	FieldHour
	FieldMinute
	FieldSecond
	FieldDayOfWeek        // time.Weekday value, 0 = Sunday
	FieldDayOfWeekInMonth // signed ordinal of the current weekday in its month
	FieldWeekOfYear       // signed, relative to the context's week start
	FieldDayOfYear        // signed
)

var fieldNames = [...]string{
	"year", "month", "day", "hour", "minute", "second",
	"day_of_week", "day_of_week_in_month", "week_of_year", "day_of_year",
}

func (f Field) String() string {
	if f >= 0 && int(f) < len(fieldNames) {
		return fieldNames[f]
	}
	return "field?"
}

// Provider opens calculation contexts.
type Provider interface {
	Open(system System, tzid string, weekStart time.Weekday) (Context, error)
}

// Context is a mutable calendar position.
//
// Set is lenient: a value in range that does not exist in the current month
// rolls over (April 31 becomes May 1). Values outside the field's range are
// rejected with an ArithmeticError. Add on FieldYear/FieldMonth pins the day
// to the target month's length (January 31 + 1 month = February 28/29).
type Context interface {
	// SetInstant positions the context. Floating values keep the context
	// floating until the next SetInstant.
	SetInstant(v DateTime) error

	// Instant returns the current position in the representation last set.
	Instant() DateTime

	Get(f Field) int
	Set(f Field, v int) error
	Add(f Field, amount int) error

	// Clone returns an independent copy of the context.
	Clone() Context
}
