package clock

import "time"

// Civil is a wall-clock date and time with no zone attached. Recurrence math
// happens on civil values so that stepping a schedule never absorbs a DST
// shift; the result is mapped back onto the timeline with ResolveCivil.
type Civil struct {
	Year   int
	Month  time.Month
	Day    int
	Hour   int
	Minute int
	Second int
}

func CivilOf(t time.Time) Civil {
	return Civil{
		Year:   t.Year(),
		Month:  t.Month(),
		Day:    t.Day(),
		Hour:   t.Hour(),
		Minute: t.Minute(),
		Second: t.Second(),
	}
}

// utc pins the civil fields to UTC, where every day is 24 hours, so that
// arithmetic on the fields never crosses a zone transition.
func (c Civil) utc() time.Time {
	return time.Date(c.Year, c.Month, c.Day, c.Hour, c.Minute, c.Second, 0, time.UTC)
}

func (c Civil) AddDays(n int) Civil {
	return CivilOf(c.utc().AddDate(0, 0, n))
}

// AddMonthsClamped advances n months keeping the day-of-month, clamped to the
// last day of the target month. Unlike time.AddDate it never normalizes an
// overflow into the following month.
func (c Civil) AddMonthsClamped(n int) Civil {
	m := int(c.Month) - 1 + n
	y := c.Year + m/12
	m %= 12
	if m < 0 {
		m += 12
		y--
	}
	month := time.Month(m + 1)
	day := c.Day
	if last := DaysIn(y, month); day > last {
		day = last
	}
	return Civil{Year: y, Month: month, Day: day, Hour: c.Hour, Minute: c.Minute, Second: c.Second}
}

// Add shifts the civil value by an absolute duration, again in UTC-pinned
// space. Used to carry a window's civil length from one occurrence to the
// next.
func (c Civil) Add(d time.Duration) Civil {
	return CivilOf(c.utc().Add(d))
}

// Sub returns the civil distance between two values.
func (c Civil) Sub(o Civil) time.Duration {
	return c.utc().Sub(o.utc())
}

func (c Civil) After(o Civil) bool {
	return c.utc().After(o.utc())
}

// DateOnly drops the time-of-day fields.
func (c Civil) DateOnly() Civil {
	return Civil{Year: c.Year, Month: c.Month, Day: c.Day}
}

// DaysIn reports the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Resolution describes how a civil time mapped onto a zone's timeline.
type Resolution int

const (
	// ResolutionExact means the civil time names exactly one instant.
	ResolutionExact Resolution = iota
	// ResolutionGap means a forward transition skipped the civil time and
	// the first valid instant after the gap was returned instead.
	ResolutionGap
	// ResolutionAmbiguous means a backward transition repeated the civil
	// time and the earlier of the two instants was returned.
	ResolutionAmbiguous
)

func (r Resolution) String() string {
	switch r {
	case ResolutionGap:
		return "gap"
	case ResolutionAmbiguous:
		return "ambiguous"
	default:
		return "exact"
	}
}

// ResolveCivil maps a civil time onto an instant in loc. Around a DST
// transition the civil time may not exist or may exist twice; a skipped time
// resolves to the first instant after the gap and a repeated time to the
// earlier of its two instants.
func ResolveCivil(c Civil, loc *time.Location) (time.Time, Resolution) {
	utcGuess := c.utc()
	c = CivilOf(utcGuess)

	// The instant differs from utcGuess by the zone offset, and the offset
	// can only change near the target. Probing 26h to each side brackets
	// any real-world transition.
	_, offBefore := utcGuess.Add(-26 * time.Hour).In(loc).Zone()
	_, offAfter := utcGuess.Add(26 * time.Hour).In(loc).Zone()

	early := utcGuess.Add(-time.Duration(offBefore) * time.Second)
	late := utcGuess.Add(-time.Duration(offAfter) * time.Second)

	matchEarly := CivilOf(early.In(loc)) == c
	matchLate := CivilOf(late.In(loc)) == c

	switch {
	case matchEarly && matchLate:
		if early.Equal(late) {
			return early.In(loc), ResolutionExact
		}
		return early.In(loc), ResolutionAmbiguous
	case matchEarly:
		return early.In(loc), ResolutionExact
	case matchLate:
		return late.In(loc), ResolutionExact
	}

	// Neither candidate round-trips, so c sits inside a forward gap. The
	// offset still equals offBefore at late and has already changed at
	// early; bisect for the first second past the transition.
	lo := late.Unix()
	hi := early.Unix()
	for lo+1 < hi {
		mid := lo + (hi-lo)/2
		if _, off := time.Unix(mid, 0).In(loc).Zone(); off == offBefore {
			lo = mid
		} else {
			hi = mid
		}
	}
	return time.Unix(hi, 0).In(loc), ResolutionGap
}
