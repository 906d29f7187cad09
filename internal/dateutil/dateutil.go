// Package dateutil converts between the YYYYMMDD integer day keys used
// throughout the pipeline and time.Time, so callers can walk date windows
// without hand-rolled calendar arithmetic.
package dateutil

import "time"

// ToTime parses a YYYYMMDD integer into midnight local time on that day.
func ToTime(yyyymmdd int) time.Time {
	year := yyyymmdd / 10000
	month := (yyyymmdd / 100) % 100
	day := yyyymmdd % 100
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.Local)
}

// FromTime formats t as a YYYYMMDD integer in local time.
func FromTime(t time.Time) int {
	t = t.Local()
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// AddDays returns the YYYYMMDD integer n days after yyyymmdd (n may be
// negative).
func AddDays(yyyymmdd, n int) int {
	return FromTime(ToTime(yyyymmdd).AddDate(0, 0, n))
}

// Window returns the n consecutive YYYYMMDD days ending at (and including)
// latest, newest first: [latest, latest-1, ..., latest-(n-1)].
func Window(latest, n int) []int {
	days := make([]int, n)
	for i := 0; i < n; i++ {
		days[i] = AddDays(latest, -i)
	}
	return days
}
