package contact

import "time"

// AgeAt returns the number of whole years between birth and at.
func AgeAt(birth, at time.Time) int {
	by, bm, bd := birth.Date()
	ay, am, ad := at.Date()

	years := ay - by
	if am < bm || (am == bm && ad < bd) {
		years--
	}
	return years
}

// HasBirthdayWithin reports whether the next birthday after now falls within
// the following days. Today's birthday does not count: someone born days
// earlier must already be a year older than the contact is today.
func HasBirthdayWithin(birth, now time.Time, days int) bool {
	if birth.IsZero() {
		return false
	}
	if days <= 0 {
		return false
	}
	return AgeAt(birth.AddDate(0, 0, -days), now) > AgeAt(birth, now)
}

// NextBirthday returns the date of the next anniversary strictly after now.
// A February 29 birthday is observed on March 1 in non-leap years.
func NextBirthday(birth, now time.Time) time.Time {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	for year := y; ; year++ {
		candidate := time.Date(year, birth.Month(), birth.Day(), 0, 0, 0, 0, time.UTC)
		if candidate.After(today) {
			return candidate
		}
	}
}
