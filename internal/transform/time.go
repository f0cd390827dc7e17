package transform

import (
	"regexp"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

var timeLocalRE = regexp.MustCompile(`^(\d+)/([A-Za-z]+)/(\d+):(\d+):(\d+):(\d+)\s+([+-])(\d{2})(\d{2})$`)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// dayCache is the "1-entry cache on the (year, month, day) portion of
// mktime" from spec §4.2: the epoch second of that calendar day's UTC
// midnight, so repeated log lines from the same day skip reconstructing
// it from scratch.
type dayCache struct {
	year, month, day int
	midnight         int64
	valid            bool
}

func (c *dayCache) midnightUTC(year int, month time.Month, day int) int64 {
	if c.valid && c.year == year && c.month == int(month) && c.day == day {
		return c.midnight
	}
	c.year, c.month, c.day = year, int(month), day
	c.midnight = time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Unix()
	c.valid = true
	return c.midnight
}

// parseTimeLocal parses the Apache-common timestamp format
// "DD/Mon/YYYY:HH:MM:SS ±HHMM". The parsed calendar fields are treated as
// UTC and the zone offset is then applied arithmetically to the
// resulting epoch (add for '+', subtract for '-') — see SPEC_FULL.md §9
// for why this reading of the ambiguous original was chosen over
// consulting the host's local timezone.
func (c *dayCache) parseTimeLocal(s string) (int64, error) {
	m := timeLocalRE.FindStringSubmatch(s)
	if m == nil {
		return 0, errors.Errorf("time_local: unrecognized format %q", s)
	}

	day, _ := strconv.Atoi(m[1])
	monName := m[2]
	year, _ := strconv.Atoi(m[3])
	hour, _ := strconv.Atoi(m[4])
	min, _ := strconv.Atoi(m[5])
	sec, _ := strconv.Atoi(m[6])
	sign := m[7]
	tzHour, _ := strconv.Atoi(m[8])
	tzMin, _ := strconv.Atoi(m[9])

	month, ok := months[lower3(monName)]
	if !ok {
		return 0, errors.Errorf("time_local: unrecognized month %q", monName)
	}

	midnight := c.midnightUTC(year, month, day)
	epoch := midnight + int64(hour)*3600 + int64(min)*60 + int64(sec)

	offset := int64(tzHour)*3600 + int64(tzMin)*60
	switch sign {
	case "+":
		epoch += offset
	case "-":
		epoch -= offset
	}

	return epoch, nil
}

func lower3(s string) string {
	if len(s) < 3 {
		return s
	}
	b := []byte(s[:3])
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

var timeDateRE = regexp.MustCompile(`^(\d+)-(\d+)-(\d+)\s+(\d+):(\d+):(\d+)$`)

// parseTimeDate parses "YYYY-MM-DD HH:MM:SS", treated as UTC, per
// spec §4.2's time_date handler.
func parseTimeDate(s string) (int64, error) {
	m := timeDateRE.FindStringSubmatch(s)
	if m == nil {
		return 0, errors.Errorf("time_date: unrecognized format %q", s)
	}
	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	hour, _ := strconv.Atoi(m[4])
	min, _ := strconv.Atoi(m[5])
	sec, _ := strconv.Atoi(m[6])

	return time.Date(year, time.Month(month), day, hour, min, sec, 0, time.UTC).Unix(), nil
}
