// Package schedule holds the calendar and clock arithmetic shared by the
// reminder dispatcher and the scenario runtime. Everything is computed in
// JST regardless of the host time zone.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// JST is fixed at UTC+9; Japan has no daylight saving time.
var JST = time.FixedZone("JST", 9*60*60)

// WindowWidth is the tolerance of a send window.
const WindowWidth = 15 * time.Minute

const (
	dateLayout    = "2006-01-02"
	minutesPerDay = 24 * 60
)

// IsInSendWindow reports whether now, in JST, falls in the half-open window
// (target-15min, target] where target is hour:minute. Minutes wrap at
// midnight, so the 00:00 window starts at 23:46 of the previous day.
func IsInSendWindow(hour, minute int, now time.Time) bool {
	local := now.In(JST)
	nowMinutes := local.Hour()*60 + local.Minute()
	targetMinutes := hour*60 + minute

	behind := ((targetMinutes-nowMinutes)%minutesPerDay + minutesPerDay) % minutesPerDay
	return behind < int(WindowWidth/time.Minute)
}

// IsInWindowBefore reports whether now lies in (fireAt-15min, fireAt].
func IsInWindowBefore(fireAt, now time.Time) bool {
	return !now.After(fireAt) && now.After(fireAt.Add(-WindowWidth))
}

// JSTToday returns the JST calendar date of now as YYYY-MM-DD.
func JSTToday(now time.Time) string {
	return now.In(JST).Format(dateLayout)
}

// AddOneDay returns the calendar day after date (YYYY-MM-DD).
func AddOneDay(date string) (string, error) {
	return AddDays(date, 1)
}

// AddDays shifts a YYYY-MM-DD date by n calendar days. The date is parsed
// as a UTC civil date so offsets never move it across a day boundary.
func AddDays(date string, n int) (string, error) {
	t, err := time.Parse(dateLayout, date)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", date, err)
	}
	return t.AddDate(0, 0, n).Format(dateLayout), nil
}

// FormatReservationTime renders "YYYY/M/D HH:MM-H:MM" for a reservation
// starting at startTime (HH:MM or HH:MM:SS). The end is 15 minutes after the
// start. Its hour is not zero-padded, as the LINE reminder texts
// have always shown it ("08:00-8:15").
func FormatReservationTime(date, startTime string) (string, error) {
	d, err := time.Parse(dateLayout, date)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", date, err)
	}
	hour, minute, err := ParseClock(startTime)
	if err != nil {
		return "", err
	}

	parts := strings.SplitN(startTime, ":", 3)
	start := parts[0] + ":" + parts[1]

	end := (hour*60 + minute + 15) % minutesPerDay
	return fmt.Sprintf("%d/%d/%d %s-%d:%02d",
		d.Year(), int(d.Month()), d.Day(), start, end/60, end%60), nil
}

// ParseClock parses "HH:MM" or "HH:MM:SS".
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, fmt.Errorf("invalid time %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

// At returns the instant of hour:minute JST on the given date.
func At(date string, hour, minute int) (time.Time, error) {
	d, err := time.ParseInLocation(dateLayout, date, JST)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return d.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute), nil
}

// Delay units for scenario steps.
const (
	DelayDays    = "days"
	DelayHours   = "hours"
	DelayMinutes = "minutes"
)

// StepFireTime resolves when a scenario step fires relative to trigger.
// A days delay with a sendTime lands on the JST calendar date value days
// after the trigger, at sendTime. Without a sendTime it is value*24h.
func StepFireTime(trigger time.Time, delayType string, value int, sendTime string) (time.Time, error) {
	if value < 0 {
		return time.Time{}, fmt.Errorf("negative delay %d", value)
	}
	switch delayType {
	case DelayDays, "":
		if sendTime == "" {
			return trigger.Add(time.Duration(value) * 24 * time.Hour), nil
		}
		hour, minute, err := ParseClock(sendTime)
		if err != nil {
			return time.Time{}, err
		}
		date, err := AddDays(JSTToday(trigger), value)
		if err != nil {
			return time.Time{}, err
		}
		return At(date, hour, minute)
	case DelayHours:
		return trigger.Add(time.Duration(value) * time.Hour), nil
	case DelayMinutes:
		return trigger.Add(time.Duration(value) * time.Minute), nil
	default:
		return time.Time{}, fmt.Errorf("unknown delay type %q", delayType)
	}
}
