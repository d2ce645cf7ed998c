package analysis

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrMissingDate is returned when a required date field is empty.
var ErrMissingDate = errors.New("missing date")

// ErrMixedZones is returned when one date carries a UTC offset and the other
// does not. The day count between them would depend on an assumed zone.
var ErrMixedZones = errors.New("date_infraction and date_notification must both have a UTC offset or both omit it")

// DateError reports which date field failed to parse.
type DateError struct {
	Field string
	Err   error
}

func (e *DateError) Error() string { return e.Field + ": " + e.Err.Error() }

func (e *DateError) Unwrap() error { return e.Err }

// Facts are the inputs of a single scoring pass. Values are copied into the
// engine and never mutated.
type Facts struct {
	InfractionType   string
	DateInfraction   time.Time
	DateNotification time.Time
	IssuingAgency    string
	Location         string
	Value            float64
}

// RawFacts carries facts as they arrive from a request body, with dates still
// in string form.
type RawFacts struct {
	InfractionType   string  `json:"infraction_type"`
	DateInfraction   string  `json:"date_infraction"`
	DateNotification string  `json:"date_notification"`
	IssuingAgency    string  `json:"issuing_agency"`
	Location         string  `json:"location"`
	Value            float64 `json:"value"`
}

// dateLayouts are tried in order by ParseDate. Only the first carries a zone.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate parses an ISO-8601 date or date-time. Values without a zone are
// read as UTC.
func ParseDate(s string) (time.Time, error) {
	t, _, err := parseDate(s)
	return t, err
}

// parseDate also reports whether s carried an explicit UTC offset.
func parseDate(s string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, ErrMissingDate
	}
	for i, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, i == 0, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("parse date %q: unsupported format", s)
}

// ParseDates parses the infraction and notification dates together. Both
// must either carry a UTC offset or omit it; failures are *DateError.
func ParseDates(infraction, notification string) (time.Time, time.Time, error) {
	dInf, infZoned, err := parseDate(infraction)
	if err != nil {
		return time.Time{}, time.Time{}, &DateError{Field: "date_infraction", Err: err}
	}
	dNot, notZoned, err := parseDate(notification)
	if err != nil {
		return time.Time{}, time.Time{}, &DateError{Field: "date_notification", Err: err}
	}
	if infZoned != notZoned {
		return time.Time{}, time.Time{}, &DateError{Field: "date_notification", Err: ErrMixedZones}
	}
	return dInf, dNot, nil
}

// ParseFacts converts raw request facts into Facts. A malformed or missing
// date is reported with the field name.
func ParseFacts(raw RawFacts) (Facts, error) {
	infraction, notification, err := ParseDates(raw.DateInfraction, raw.DateNotification)
	if err != nil {
		return Facts{}, err
	}
	return Facts{
		InfractionType:   raw.InfractionType,
		DateInfraction:   infraction,
		DateNotification: notification,
		IssuingAgency:    raw.IssuingAgency,
		Location:         raw.Location,
		Value:            raw.Value,
	}, nil
}

// NotificationDelayDays returns the whole days between the infraction and its
// notification, floored.
func (f Facts) NotificationDelayDays() int {
	d := f.DateNotification.Sub(f.DateInfraction)
	return int(math.Floor(d.Hours() / 24))
}
