package command

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hrygo/valet/internal/errkind"
)

// AmbiguousTimeError reports an utterance that parses to more than one
// plausible instant. Candidates are ordered earliest first.
type AmbiguousTimeError struct {
	Input      string
	Candidates []time.Time
}

func (e *AmbiguousTimeError) Error() string {
	parts := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		parts[i] = c.Format("2006-01-02 15:04")
	}
	return fmt.Sprintf("ambiguous time %q: candidates %s", e.Input, strings.Join(parts, ", "))
}

var (
	absoluteRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})[ T](\d{1,2}):(\d{2})$`)
	relativeRe = regexp.MustCompile(`^in (\d+) (minute|minutes|hour|hours|day|days)$`)
	dayAtRe    = regexp.MustCompile(`^(today|tomorrow) at (\d{1,2})(?::(\d{2}))?$`)
	bareHourRe = regexp.MustCompile(`^at (\d{1,2})(?::(\d{2}))?$`)
)

// ParseWhen resolves a time phrase against now. Accepted forms:
// absolute "YYYY-MM-DD HH:MM", relative "in N minutes|hours|days", and
// "today|tomorrow at HH[:MM]". A bare "at H" without minutes is
// ambiguous between the morning and evening reading and is rejected
// with both candidates.
func ParseWhen(input string, now time.Time) (time.Time, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	if s == "" {
		return time.Time{}, errkind.New(errkind.Validation, "empty time phrase")
	}

	if m := absoluteRe.FindStringSubmatch(s); m != nil {
		hour := m[2]
		if len(hour) == 1 {
			hour = "0" + hour
		}
		t, err := time.ParseInLocation("2006-01-02 15:04", m[1]+" "+hour+":"+m[3], now.Location())
		if err != nil {
			return time.Time{}, errkind.Wrap(errkind.Validation, err, "invalid absolute time")
		}
		return t, nil
	}

	if m := relativeRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return time.Time{}, errkind.Newf(errkind.Validation, "invalid offset: %s", m[1])
		}
		var unit time.Duration
		switch strings.TrimSuffix(m[2], "s") {
		case "minute":
			unit = time.Minute
		case "hour":
			unit = time.Hour
		default:
			unit = 24 * time.Hour
		}
		return now.Add(time.Duration(n) * unit), nil
	}

	if m := dayAtRe.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[2])
		minute := 0
		hasMinute := m[3] != ""
		if hasMinute {
			minute, _ = strconv.Atoi(m[3])
		}
		if hour > 23 || minute > 59 {
			return time.Time{}, errkind.Newf(errkind.Validation, "invalid clock time: %s", input)
		}
		day := now
		if m[1] == "tomorrow" {
			day = now.AddDate(0, 0, 1)
		}
		at := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location())
		if !hasMinute && hour >= 1 && hour <= 12 {
			evening := at.Add(12 * time.Hour)
			if hour == 12 {
				evening = at.Add(-12 * time.Hour)
			}
			return time.Time{}, ambiguous(input, at, evening)
		}
		return at, nil
	}

	if m := bareHourRe.FindStringSubmatch(s); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute := 0
		hasMinute := m[2] != ""
		if hasMinute {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour > 23 || minute > 59 {
			return time.Time{}, errkind.Newf(errkind.Validation, "invalid clock time: %s", input)
		}
		at := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !hasMinute && hour >= 1 && hour <= 12 {
			return time.Time{}, ambiguous(input, at, at.Add(12*time.Hour))
		}
		// A past instant today rolls to tomorrow.
		if !at.After(now) {
			at = at.AddDate(0, 0, 1)
		}
		return at, nil
	}

	return time.Time{}, errkind.Newf(errkind.Validation, "unrecognized time phrase: %s", input)
}

// ParseDuration accepts "N minutes|hours|days" with or without the
// leading "for".
func ParseDuration(input string) (time.Duration, error) {
	s := strings.ToLower(strings.TrimSpace(input))
	s = strings.TrimPrefix(s, "for ")
	m := regexp.MustCompile(`^(\d+) (minute|minutes|hour|hours|day|days)$`).FindStringSubmatch(s)
	if m == nil {
		return 0, errkind.Newf(errkind.Validation, "unrecognized duration: %s", input)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, errkind.Newf(errkind.Validation, "invalid duration: %s", input)
	}
	switch strings.TrimSuffix(m[2], "s") {
	case "minute":
		return time.Duration(n) * time.Minute, nil
	case "hour":
		return time.Duration(n) * time.Hour, nil
	default:
		return time.Duration(n) * 24 * time.Hour, nil
	}
}

func ambiguous(input string, candidates ...time.Time) error {
	sorted := append([]time.Time(nil), candidates...)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].Before(sorted[i]) {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	return &errkind.Error{
		Err:  &AmbiguousTimeError{Input: input, Candidates: sorted},
		Msg:  "ambiguous time",
		Kind: errkind.Validation,
	}
}
