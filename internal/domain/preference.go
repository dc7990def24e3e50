package domain

import (
	"fmt"
	"strings"
	"time"
)

// Preference holds a user's delivery settings for one channel. The engine only reads it.
type Preference struct {
	UserID            string
	Channel           Channel
	Enabled           bool
	QuietHoursStart   *string
	QuietHoursEnd     *string
	FrequencyLimit    *int
	PriorityThreshold *int
}

// DefaultPreference is applied when a user has no stored preference for a channel.
func DefaultPreference(userID string, channel Channel) Preference {
	return Preference{UserID: userID, Channel: channel, Enabled: true}
}

// Bypasses reports whether a notification of the given priority skips quiet-hours and
// frequency suppression. Without a threshold nothing bypasses.
func (p Preference) Bypasses(priority int) bool {
	if p.PriorityThreshold == nil {
		return false
	}
	return priority >= *p.PriorityThreshold
}

// HourlyLimit returns the rolling-hour send limit, or 0 when unlimited.
func (p Preference) HourlyLimit() int {
	if p.FrequencyLimit == nil || *p.FrequencyLimit < 0 {
		return 0
	}
	return *p.FrequencyLimit
}

// QuietUntil reports whether now falls inside the quiet window evaluated in loc and, if so,
// the instant the window ends. Windows where start > end wrap past midnight.
func (p Preference) QuietUntil(now time.Time, loc *time.Location) (time.Time, bool, error) {
	if p.QuietHoursStart == nil || p.QuietHoursEnd == nil {
		return time.Time{}, false, nil
	}
	if loc == nil {
		loc = time.UTC
	}

	start, err := parseClock(*p.QuietHoursStart)
	if err != nil {
		return time.Time{}, false, err
	}
	end, err := parseClock(*p.QuietHoursEnd)
	if err != nil {
		return time.Time{}, false, err
	}
	if start == end {
		return time.Time{}, false, nil
	}

	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	sinceMidnight := local.Sub(midnight)

	if start < end {
		if sinceMidnight >= start && sinceMidnight < end {
			return atClock(midnight, end), true, nil
		}
		return time.Time{}, false, nil
	}

	// Wrapping window, e.g. 22:00-07:00.
	if sinceMidnight >= start {
		return atClock(midnight.AddDate(0, 0, 1), end), true, nil
	}
	if sinceMidnight < end {
		return atClock(midnight, end), true, nil
	}
	return time.Time{}, false, nil
}

func parseClock(value string) (time.Duration, error) {
	trimmed := strings.TrimSpace(value)
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second, nil
		}
	}
	return 0, fmt.Errorf("%w: invalid time of day %q", ErrValidation, value)
}

func atClock(day time.Time, offset time.Duration) time.Time {
	h := int(offset / time.Hour)
	m := int((offset % time.Hour) / time.Minute)
	s := int((offset % time.Minute) / time.Second)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, s, 0, day.Location()).UTC()
}
