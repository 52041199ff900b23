package scheduler

import (
	"fmt"
	"strings"
	"time"
)

type TriggerKind int

const (
	TriggerInterval TriggerKind = iota
	TriggerDaily
	TriggerWeekly
)

// Trigger is a recurrence rule: a fixed interval, a daily wall-clock time,
// or a weekly weekday and wall-clock time.
type Trigger struct {
	Kind    TriggerKind
	Every   time.Duration
	Hour    int
	Minute  int
	Weekday time.Weekday
}

func Every(d time.Duration) Trigger {
	return Trigger{Kind: TriggerInterval, Every: d}
}

func DailyAt(hour, minute int) Trigger {
	return Trigger{Kind: TriggerDaily, Hour: hour, Minute: minute}
}

func WeeklyAt(day time.Weekday, hour, minute int) Trigger {
	return Trigger{Kind: TriggerWeekly, Weekday: day, Hour: hour, Minute: minute}
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

// ParseTrigger reads "every 30m", "daily 08:00" or "weekly sunday 20:00".
func ParseTrigger(s string) (Trigger, error) {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) == 0 {
		return Trigger{}, fmt.Errorf("empty trigger")
	}
	switch {
	case fields[0] == "every" && len(fields) == 2:
		d, err := time.ParseDuration(fields[1])
		if err != nil {
			return Trigger{}, fmt.Errorf("invalid interval %q: %w", fields[1], err)
		}
		if d < time.Minute {
			return Trigger{}, fmt.Errorf("interval %s is below one minute", d)
		}
		return Every(d), nil
	case fields[0] == "daily" && len(fields) == 2:
		h, m, err := parseClock(fields[1])
		if err != nil {
			return Trigger{}, err
		}
		return DailyAt(h, m), nil
	case fields[0] == "weekly" && len(fields) == 3:
		day, ok := weekdays[fields[1]]
		if !ok {
			return Trigger{}, fmt.Errorf("unknown weekday %q", fields[1])
		}
		h, m, err := parseClock(fields[2])
		if err != nil {
			return Trigger{}, err
		}
		return WeeklyAt(day, h, m), nil
	default:
		return Trigger{}, fmt.Errorf("unrecognized trigger %q", s)
	}
}

func parseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

func (t Trigger) String() string {
	switch t.Kind {
	case TriggerInterval:
		return "every " + t.Every.String()
	case TriggerDaily:
		return fmt.Sprintf("daily %02d:%02d", t.Hour, t.Minute)
	default:
		return fmt.Sprintf("weekly %s %02d:%02d", strings.ToLower(t.Weekday.String()), t.Hour, t.Minute)
	}
}

// Next returns the first firing time at or after from. Calendar triggers
// work at minute resolution, so a firing time earlier within from's minute
// still counts.
func (t Trigger) Next(from time.Time) time.Time {
	if t.Kind == TriggerInterval {
		return from.Add(t.Every)
	}
	floor := from.Truncate(time.Minute)
	y, mo, d := floor.Date()
	cand := time.Date(y, mo, d, t.Hour, t.Minute, 0, 0, from.Location())
	if t.Kind == TriggerWeekly {
		cand = cand.AddDate(0, 0, (int(t.Weekday)-int(cand.Weekday())+7)%7)
	}
	for cand.Before(floor) {
		if t.Kind == TriggerWeekly {
			cand = cand.AddDate(0, 0, 7)
		} else {
			cand = cand.AddDate(0, 0, 1)
		}
	}
	return cand
}

// After returns the first firing time strictly after the minute of from.
func (t Trigger) After(from time.Time) time.Time {
	if t.Kind == TriggerInterval {
		return from.Add(t.Every)
	}
	return t.Next(from.Truncate(time.Minute).Add(time.Minute))
}
