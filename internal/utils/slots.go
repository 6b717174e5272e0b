package utils

import "time"

// NormalizeToSlot rounds t up to the next multiple of slot counted from local midnight
// in loc. Aligned times are returned unchanged. A round-up past the end of the day
// stops at the next midnight.
func NormalizeToSlot(t time.Time, slot time.Duration, loc *time.Location) time.Time {
	step := int(slot / time.Minute)
	if step <= 0 {
		return t
	}
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	minutes := local.Hour()*60 + local.Minute()
	if local.Second() != 0 || local.Nanosecond() != 0 {
		minutes++
	}
	if rem := minutes % step; rem != 0 {
		minutes += step - rem
	}
	if minutes > 24*60 {
		minutes = 24 * 60
	}
	return time.Date(local.Year(), local.Month(), local.Day(), 0, minutes, 0, 0, loc)
}

// SlotStarts lists the slot boundaries covering the half-open interval [start, end).
func SlotStarts(start, end time.Time, slot time.Duration) []time.Time {
	if slot <= 0 {
		return nil
	}
	var out []time.Time
	for cur := start; cur.Before(end); cur = cur.Add(slot) {
		out = append(out, cur)
	}
	return out
}

// Overlaps reports whether [s1, e1) and [s2, e2) intersect.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && e1.After(s2)
}
