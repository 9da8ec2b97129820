package timeseries

import "time"

// bucket returns the half-open [start, end) window that t falls into for
// granularity g: minute buckets on wall-clock boundaries, day buckets at
// local midnight, week buckets starting Monday, month buckets starting
// day 1.
func bucket(t time.Time, g Granularity) (start, end time.Time) {
	switch g {
	case Granularity1m:
		return truncateMinutes(t, 1), truncateMinutes(t, 1).Add(time.Minute)
	case Granularity5m:
		return truncateMinutes(t, 5), truncateMinutes(t, 5).Add(5 * time.Minute)
	case Granularity15m:
		return truncateMinutes(t, 15), truncateMinutes(t, 15).Add(15 * time.Minute)
	case Granularity30m:
		return truncateMinutes(t, 30), truncateMinutes(t, 30).Add(30 * time.Minute)
	case Granularity60m:
		return truncateMinutes(t, 60), truncateMinutes(t, 60).Add(60 * time.Minute)
	case Granularity1d:
		s := dayStart(t)
		return s, s.AddDate(0, 0, 1)
	case Granularity1w:
		s := weekStart(t)
		return s, s.AddDate(0, 0, 7)
	case Granularity1M:
		s := monthStart(t)
		return s, s.AddDate(0, 1, 0)
	default:
		s := dayStart(t)
		return s, s.AddDate(0, 0, 1)
	}
}

// step returns the fixed advance from one bucket start to the next, for
// granularities with a uniform duration. 1M is not uniform and is handled
// separately by callers that walk month-by-month.
func step(g Granularity) time.Duration {
	switch g {
	case Granularity1m:
		return time.Minute
	case Granularity5m:
		return 5 * time.Minute
	case Granularity15m:
		return 15 * time.Minute
	case Granularity30m:
		return 30 * time.Minute
	case Granularity60m:
		return 60 * time.Minute
	case Granularity1d:
		return 24 * time.Hour
	case Granularity1w:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

func truncateMinutes(t time.Time, n int) time.Time {
	d := dayStart(t)
	minutes := (t.Hour()*60 + t.Minute()) / n * n
	return d.Add(time.Duration(minutes) * time.Minute)
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func weekStart(t time.Time) time.Time {
	d := dayStart(t)
	offset := int(d.Weekday()) - int(time.Monday)
	if offset < 0 {
		offset += 7
	}
	return d.AddDate(0, 0, -offset)
}

func monthStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// bucketStarts enumerates every bucket start in [from, to) for granularity
// g, used to walk a query window densely for missing-bucket fill-in. A
// bucket straddling from is excluded: query results only contain bars whose
// StartTime is within the requested window.
func bucketStarts(g Granularity, from, to time.Time) []time.Time {
	var starts []time.Time
	cur, _ := bucket(from, g)
	if cur.Before(from) {
		if g == Granularity1M {
			cur = cur.AddDate(0, 1, 0)
		} else {
			cur = cur.Add(step(g))
		}
	}
	for cur.Before(to) {
		starts = append(starts, cur)
		if g == Granularity1M {
			cur = cur.AddDate(0, 1, 0)
		} else {
			cur = cur.Add(step(g))
		}
	}
	return starts
}
