package stream

import "time"

// DayGroup is a run of entries that share a local calendar day.
type DayGroup struct {
	Day   time.Time // midnight in the grouping location
	Items []Item
}

// Groups partitions the entries by calendar day in loc. Groups appear in the
// order their first entry appears, and entries keep their stored order.
func (s *Stream) Groups(loc *time.Location) []DayGroup {
	return GroupByDay(s.Items(), loc)
}

// GroupByDay is the projection behind Stream.Groups.
func GroupByDay(items []Item, loc *time.Location) []DayGroup {
	if loc == nil {
		loc = time.Local
	}
	var groups []DayGroup
	index := make(map[string]int)
	for _, item := range items {
		day := startOfDay(item.CreatedAt.In(loc))
		k := day.Format(time.DateOnly)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, DayGroup{Day: day})
		}
		groups[i].Items = append(groups[i].Items, item)
	}
	return groups
}

// DayLabel renders day relative to now: "Today", "Yesterday" or a date.
func DayLabel(day, now time.Time) string {
	d := startOfDay(day.In(now.Location()))
	today := startOfDay(now)
	switch {
	case d.Equal(today):
		return "Today"
	case d.Equal(today.AddDate(0, 0, -1)):
		return "Yesterday"
	default:
		return d.Format(time.DateOnly)
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
