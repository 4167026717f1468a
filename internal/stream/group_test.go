package stream

import (
	"testing"
	"time"
)

func TestGroupsByLocalDayKeepsOrder(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*3600)
	at := func(day, hour int) time.Time { return time.Date(2026, 3, day, hour, 0, 0, 0, time.UTC) }

	s := New("room", nil)
	// 02:00 UTC on the 3rd is still the 2nd in UTC-3.
	s.MergeInbound(Item{ID: ServerID(1), CreatedAt: at(2, 12), IsRead: true})
	s.MergeInbound(Item{ID: ServerID(2), CreatedAt: at(3, 15), IsRead: true})
	s.MergeInbound(Item{ID: ServerID(3), CreatedAt: at(3, 2), IsRead: true})
	s.MergeInbound(Item{ID: ServerID(4), CreatedAt: at(3, 16), IsRead: true})

	before := ids(s)
	groups := s.Groups(loc)
	if len(groups) != 2 {
		t.Fatalf("len(groups) = %d, want 2", len(groups))
	}
	if got := groups[0].Day.Format(time.DateOnly); got != "2026-03-02" {
		t.Errorf("first day = %s", got)
	}
	if len(groups[0].Items) != 2 || groups[0].Items[0].ID != ServerID(1) || groups[0].Items[1].ID != ServerID(3) {
		t.Errorf("first group = %+v", groups[0].Items)
	}
	if len(groups[1].Items) != 2 || groups[1].Items[0].ID != ServerID(2) {
		t.Errorf("second group = %+v", groups[1].Items)
	}

	after := ids(s)
	for i := range before {
		if before[i] != after[i] {
			t.Fatal("Groups() mutated stored order")
		}
	}
}

func TestDayLabel(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		day  time.Time
		want string
	}{
		{time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC), "Today"},
		{time.Date(2026, 3, 9, 1, 0, 0, 0, time.UTC), "Yesterday"},
		{time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC), "2026-03-01"},
	}
	for _, tt := range tests {
		if got := DayLabel(tt.day, now); got != tt.want {
			t.Errorf("DayLabel(%v) = %q, want %q", tt.day, got, tt.want)
		}
	}
}
