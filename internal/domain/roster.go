package domain

import (
	"sort"
	"strings"
	"time"
)

// RosterView selects which clients a roster listing shows.
type RosterView string

const (
	ViewAll        RosterView = "all"
	ViewToday      RosterView = "today"
	ViewThisWeek   RosterView = "thisWeek"
	ViewThisMonth  RosterView = "thisMonth"
	ViewByDate     RosterView = "byDate"
	ViewByCoach    RosterView = "byCoach"
	ViewRecycleBin RosterView = "recycleBin"
)

// RosterSort orders a roster listing.
type RosterSort string

const (
	SortUpdatedAtDesc RosterSort = "updatedAtDesc"
	SortNameAsc       RosterSort = "nameAsc"
	SortNameDesc      RosterSort = "nameDesc"
	SortDateAsc       RosterSort = "dateAsc"
	SortDateDesc      RosterSort = "dateDesc"
	SortCoachAsc      RosterSort = "coachAsc"
)

// ListClientsParams contains parameters for listing the roster.
type ListClientsParams struct {
	View   RosterView
	Sort   RosterSort
	Search string
	Date   time.Time // Day shown by ViewByDate
	Now    time.Time // Reference time for relative views
}

// ValidView returns true for a known view.
func ValidView(v RosterView) bool {
	switch v {
	case ViewAll, ViewToday, ViewThisWeek, ViewThisMonth, ViewByDate, ViewByCoach, ViewRecycleBin:
		return true
	}
	return false
}

// ValidSort returns true for a known sort order.
func ValidSort(s RosterSort) bool {
	switch s {
	case SortUpdatedAtDesc, SortNameAsc, SortNameDesc, SortDateAsc, SortDateDesc, SortCoachAsc:
		return true
	}
	return false
}

// VisibleTo returns the clients the session may see. Coaches only see the
// clients assigned to them.
func VisibleTo(clients []Client, s Session) []Client {
	out := make([]Client, 0, len(clients))
	for _, c := range clients {
		if s.IsAdmin() || c.AssignedCoachID == s.CoachID {
			out = append(out, c)
		}
	}
	return out
}

// ActiveClients returns clients that are neither soft-deleted nor waiting on
// a queued delete.
func ActiveClients(clients []Client, pendingDeletes map[string]bool) []Client {
	out := make([]Client, 0, len(clients))
	for _, c := range clients {
		if !c.IsDeleted() && !pendingDeletes[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// DeletedClients returns clients that are soft-deleted or waiting on a
// queued delete.
func DeletedClients(clients []Client, pendingDeletes map[string]bool) []Client {
	out := make([]Client, 0)
	for _, c := range clients {
		if c.IsDeleted() || pendingDeletes[c.ID] {
			out = append(out, c)
		}
	}
	return out
}

// FilterRoster applies a view, a search and a sort order to a roster.
// The input slice is not modified.
func FilterRoster(clients []Client, pendingDeletes map[string]bool, p ListClientsParams) []Client {
	var base []Client
	if p.View == ViewRecycleBin {
		base = DeletedClients(clients, pendingDeletes)
	} else {
		base = ActiveClients(clients, pendingDeletes)
	}

	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}
	weekStart, weekEnd := WeekRange(now)

	list := make([]Client, 0, len(base))
	for _, c := range base {
		if !inView(c, p, now, weekStart, weekEnd) {
			continue
		}
		if !matchesSearch(c, p.Search) {
			continue
		}
		list = append(list, c)
	}

	sortRoster(list, p.Sort)
	return list
}

func inView(c Client, p ListClientsParams, now, weekStart, weekEnd time.Time) bool {
	switch p.View {
	case ViewToday, ViewThisWeek, ViewThisMonth, ViewByDate:
	default:
		return true
	}

	date, ok := ParseClientDate(c.Date)
	if !ok {
		return false
	}
	switch p.View {
	case ViewToday:
		return sameDay(date, now)
	case ViewThisWeek:
		return !date.Before(weekStart) && !date.After(weekEnd)
	case ViewThisMonth:
		return date.Year() == now.Year() && date.Month() == now.Month()
	case ViewByDate:
		return !p.Date.IsZero() && sameDay(date, p.Date)
	}
	return true
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

func matchesSearch(c Client, search string) bool {
	q := NormalizeKey(search)
	if q == "" {
		return true
	}
	haystack := append([]string{c.Phone, c.Email, c.ClientName, c.Coach, c.Date}, c.Evaluation.Values()...)
	for _, v := range haystack {
		if strings.Contains(strings.ToLower(v), q) {
			return true
		}
	}
	return false
}

func sortRoster(list []Client, order RosterSort) {
	switch order {
	case SortNameAsc:
		sort.SliceStable(list, func(i, j int) bool { return list[i].ClientName < list[j].ClientName })
	case SortNameDesc:
		sort.SliceStable(list, func(i, j int) bool { return list[i].ClientName > list[j].ClientName })
	case SortCoachAsc:
		sort.SliceStable(list, func(i, j int) bool { return list[i].Coach < list[j].Coach })
	case SortDateAsc, SortDateDesc:
		desc := order == SortDateDesc
		sort.SliceStable(list, func(i, j int) bool {
			a, aok := ParseClientDate(list[i].Date)
			b, bok := ParseClientDate(list[j].Date)
			// Undated clients always sort last
			if !aok || !bok {
				return aok && !bok
			}
			if desc {
				return a.After(b)
			}
			return a.Before(b)
		})
	default:
		sort.SliceStable(list, func(i, j int) bool {
			return updatedMillis(list[i]) > updatedMillis(list[j])
		})
	}
}

func updatedMillis(c Client) int64 {
	if c.UpdatedAt == nil {
		return 0
	}
	return c.UpdatedAt.UnixMilli()
}
