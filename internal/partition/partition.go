// Package partition projects a roster and its attendance records into the
// disjoint display sets.
package partition

import (
	"strings"

	"rollcall/internal/model"
)

// Mode selects between the full three-way split and the read-only attended
// view, which needs no roster at all.
type Mode int

const (
	Manage Mode = iota
	View
)

// ParseMode maps a config string to a Mode; anything but "view" manages.
func ParseMode(s string) Mode {
	if strings.EqualFold(s, "view") {
		return View
	}
	return Manage
}

// Partitions holds the projected sets. In Manage mode Available, CheckedIn
// and CheckedOut are populated; in View mode only Attended is.
type Partitions struct {
	Available  []model.PersonView `json:"available,omitempty"`
	CheckedIn  []model.PersonView `json:"checked_in,omitempty"`
	CheckedOut []model.PersonView `json:"checked_out,omitempty"`
	Attended   []model.PersonView `json:"attended,omitempty"`
}

// Split partitions the roster by attendance record. Roster members with no
// record are available; records without a check-out are checked in; the rest
// are checked out. Records whose person has left the roster still surface,
// built from the record's denormalized fields. The search filter runs after
// partitioning so a match keeps its partition.
func Split(roster []model.Person, records []model.AttendanceRecord, mode Mode, search string) Partitions {
	byID := make(map[string]model.Person, len(roster))
	for _, p := range roster {
		byID[p.ID] = p
	}

	var out Partitions
	if mode == View {
		for i := range records {
			out.Attended = append(out.Attended, resolve(records[i], byID))
		}
		out.Attended = filter(out.Attended, search)
		return out
	}

	recorded := make(map[string]bool, len(records))
	for i := range records {
		rec := records[i]
		recorded[rec.PersonID] = true
		view := resolve(rec, byID)
		if rec.CheckOut != nil {
			out.CheckedOut = append(out.CheckedOut, view)
		} else {
			out.CheckedIn = append(out.CheckedIn, view)
		}
	}
	for _, p := range roster {
		if !recorded[p.ID] {
			out.Available = append(out.Available, model.PersonView{Person: p, Status: model.Available})
		}
	}

	out.Available = filter(out.Available, search)
	out.CheckedIn = filter(out.CheckedIn, search)
	out.CheckedOut = filter(out.CheckedOut, search)
	return out
}

// resolve merges a record with its roster entry, falling back to the record's
// own fields when the person is gone.
func resolve(rec model.AttendanceRecord, byID map[string]model.Person) model.PersonView {
	status := model.CheckedIn
	if rec.CheckOut != nil {
		status = model.CheckedOut
	}
	person, ok := byID[rec.PersonID]
	if !ok {
		person = model.Person{
			ID:        rec.PersonID,
			FirstName: rec.FirstName,
			LastName:  rec.LastName,
			Type:      rec.Type,
		}
	}
	return model.PersonView{Person: person, Record: &rec, Status: status}
}

func filter(views []model.PersonView, search string) []model.PersonView {
	q := strings.TrimSpace(strings.ToLower(search))
	if q == "" {
		return views
	}
	var kept []model.PersonView
	for _, v := range views {
		if matches(v.Person, q) {
			kept = append(kept, v)
		}
	}
	return kept
}

// matches checks a case-insensitive substring against full name, school and
// role.
func matches(p model.Person, q string) bool {
	if strings.Contains(strings.ToLower(p.FullName()), q) {
		return true
	}
	if p.School != "" && strings.Contains(strings.ToLower(p.School), q) {
		return true
	}
	return p.Role != "" && strings.Contains(strings.ToLower(p.Role), q)
}
