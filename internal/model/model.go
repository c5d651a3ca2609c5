package model

import (
	"strings"
	"time"
)

// PersonType distinguishes roster membership.
type PersonType string

const (
	Youth  PersonType = "youth"
	Leader PersonType = "leader"
)

// Person is a roster member. The roster collaborator owns these; this core
// only reads them.
type Person struct {
	ID        string     `json:"id"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Type      PersonType `json:"person_type"`
	Grade     string     `json:"grade,omitempty"`
	School    string     `json:"school,omitempty"`
	Role      string     `json:"role,omitempty"`
}

// FullName returns the display name.
func (p Person) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Event is the scheduled gathering attendance is tracked against. Newer events
// carry a UTC instant pair; legacy events carry a civil date plus wall-clock
// times interpreted in the organization's timezone. Immutable for the duration
// of a session.
type Event struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Location      string     `json:"location,omitempty"`
	StartDatetime *time.Time `json:"start_datetime,omitempty"`
	EndDatetime   *time.Time `json:"end_datetime,omitempty"`
	Date          string     `json:"date,omitempty"`       // 2006-01-02
	StartTime     string     `json:"start_time,omitempty"` // 15:04
	EndTime       string     `json:"end_time,omitempty"`   // 15:04
}

// AttendanceRecord is one person's check-in, and optional check-out, for one
// event. Absence of a record means not checked in. Name and type are
// denormalized so a removed person's history still displays.
type AttendanceRecord struct {
	PersonID  string     `json:"person_id"`
	FirstName string     `json:"first_name,omitempty"`
	LastName  string     `json:"last_name,omitempty"`
	Type      PersonType `json:"person_type,omitempty"`
	CheckIn   time.Time  `json:"check_in"`
	CheckOut  *time.Time `json:"check_out,omitempty"`
}

// Status is the computed attendance state of a person for one event.
type Status string

const (
	Available  Status = "available"
	CheckedIn  Status = "checked_in"
	CheckedOut Status = "checked_out"
)

// PersonView is a Person merged with their attendance record. It is computed
// per query from the snapshot, never stored.
type PersonView struct {
	Person Person            `json:"person"`
	Record *AttendanceRecord `json:"record,omitempty"`
	Status Status            `json:"status"`
}
