package types

import (
	"encoding/json"
	"fmt"
)

// Binding is the fill state of an assignment: Empty or Bound.
// The interface is sealed so a type switch over both variants is exhaustive.
type Binding interface {
	isBinding()
}

// Empty marks an unfilled slot.
type Empty struct{}

// Bound marks a slot claimed by a proctor.
type Bound struct {
	Proctor Proctor
}

func (Empty) isBinding() {}
func (Bound) isBinding() {}

// Assignment binds at most one proctor to a (role, exam slot) pair.
type Assignment struct {
	Binding  Binding
	Role     Role
	ExamSlot ExamSlot
}

type assignmentJSON struct {
	Proctor  *Proctor `json:"proctor"`
	Role     Role     `json:"role"`
	ExamSlot ExamSlot `json:"examSlot"`
}

// Proctor returns the bound proctor, if any.
func (a Assignment) Proctor() (Proctor, bool) {
	switch b := a.Binding.(type) {
	case Bound:
		return b.Proctor, true
	case Empty, nil:
		return Proctor{}, false
	default:
		panic(fmt.Sprintf("types: unknown binding %T", b))
	}
}

// IsBound reports whether a proctor has claimed the slot.
func (a Assignment) IsBound() bool {
	_, ok := a.Proctor()
	return ok
}

// Key identifies the slot within its session.
func (a Assignment) Key() SlotKey {
	return SlotKey{Room: a.ExamSlot.Room, Role: a.Role}
}

// MarshalJSON writes an empty binding as "proctor": null.
func (a Assignment) MarshalJSON() ([]byte, error) {
	out := assignmentJSON{Role: a.Role, ExamSlot: a.ExamSlot}
	if p, ok := a.Proctor(); ok {
		out.Proctor = &p
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores the tagged binding from the nullable wire form.
func (a *Assignment) UnmarshalJSON(data []byte) error {
	var in assignmentJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	a.Role = in.Role
	a.ExamSlot = in.ExamSlot
	if in.Proctor != nil {
		a.Binding = Bound{Proctor: *in.Proctor}
	} else {
		a.Binding = Empty{}
	}
	return nil
}

// SlotKey is the (room, role) identity of a slot.
type SlotKey struct {
	Room string
	Role Role
}

func (k SlotKey) String() string {
	return k.Room + "/" + string(k.Role)
}

// Roster is the ordered set of assignments of the active session,
// room-major and role-minor.
type Roster []Assignment

// NewRoster builds the full Cartesian product rooms × Roles() with every
// slot empty.
func NewRoster(session *Session) Roster {
	roster := make(Roster, 0, len(session.Rooms)*RolesPerRoom)
	for _, room := range session.Rooms {
		for _, role := range Roles() {
			roster = append(roster, Assignment{
				Binding: Empty{},
				Role:    role,
				ExamSlot: ExamSlot{
					Room: room,
					Date: session.Date,
					Time: session.Time,
				},
			})
		}
	}
	return roster
}

// Clone copies the roster. Bindings are values so a shallow element copy
// is sufficient.
func (r Roster) Clone() Roster {
	if r == nil {
		return nil
	}
	out := make(Roster, len(r))
	copy(out, r)
	return out
}

// Available returns the unfilled assignments in roster order.
func (r Roster) Available() []Assignment {
	var out []Assignment
	for _, a := range r {
		if !a.IsBound() {
			out = append(out, a)
		}
	}
	return out
}

// Find returns the assignment for key.
func (r Roster) Find(key SlotKey) (Assignment, bool) {
	for _, a := range r {
		if a.Key() == key {
			return a, true
		}
	}
	return Assignment{}, false
}

// FindBound returns the first assignment whose proctor satisfies match.
func (r Roster) FindBound(match func(name string) bool) (Assignment, bool) {
	for _, a := range r {
		if p, ok := a.Proctor(); ok && match(p.Name) {
			return a, true
		}
	}
	return Assignment{}, false
}

// Bind claims the slot identified by key for proctor. Only an empty slot
// can be bound; a bound slot is released solely by a session reset.
func (r Roster) Bind(key SlotKey, proctor Proctor) (Assignment, error) {
	for i := range r {
		if r[i].Key() != key {
			continue
		}
		if r[i].IsBound() {
			return Assignment{}, fmt.Errorf("%w: %s", ErrSlotAlreadyBound, key)
		}
		r[i].Binding = Bound{Proctor: proctor}
		return r[i], nil
	}
	return Assignment{}, fmt.Errorf("%w: %s", ErrSlotNotFound, key)
}

// MaxProctorID returns the largest bound proctor id, or 0 when none is bound.
func (r Roster) MaxProctorID() int64 {
	var highest int64
	for _, a := range r {
		if p, ok := a.Proctor(); ok && p.ID > highest {
			highest = p.ID
		}
	}
	return highest
}

// Stats counts filled and available slots.
func (r Roster) Stats() Stats {
	stats := Stats{Total: len(r)}
	for _, a := range r {
		if a.IsBound() {
			stats.Filled++
		}
	}
	stats.Available = stats.Total - stats.Filled
	stats.Complete = stats.Total > 0 && stats.Available == 0
	return stats
}

// ExportRows flattens the bound assignments in roster order.
func (r Roster) ExportRows() []ExportRow {
	rows := make([]ExportRow, 0, len(r))
	for _, a := range r {
		p, ok := a.Proctor()
		if !ok {
			continue
		}
		rows = append(rows, ExportRow{
			Room:        a.ExamSlot.Room,
			Date:        a.ExamSlot.Date,
			Time:        a.ExamSlot.Time,
			Role:        a.Role.Label(),
			ProctorName: p.Name,
		})
	}
	return rows
}

// Validate checks the roster against its session: exactly one assignment
// per (room, role), every slot carrying the session's date and time, and
// no proctor name bound twice.
func (r Roster) Validate(session *Session) error {
	if session == nil {
		return fmt.Errorf("%w: roster without session", ErrCorruptSnapshot)
	}
	if len(r) != len(session.Rooms)*RolesPerRoom {
		return fmt.Errorf("%w: roster has %d assignments, want %d",
			ErrCorruptSnapshot, len(r), len(session.Rooms)*RolesPerRoom)
	}

	expected := make(map[SlotKey]bool, len(r))
	for _, room := range session.Rooms {
		for _, role := range Roles() {
			expected[SlotKey{Room: room, Role: role}] = false
		}
	}

	names := make(map[string]bool)
	for _, a := range r {
		seen, ok := expected[a.Key()]
		if !ok {
			return fmt.Errorf("%w: unexpected slot %s", ErrCorruptSnapshot, a.Key())
		}
		if seen {
			return fmt.Errorf("%w: duplicate slot %s", ErrCorruptSnapshot, a.Key())
		}
		expected[a.Key()] = true

		if a.ExamSlot.Date != session.Date || a.ExamSlot.Time != session.Time {
			return fmt.Errorf("%w: slot %s has foreign date/time", ErrCorruptSnapshot, a.Key())
		}
		if p, ok := a.Proctor(); ok {
			if names[p.Name] {
				return fmt.Errorf("%w: proctor %q bound twice", ErrCorruptSnapshot, p.Name)
			}
			names[p.Name] = true
		}
	}
	return nil
}
