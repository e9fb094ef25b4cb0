package types

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func testSession(rooms ...string) *Session {
	return &Session{Date: "2024-06-01", Time: "07:30-09:30", Rooms: rooms}
}

func TestRoles_FixedOrderAndLabels(t *testing.T) {
	roles := Roles()
	if len(roles) != RolesPerRoom {
		t.Fatalf("Expected %d roles, got %d", RolesPerRoom, len(roles))
	}

	expected := []struct {
		role  Role
		label string
	}{
		{RoleProctor1, "Coi thi 1"},
		{RoleProctor2, "Coi thi 2"},
		{RoleSupervisor, "Giám sát"},
	}
	for i, want := range expected {
		if roles[i] != want.role {
			t.Errorf("Role %d: got %s, want %s", i, roles[i], want.role)
		}
		if roles[i].Label() != want.label {
			t.Errorf("Label of %s: got %q, want %q", roles[i], roles[i].Label(), want.label)
		}
	}

	if Role("Invigilator").IsValid() {
		t.Error("Unknown role should not be valid")
	}
}

func TestNewRoster_CartesianProduct(t *testing.T) {
	session := testSession("G203", "G205")
	roster := NewRoster(session)

	if len(roster) != 6 {
		t.Fatalf("Expected 6 assignments, got %d", len(roster))
	}

	// Room-major, role-minor.
	wantOrder := []SlotKey{
		{"G203", RoleProctor1}, {"G203", RoleProctor2}, {"G203", RoleSupervisor},
		{"G205", RoleProctor1}, {"G205", RoleProctor2}, {"G205", RoleSupervisor},
	}
	for i, key := range wantOrder {
		if roster[i].Key() != key {
			t.Errorf("Position %d: got %s, want %s", i, roster[i].Key(), key)
		}
		if roster[i].IsBound() {
			t.Errorf("Position %d should start empty", i)
		}
		if roster[i].ExamSlot.Date != session.Date || roster[i].ExamSlot.Time != session.Time {
			t.Errorf("Position %d carries wrong date/time: %+v", i, roster[i].ExamSlot)
		}
	}

	if err := roster.Validate(session); err != nil {
		t.Errorf("Fresh roster should validate: %v", err)
	}
}

func TestRoster_BindOnlyEmptySlots(t *testing.T) {
	roster := NewRoster(testSession("G203"))
	key := SlotKey{Room: "G203", Role: RoleSupervisor}

	bound, err := roster.Bind(key, Proctor{ID: 1, Name: "Alice"})
	if err != nil {
		t.Fatalf("Bind should succeed: %v", err)
	}
	if p, ok := bound.Proctor(); !ok || p.Name != "Alice" {
		t.Errorf("Expected Alice bound, got %+v", bound)
	}

	_, err = roster.Bind(key, Proctor{ID: 2, Name: "Bob"})
	if !errors.Is(err, ErrSlotAlreadyBound) {
		t.Errorf("Expected ErrSlotAlreadyBound, got %v", err)
	}
	if a, _ := roster.Find(key); a.Binding.(Bound).Proctor.Name != "Alice" {
		t.Error("Bound slot must not be rebound")
	}

	_, err = roster.Bind(SlotKey{Room: "G999", Role: RoleProctor1}, Proctor{ID: 3, Name: "Carol"})
	if !errors.Is(err, ErrSlotNotFound) {
		t.Errorf("Expected ErrSlotNotFound, got %v", err)
	}
}

func TestRoster_StatsAndExportRows(t *testing.T) {
	roster := NewRoster(testSession("G203", "G205"))

	if stats := roster.Stats(); stats.Filled != 0 || stats.Available != 6 || stats.Complete {
		t.Errorf("Unexpected stats for empty roster: %+v", stats)
	}
	if rows := roster.ExportRows(); len(rows) != 0 {
		t.Errorf("Empty roster should export no rows, got %d", len(rows))
	}

	roster.Bind(SlotKey{"G205", RoleProctor2}, Proctor{ID: 1, Name: "Bob"})
	roster.Bind(SlotKey{"G203", RoleSupervisor}, Proctor{ID: 2, Name: "Alice"})

	rows := roster.ExportRows()
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	// Roster order, not bind order.
	if rows[0].ProctorName != "Alice" || rows[0].Role != "Giám sát" || rows[0].Room != "G203" {
		t.Errorf("Unexpected first row: %+v", rows[0])
	}
	if rows[1].ProctorName != "Bob" || rows[1].Role != "Coi thi 2" {
		t.Errorf("Unexpected second row: %+v", rows[1])
	}

	for i := 0; i < 6; i++ {
		roster[i].Binding = Bound{Proctor: Proctor{ID: int64(10 + i), Name: string(rune('a' + i))}}
	}
	if stats := roster.Stats(); !stats.Complete || stats.Available != 0 {
		t.Errorf("Full roster should be complete: %+v", stats)
	}
}

func TestRoster_Validate(t *testing.T) {
	session := testSession("G203", "G205")

	tests := []struct {
		name   string
		mutate func(Roster) Roster
	}{
		{"missing slot", func(r Roster) Roster { return r[:5] }},
		{"duplicate slot", func(r Roster) Roster { r[1] = r[0]; return r }},
		{"foreign room", func(r Roster) Roster { r[0].ExamSlot.Room = "X1"; return r }},
		{"foreign date", func(r Roster) Roster { r[2].ExamSlot.Date = "2024-06-02"; return r }},
		{"name bound twice", func(r Roster) Roster {
			r[0].Binding = Bound{Proctor: Proctor{ID: 1, Name: "Alice"}}
			r[4].Binding = Bound{Proctor: Proctor{ID: 2, Name: "Alice"}}
			return r
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roster := tt.mutate(NewRoster(session))
			if err := roster.Validate(session); !errors.Is(err, ErrCorruptSnapshot) {
				t.Errorf("Expected ErrCorruptSnapshot, got %v", err)
			}
		})
	}
}

func TestAssignment_JSONNullableProctor(t *testing.T) {
	roster := NewRoster(testSession("G203"))
	roster.Bind(SlotKey{"G203", RoleProctor1}, Proctor{ID: 42, Name: "Alice"})

	data, err := json.Marshal(roster)
	if err != nil {
		t.Fatalf("Failed to marshal roster: %v", err)
	}
	if !strings.Contains(string(data), `"proctor":null`) {
		t.Errorf("Empty binding should serialise as null: %s", data)
	}
	if !strings.Contains(string(data), `"proctor":{"id":42,"name":"Alice"}`) {
		t.Errorf("Bound binding should serialise the proctor: %s", data)
	}

	var decoded Roster
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal roster: %v", err)
	}
	if _, ok := decoded[0].Binding.(Bound); !ok {
		t.Errorf("Expected Bound variant, got %T", decoded[0].Binding)
	}
	if _, ok := decoded[1].Binding.(Empty); !ok {
		t.Errorf("Expected Empty variant, got %T", decoded[1].Binding)
	}
}

func TestAssignment_UnknownRoleRejected(t *testing.T) {
	var a Assignment
	err := json.Unmarshal([]byte(`{"proctor":null,"role":"Janitor","examSlot":{"room":"G203"}}`), &a)
	if !errors.Is(err, ErrCorruptSnapshot) {
		t.Errorf("Expected ErrCorruptSnapshot for unknown role, got %v", err)
	}
}

func TestSnapshot_CloneIsDeep(t *testing.T) {
	session := testSession("G203")
	snap := &Snapshot{Session: session, Roster: NewRoster(session), Version: 7}

	clone := snap.Clone()
	clone.Roster.Bind(SlotKey{"G203", RoleProctor1}, Proctor{ID: 1, Name: "Alice"})
	clone.Session.Rooms[0] = "G999"

	if snap.Roster[0].IsBound() {
		t.Error("Binding in clone leaked into original roster")
	}
	if snap.Session.Rooms[0] != "G203" {
		t.Error("Room change in clone leaked into original session")
	}
	if clone.Version != 7 {
		t.Errorf("Clone should keep version, got %d", clone.Version)
	}
}
