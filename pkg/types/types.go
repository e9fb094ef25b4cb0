package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role is one of the three fixed positions staffed in every exam room.
type Role string

const (
	RoleProctor1   Role = "Proctor1"
	RoleProctor2   Role = "Proctor2"
	RoleSupervisor Role = "Supervisor"
)

// RolesPerRoom is the cardinality of the fixed role set.
const RolesPerRoom = 3

var roleLabels = map[Role]string{
	RoleProctor1:   "Coi thi 1",
	RoleProctor2:   "Coi thi 2",
	RoleSupervisor: "Giám sát",
}

// Roles returns the fixed role set in roster order.
func Roles() []Role {
	return []Role{RoleProctor1, RoleProctor2, RoleSupervisor}
}

// Label returns the display label shown to proctors and written to exports.
func (r Role) Label() string {
	if label, ok := roleLabels[r]; ok {
		return label
	}
	return string(r)
}

// IsValid reports whether r belongs to the fixed role set.
func (r Role) IsValid() bool {
	_, ok := roleLabels[r]
	return ok
}

// UnmarshalJSON rejects roles outside the fixed set so a tampered snapshot
// cannot smuggle a fourth role into the roster.
func (r *Role) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	role := Role(raw)
	if !role.IsValid() {
		return fmt.Errorf("%w: unknown role %q", ErrCorruptSnapshot, raw)
	}
	*r = role
	return nil
}

// ExamSlot identifies where and when a role is performed.
type ExamSlot struct {
	Room string `json:"room"`
	Date string `json:"date"`
	Time string `json:"time"`
}

// Proctor is a claimant bound to a slot.
type Proctor struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Session is the administrator's configuration for one draw cycle.
// Date and time are constant across every slot of the session.
type Session struct {
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	Rooms     []string  `json:"rooms"`
	StartedAt time.Time `json:"started_at"`
}

// Snapshot is the persisted unit: a session together with its roster.
// Version is the store's compare-and-set stamp and is never serialised.
type Snapshot struct {
	Session *Session `json:"session"`
	Roster  Roster   `json:"assignments"`
	Version int64    `json:"-"`
}

// Clone returns a deep copy so callers outside the session manager never
// share roster memory with it.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{Version: s.Version, Roster: s.Roster.Clone()}
	if s.Session != nil {
		session := *s.Session
		session.Rooms = append([]string(nil), s.Session.Rooms...)
		out.Session = &session
	}
	return out
}

// Stats summarises roster progress for the administrator view.
type Stats struct {
	Total     int  `json:"total"`
	Filled    int  `json:"filled"`
	Available int  `json:"available"`
	Complete  bool `json:"complete"`
}

// ExportRow is one bound assignment flattened for the export collaborator.
type ExportRow struct {
	Room        string `json:"room"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	Role        string `json:"role"`
	ProctorName string `json:"proctor_name"`
}

// Roster event types published to live viewers.
const (
	EventRosterSnapshot = "roster_snapshot"
	EventSessionStarted = "session_started"
	EventSlotDrawn      = "slot_drawn"
	EventSessionReset   = "session_reset"
)

// RosterEvent is a change notification fanned out to connected browsers.
// Version is the snapshot's store stamp after the change; a client ignores
// events older than the last version it applied.
type RosterEvent struct {
	Type       string      `json:"type"`
	Version    int64       `json:"version"`
	Session    *Session    `json:"session,omitempty"`
	Roster     Roster      `json:"assignments,omitempty"`
	Assignment *Assignment `json:"assignment,omitempty"`
	Stats      Stats       `json:"stats"`
	Timestamp  time.Time   `json:"timestamp"`
}
