package session

import (
	"fmt"
	"strings"

	"proctordraw/pkg/types"
)

// RoomMode selects how a session's rooms are chosen.
type RoomMode string

const (
	// RoomModeSelect lets the administrator pick rooms per session,
	// restricted to the catalog when one is configured.
	RoomModeSelect RoomMode = "select"
	// RoomModeFixed always uses the whole catalog.
	RoomModeFixed RoomMode = "fixed"
)

// DefaultCatalog is the predefined room list.
var DefaultCatalog = []string{"G203", "G205", "G206", "G207"}

// ParseRoomMode maps a configuration value to a mode. Empty selects
// RoomModeSelect.
func ParseRoomMode(value string) (RoomMode, error) {
	switch RoomMode(strings.ToLower(strings.TrimSpace(value))) {
	case "", RoomModeSelect:
		return RoomModeSelect, nil
	case RoomModeFixed:
		return RoomModeFixed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRoomMode, value)
	}
}

// RoomPolicy resolves the room list of a new session.
type RoomPolicy struct {
	Mode    RoomMode
	Catalog []string
}

// NewRoomPolicy validates and normalises the catalog.
func NewRoomPolicy(mode RoomMode, catalog []string) (RoomPolicy, error) {
	policy := RoomPolicy{Mode: mode}
	if len(catalog) > 0 {
		rooms, err := types.NormalizeRooms(catalog)
		if err != nil {
			return RoomPolicy{}, fmt.Errorf("invalid room catalog: %w", err)
		}
		policy.Catalog = rooms
	}
	if mode == RoomModeFixed && len(policy.Catalog) == 0 {
		return RoomPolicy{}, ErrEmptyCatalog
	}
	return policy, nil
}

// Resolve returns the rooms for a session requested with rooms.
func (p RoomPolicy) Resolve(rooms []string) ([]string, error) {
	if p.Mode == RoomModeFixed {
		if len(rooms) == 0 {
			return append([]string(nil), p.Catalog...), nil
		}
		requested, err := types.NormalizeRooms(rooms)
		if err != nil {
			return nil, err
		}
		if !sameRooms(requested, p.Catalog) {
			return nil, fmt.Errorf("%w: rooms are fixed to %s",
				types.ErrInvalidSessionConfig, strings.Join(p.Catalog, ", "))
		}
		return append([]string(nil), p.Catalog...), nil
	}

	requested, err := types.NormalizeRooms(rooms)
	if err != nil {
		return nil, err
	}
	if len(p.Catalog) > 0 {
		for _, room := range requested {
			if !p.InCatalog(room) {
				return nil, fmt.Errorf("%w: room %s is not in the catalog",
					types.ErrInvalidSessionConfig, room)
			}
		}
	}
	return requested, nil
}

// InCatalog reports whether room is a catalog room.
func (p RoomPolicy) InCatalog(room string) bool {
	for _, r := range p.Catalog {
		if r == room {
			return true
		}
	}
	return false
}

func sameRooms(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, room := range a {
		set[room] = true
	}
	for _, room := range b {
		if !set[room] {
			return false
		}
	}
	return true
}
