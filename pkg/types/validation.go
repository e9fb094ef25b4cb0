package types

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const (
	MaxClaimantNameLength = 100
	MaxRoomIDLength       = 20
)

var roomIDRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// IsBlank reports whether s is empty after trimming.
func IsBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// IsValidRoomID checks the room identifier format.
func IsValidRoomID(room string) bool {
	if len(room) < 1 || len(room) > MaxRoomIDLength {
		return false
	}
	return roomIDRegex.MatchString(room)
}

// NormalizeClaimantName trims and NFC-normalises a free-text claimant name.
// The result is 1-100 runes with no control characters, so it is safe in CSV
// cells and log lines.
func NormalizeClaimantName(name string) (string, error) {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return "", ErrInvalidClaimant
	}
	if len([]rune(name)) > MaxClaimantNameLength {
		return "", ErrInvalidClaimant
	}
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return "", ErrInvalidClaimant
	}
	return name, nil
}

// NormalizeRooms trims room identifiers, drops duplicates keeping the
// first occurrence, and validates each.
func NormalizeRooms(rooms []string) ([]string, error) {
	seen := make(map[string]bool, len(rooms))
	out := make([]string, 0, len(rooms))
	for _, room := range rooms {
		room = strings.TrimSpace(room)
		if room == "" {
			continue
		}
		if !IsValidRoomID(room) {
			return nil, fmt.Errorf("%w: invalid room %q", ErrInvalidSessionConfig, room)
		}
		if seen[room] {
			continue
		}
		seen[room] = true
		out = append(out, room)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: at least one room is required", ErrInvalidSessionConfig)
	}
	return out, nil
}

// Validate checks the administrator-supplied session fields.
func (s *Session) Validate() error {
	if IsBlank(s.Date) {
		return fmt.Errorf("%w: date is required", ErrInvalidSessionConfig)
	}
	if IsBlank(s.Time) {
		return fmt.Errorf("%w: time is required", ErrInvalidSessionConfig)
	}
	if len(s.Rooms) == 0 {
		return fmt.Errorf("%w: at least one room is required", ErrInvalidSessionConfig)
	}
	for _, room := range s.Rooms {
		if !IsValidRoomID(room) {
			return fmt.Errorf("%w: invalid room %q", ErrInvalidSessionConfig, room)
		}
	}
	return nil
}
