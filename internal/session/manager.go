package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"proctordraw/internal/draw"
	"proctordraw/pkg/interfaces"
	"proctordraw/pkg/types"
)

// DefaultMaxRetries bounds how often a draw is retried after losing a
// compare-and-set race to another instance.
const DefaultMaxRetries = 5

// Config holds the session manager's policies.
type Config struct {
	Rooms      RoomPolicy
	MaxRetries int
	// Now defaults to time.Now.
	Now func() time.Time
}

// Manager implements the SessionManager interface. It is the single writer
// of the snapshot within a process; the store's version stamp arbitrates
// between processes.
type Manager struct {
	store      interfaces.SnapshotStore
	memo       interfaces.DrawnNameMemo
	engine     *draw.Engine
	notifier   interfaces.Notifier
	rooms      RoomPolicy
	maxRetries int
	now        func() time.Time
	mu         sync.Mutex
	// version is the last snapshot stamp announced to viewers.
	version int64
}

// NewManager creates a new session manager. notifier may be nil.
func NewManager(store interfaces.SnapshotStore, memo interfaces.DrawnNameMemo, engine *draw.Engine, notifier interfaces.Notifier, config Config) *Manager {
	if config.Rooms.Mode == "" {
		config.Rooms.Mode = RoomModeSelect
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Manager{
		store:      store,
		memo:       memo,
		engine:     engine,
		notifier:   notifier,
		rooms:      config.Rooms,
		maxRetries: config.MaxRetries,
		now:        config.Now,
	}
}

// Rooms returns the room policy.
func (m *Manager) Rooms() RoomPolicy {
	return m.rooms
}

// Load restores the stored session on startup. Corrupt data is discarded.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, err := m.load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if snap == nil {
		m.version = m.storedVersion(ctx)
		log.Printf("No stored session")
		return nil
	}
	m.version = snap.Version

	stats := snap.Roster.Stats()
	log.Printf("Restored session: date=%s time=%s rooms=%d filled=%d/%d",
		snap.Session.Date, snap.Session.Time, len(snap.Session.Rooms), stats.Filled, stats.Total)
	return nil
}

// StartSession configures a new session, replacing any previous one.
func (m *Manager) StartSession(ctx context.Context, date, startTime string, rooms []string) (*types.Session, error) {
	date = strings.TrimSpace(date)
	startTime = strings.TrimSpace(startTime)
	if date == "" {
		return nil, fmt.Errorf("%w: date is required", types.ErrInvalidSessionConfig)
	}
	if startTime == "" {
		return nil, fmt.Errorf("%w: time is required", types.ErrInvalidSessionConfig)
	}

	resolved, err := m.rooms.Resolve(rooms)
	if err != nil {
		return nil, err
	}

	session := &types.Session{
		Date:      date,
		Time:      startTime,
		Rooms:     resolved,
		StartedAt: m.now().UTC(),
	}
	if err := session.Validate(); err != nil {
		return nil, err
	}
	snap := &types.Snapshot{Session: session, Roster: types.NewRoster(session)}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Memos go first: once the snapshot is saved other instances may draw
	// into the new session and record memos of their own.
	m.forgetDrawnNames(ctx)
	if err := m.store.Save(ctx, snap); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	log.Printf("Started session: date=%s time=%s rooms=%s slots=%d",
		session.Date, session.Time, strings.Join(session.Rooms, ","), len(snap.Roster))

	m.publish(types.RosterEvent{
		Type:    types.EventSessionStarted,
		Version: snap.Version,
		Session: snap.Clone().Session,
		Roster:  snap.Roster.Clone(),
		Stats:   snap.Roster.Stats(),
	})

	out := *session
	out.Rooms = append([]string(nil), session.Rooms...)
	return &out, nil
}

// ResetSession discards the session, its roster and every drawn-name memo.
// Resetting without a session is a no-op.
func (m *Manager) ResetSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to reset session: %w", err)
	}
	m.forgetDrawnNames(ctx)

	log.Printf("Reset session")
	m.publish(types.RosterEvent{Type: types.EventSessionReset, Version: m.storedVersion(ctx)})
	return nil
}

// Current returns a copy of the active session and roster.
func (m *Manager) Current(ctx context.Context) (*types.Snapshot, error) {
	return m.current(ctx)
}

// Stats returns the roster progress of the active session.
func (m *Manager) Stats(ctx context.Context) (types.Stats, error) {
	snap, err := m.current(ctx)
	if err != nil {
		return types.Stats{}, err
	}
	return snap.Roster.Stats(), nil
}

// Draw assigns claimant name a random free slot. clientID keys the
// drawn-name memo and may be empty.
func (m *Manager) Draw(ctx context.Context, clientID, name string) (types.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		snap, err := m.load(ctx)
		if err != nil {
			return types.Assignment{}, err
		}
		if snap == nil {
			return types.Assignment{}, types.ErrNoActiveSession
		}

		assignment, err := m.engine.Draw(snap.Roster, name)
		if err != nil {
			return types.Assignment{}, err
		}

		err = m.store.SaveIfVersion(ctx, snap)
		if errors.Is(err, interfaces.ErrVersionConflict) {
			log.Printf("Draw conflict: attempt=%d/%d, reloading roster", attempt, m.maxRetries)
			continue
		}
		if err != nil {
			return types.Assignment{}, fmt.Errorf("failed to save draw: %w", err)
		}

		proctor, _ := assignment.Proctor()
		if err := m.memo.SaveDrawnName(ctx, clientID, proctor.Name); err != nil {
			log.Printf("Failed to remember drawn name: client=%s: %v", clientID, err)
		}

		log.Printf("Slot drawn: room=%s role=%s proctor_id=%d", assignment.ExamSlot.Room, assignment.Role, proctor.ID)

		drawn := assignment
		m.publish(types.RosterEvent{
			Type:       types.EventSlotDrawn,
			Version:    snap.Version,
			Assignment: &drawn,
			Stats:      snap.Roster.Stats(),
		})
		return assignment, nil
	}

	return types.Assignment{}, fmt.Errorf("%w after %d attempts", types.ErrDrawConflict, m.maxRetries)
}

// MyAssignment returns the slot drawn earlier by clientID.
func (m *Manager) MyAssignment(ctx context.Context, clientID string) (types.Assignment, error) {
	name, found, err := m.memo.LoadDrawnName(ctx, clientID)
	if err != nil {
		return types.Assignment{}, err
	}
	if !found {
		return types.Assignment{}, types.ErrNotDrawn
	}
	return m.AssignmentFor(ctx, name)
}

// AssignmentFor returns the slot bound to name under the draw engine's name
// policy.
func (m *Manager) AssignmentFor(ctx context.Context, name string) (types.Assignment, error) {
	snap, err := m.current(ctx)
	if err != nil {
		return types.Assignment{}, err
	}
	assignment, ok := snap.Roster.FindBound(m.engine.Policy().Matcher(name))
	if !ok {
		return types.Assignment{}, types.ErrNotDrawn
	}
	return assignment, nil
}

// Export returns the bound assignments in roster order.
func (m *Manager) Export(ctx context.Context) ([]types.ExportRow, error) {
	snap, err := m.current(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Roster.ExportRows(), nil
}

// current re-reads the store so writes from other instances are visible.
func (m *Manager) current(ctx context.Context) (*types.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		return nil, types.ErrNoActiveSession
	}
	return snap, nil
}

// load must be called with mu held. A corrupt snapshot is cleared and
// reported as absent.
func (m *Manager) load(ctx context.Context) (*types.Snapshot, error) {
	snap, err := m.store.Load(ctx)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, types.ErrCorruptSnapshot) {
		return nil, err
	}

	log.Printf("Discarding corrupt session snapshot: %v", err)
	if clearErr := m.store.Clear(ctx); clearErr != nil {
		return nil, fmt.Errorf("failed to clear corrupt snapshot: %w", clearErr)
	}
	m.forgetDrawnNames(ctx)
	return nil, nil
}

// Sync announces a roster_snapshot when the stored snapshot changed since the
// last event this manager published, which happens when another instance
// sharing the store wrote it.
func (m *Manager) Sync(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	version, err := m.store.Version(ctx)
	if err != nil {
		return err
	}
	if version == m.version {
		return nil
	}

	snap, err := m.load(ctx)
	if err != nil {
		return err
	}

	event := types.RosterEvent{Type: types.EventRosterSnapshot, Version: version}
	if snap != nil {
		event.Version = snap.Version
		event.Session = snap.Session
		event.Roster = snap.Roster
		event.Stats = snap.Roster.Stats()
	} else {
		// Discarding a corrupt snapshot moves the stamp again.
		event.Version = m.storedVersion(ctx)
	}

	log.Printf("Stored session changed elsewhere: version=%d previous=%d", event.Version, m.version)
	m.version = event.Version
	m.publish(event)
	return nil
}

// Watch calls Sync every interval until stop is closed.
func (m *Manager) Watch(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Sync(context.Background()); err != nil {
				log.Printf("Session sync failed: %v", err)
			}
		case <-stop:
			return
		}
	}
}

// storedVersion must be called with mu held. Failures leave the last known
// version in place.
func (m *Manager) storedVersion(ctx context.Context) int64 {
	version, err := m.store.Version(ctx)
	if err != nil {
		log.Printf("Failed to read snapshot version: %v", err)
		return m.version
	}
	return version
}

func (m *Manager) forgetDrawnNames(ctx context.Context) {
	if err := m.memo.ClearDrawnNames(ctx); err != nil {
		log.Printf("Failed to clear drawn names: %v", err)
	}
}

// publish must be called with mu held.
func (m *Manager) publish(event types.RosterEvent) {
	if event.Version > m.version {
		m.version = event.Version
	}
	if m.notifier == nil {
		return
	}
	event.Timestamp = m.now().UTC()
	if err := m.notifier.Publish(event); err != nil {
		log.Printf("Failed to publish %s event: %v", event.Type, err)
	}
}
