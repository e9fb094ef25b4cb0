package session

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"proctordraw/internal/database"
	"proctordraw/internal/draw"
	"proctordraw/internal/persistence"
	"proctordraw/pkg/interfaces"
	"proctordraw/pkg/types"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []types.RosterEvent
}

func (n *recordingNotifier) Publish(event types.RosterEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) eventTypes() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

var fixedNow = func() time.Time { return time.Date(2024, 6, 1, 7, 0, 0, 0, time.UTC) }

func newTestManager(t *testing.T, store *persistence.Store, config Config) (*Manager, *recordingNotifier) {
	t.Helper()
	if store == nil {
		store = persistence.NewStore(database.NewMemoryStore())
	}
	if config.Now == nil {
		config.Now = fixedNow
	}
	notifier := &recordingNotifier{}
	engine := draw.NewEngine(draw.Options{Seed: 1})
	return NewManager(store, store, engine, notifier, config), notifier
}

func TestManager_InterfaceCompliance(t *testing.T) {
	var _ interfaces.SessionManager = (*Manager)(nil)
}

func TestManager_StartSessionBuildsRoster(t *testing.T) {
	manager, notifier := newTestManager(t, nil, Config{})
	ctx := context.Background()

	session, err := manager.StartSession(ctx, " 2024-06-01 ", "07:30-09:30", []string{"G203", " G205", "G203"})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if session.Date != "2024-06-01" {
		t.Errorf("Expected trimmed date, got %q", session.Date)
	}
	if !reflect.DeepEqual(session.Rooms, []string{"G203", "G205"}) {
		t.Errorf("Expected de-duplicated rooms, got %v", session.Rooms)
	}
	if !session.StartedAt.Equal(fixedNow()) {
		t.Errorf("Unexpected StartedAt %v", session.StartedAt)
	}

	snap, err := manager.Current(ctx)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}

	want := []types.SlotKey{
		{Room: "G203", Role: types.RoleProctor1},
		{Room: "G203", Role: types.RoleProctor2},
		{Room: "G203", Role: types.RoleSupervisor},
		{Room: "G205", Role: types.RoleProctor1},
		{Room: "G205", Role: types.RoleProctor2},
		{Room: "G205", Role: types.RoleSupervisor},
	}
	if len(snap.Roster) != len(want) {
		t.Fatalf("Expected %d assignments, got %d", len(want), len(snap.Roster))
	}
	for i, a := range snap.Roster {
		if a.Key() != want[i] {
			t.Errorf("Assignment %d: got %s, want %s", i, a.Key(), want[i])
		}
		if a.IsBound() {
			t.Errorf("Assignment %d should start empty", i)
		}
	}

	if got := notifier.eventTypes(); !reflect.DeepEqual(got, []string{types.EventSessionStarted}) {
		t.Errorf("Unexpected events: %v", got)
	}
}

func TestManager_StartSessionValidation(t *testing.T) {
	tests := []struct {
		name  string
		date  string
		time  string
		rooms []string
	}{
		{"blank date", "  ", "07:30", []string{"G203"}},
		{"blank time", "2024-06-01", "", []string{"G203"}},
		{"no rooms", "2024-06-01", "07:30", nil},
		{"blank rooms", "2024-06-01", "07:30", []string{" ", ""}},
		{"bad room", "2024-06-01", "07:30", []string{"G 203"}},
		{"outside catalog", "2024-06-01", "07:30", []string{"X999"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy, _ := NewRoomPolicy(RoomModeSelect, DefaultCatalog)
			manager, notifier := newTestManager(t, nil, Config{Rooms: policy})
			ctx := context.Background()

			_, err := manager.StartSession(ctx, tt.date, tt.time, tt.rooms)
			if !errors.Is(err, types.ErrInvalidSessionConfig) {
				t.Fatalf("Expected ErrInvalidSessionConfig, got %v", err)
			}
			if _, err := manager.Current(ctx); !errors.Is(err, types.ErrNoActiveSession) {
				t.Errorf("Failed start must not create state, got %v", err)
			}
			if len(notifier.eventTypes()) != 0 {
				t.Errorf("Failed start must not publish, got %v", notifier.eventTypes())
			}
		})
	}
}

func TestManager_FixedRoomMode(t *testing.T) {
	policy, err := NewRoomPolicy(RoomModeFixed, DefaultCatalog)
	if err != nil {
		t.Fatalf("NewRoomPolicy failed: %v", err)
	}
	manager, _ := newTestManager(t, nil, Config{Rooms: policy})
	ctx := context.Background()

	session, err := manager.StartSession(ctx, "2024-06-01", "07:30", nil)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if !reflect.DeepEqual(session.Rooms, DefaultCatalog) {
		t.Errorf("Expected catalog rooms, got %v", session.Rooms)
	}

	if _, err := manager.StartSession(ctx, "2024-06-01", "07:30", []string{"G207", "G206", "G205", "G203"}); err != nil {
		t.Errorf("Same rooms in another order should be accepted, got %v", err)
	}
	if _, err := manager.StartSession(ctx, "2024-06-01", "07:30", []string{"G203"}); !errors.Is(err, types.ErrInvalidSessionConfig) {
		t.Errorf("Expected ErrInvalidSessionConfig for a subset, got %v", err)
	}
}

func TestManager_StartSessionOverwrites(t *testing.T) {
	manager, _ := newTestManager(t, nil, Config{})
	ctx := context.Background()

	if _, err := manager.StartSession(ctx, "2024-06-01", "07:30", []string{"G203"}); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if _, err := manager.Draw(ctx, "client-a", "Alice"); err != nil {
		t.Fatalf("Draw failed: %v", err)
	}

	if _, err := manager.StartSession(ctx, "2024-06-02", "13:00", []string{"G205"}); err != nil {
		t.Fatalf("Second StartSession failed: %v", err)
	}

	snap, _ := manager.Current(ctx)
	if snap.Session.Date != "2024-06-02" || snap.Roster.Stats().Filled != 0 {
		t.Errorf("Expected fresh roster, got %+v", snap)
	}
	if _, err := manager.MyAssignment(ctx, "client-a"); !errors.Is(err, types.ErrNotDrawn) {
		t.Errorf("Expected memo cleared by new session, got %v", err)
	}
}

func TestManager_WorkedExample(t *testing.T) {
	manager, notifier := newTestManager(t, nil, Config{})
	ctx := context.Background()

	if _, err := manager.StartSession(ctx, "2024-06-01", "07:30-09:30", []string{"G203", "G205"}); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	a, err := manager.Draw(ctx, "client-alice", "Alice")
	if err != nil {
		t.Fatalf("Draw failed: %v", err)
	}
	if p, _ := a.Proctor(); p.Name != "Alice" {
		t.Errorf("Expected Alice, got %+v", a)
	}
	stats, _ := manager.Stats(ctx)
	if stats.Available != 5 {
		t.Errorf("Expected 5 available, got %d", stats.Available)
	}

	if _, err := manager.Draw(ctx, "client-other", "alice"); !errors.Is(err, types.ErrAlreadyDrawn) {
		t.Errorf("Expected ErrAlreadyDrawn, got %v", err)
	}

	for i, name := range []string{"Bob", "Carol", "Dave", "Erin", "Frank"} {
		if _, err := manager.Draw(ctx, fmt.Sprintf("client-%d", i), name); err != nil {
			t.Fatalf("Draw %s failed: %v", name, err)
		}
	}

	stats, _ = manager.Stats(ctx)
	if !stats.Complete || stats.Filled != 6 {
		t.Errorf("Expected complete roster, got %+v", stats)
	}

	if _, err := manager.Draw(ctx, "client-grace", "Grace"); !errors.Is(err, types.ErrNoSlotsAvailable) {
		t.Errorf("Expected ErrNoSlotsAvailable, got %v", err)
	}

	events := notifier.eventTypes()
	drawn := 0
	for _, e := range events {
		if e == types.EventSlotDrawn {
			drawn++
		}
	}
	if drawn != 6 {
		t.Errorf("Expected 6 slot_drawn events, got %d (%v)", drawn, events)
	}
}

func TestManager_DrawWithoutSession(t *testing.T) {
	manager, _ := newTestManager(t, nil, Config{})
	if _, err := manager.Draw(context.Background(), "c", "Alice"); !errors.Is(err, types.ErrNoActiveSession) {
		t.Errorf("Expected ErrNoActiveSession, got %v", err)
	}
}

func TestManager_MyAssignmentAfterReload(t *testing.T) {
	store := persistence.NewStore(database.NewMemoryStore())
	first, _ := newTestManager(t, store, Config{})
	ctx := context.Background()

	if _, err := first.StartSession(ctx, "2024-06-01", "07:30", []string{"G203"}); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	drawn, err := first.Draw(ctx, "client-a", "Alice")
	if err != nil {
		t.Fatalf("Draw failed: %v", err)
	}

	// A restarted process sees the same result through the memo.
	second, _ := newTestManager(t, store, Config{})
	if err := second.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	mine, err := second.MyAssignment(ctx, "client-a")
	if err != nil {
		t.Fatalf("MyAssignment failed: %v", err)
	}
	if mine.Key() != drawn.Key() {
		t.Errorf("Expected %s, got %s", drawn.Key(), mine.Key())
	}

	if _, err := second.MyAssignment(ctx, "client-b"); !errors.Is(err, types.ErrNotDrawn) {
		t.Errorf("Expected ErrNotDrawn for unknown client, got %v", err)
	}
	if a, err := second.AssignmentFor(ctx, "ALICE"); err != nil || a.Key() != drawn.Key() {
		t.Errorf("Expected name lookup to follow case-insensitive policy, got %v, %v", a.Key(), err)
	}
}

func TestManager_ResetCompleteness(t *testing.T) {
	manager, notifier := newTestManager(t, nil, Config{})
	ctx := context.Background()

	if _, err := manager.StartSession(ctx, "2024-06-01", "07:30", []string{"G203", "G205"}); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if _, err := manager.Draw(ctx, "client-a", "Alice"); err != nil {
		t.Fatalf("Draw failed: %v", err)
	}

	if err := manager.ResetSession(ctx); err != nil {
		t.Fatalf("ResetSession failed: %v", err)
	}
	if _, err := manager.Current(ctx); !errors.Is(err, types.ErrNoActiveSession) {
		t.Errorf("Expected ErrNoActiveSession after reset, got %v", err)
	}
	if _, err := manager.Export(ctx); !errors.Is(err, types.ErrNoActiveSession) {
		t.Errorf("Expected export to fail after reset, got %v", err)
	}
	if _, err := manager.MyAssignment(ctx, "client-a"); !errors.Is(err, types.ErrNotDrawn) {
		t.Errorf("Expected memo cleared by reset, got %v", err)
	}

	// Reset is idempotent.
	if err := manager.ResetSession(ctx); err != nil {
		t.Errorf("Second reset failed: %v", err)
	}

	if _, err := manager.StartSession(ctx, "2024-06-01", "07:30", []string{"G203", "G205"}); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	snap, _ := manager.Current(ctx)
	if snap.Roster.Stats().Filled != 0 {
		t.Errorf("Expected no assignments carried over, got %d filled", snap.Roster.Stats().Filled)
	}
	if _, err := manager.Draw(ctx, "client-a", "Alice"); err != nil {
		t.Errorf("Alice should be able to draw again after reset, got %v", err)
	}

	want := []string{
		types.EventSessionStarted, types.EventSlotDrawn,
		types.EventSessionReset, types.EventSessionReset,
		types.EventSessionStarted, types.EventSlotDrawn,
	}
	if got := notifier.eventTypes(); !reflect.DeepEqual(got, want) {
		t.Errorf("Events = %v, want %v", got, want)
	}
}

func TestManager_ExportIsIdempotent(t *testing.T) {
	manager, _ := newTestManager(t, nil, Config{})
	ctx := context.Background()

	if _, err := manager.StartSession(ctx, "2024-06-01", "07:30", []string{"G203", "G205"}); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	for _, name := range []string{"Alice", "Bob", "Carol"} {
		if _, err := manager.Draw(ctx, "", name); err != nil {
			t.Fatalf("Draw failed: %v", err)
		}
	}

	first, err := manager.Export(ctx)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	second, _ := manager.Export(ctx)
	if len(first) != 3 {
		t.Errorf("Expected 3 rows, got %d", len(first))
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Export not idempotent:\n%v\n%v", first, second)
	}
}

func TestManager_CorruptSnapshotDiscarded(t *testing.T) {
	blobs := database.NewMemoryStore()
	store := persistence.NewStore(blobs)
	manager, _ := newTestManager(t, store, Config{})
	ctx := context.Background()

	if _, err := blobs.Set(ctx, persistence.SnapshotKey, []byte(`{"session":`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := store.SaveDrawnName(ctx, "client-a", "Alice"); err != nil {
		t.Fatalf("SaveDrawnName failed: %v", err)
	}

	if err := manager.Load(ctx); err != nil {
		t.Fatalf("Load must recover from corrupt data, got %v", err)
	}
	if _, err := manager.Current(ctx); !errors.Is(err, types.ErrNoActiveSession) {
		t.Errorf("Expected corrupt snapshot to be treated as absent, got %v", err)
	}
	if _, _, err := blobs.Get(ctx, persistence.SnapshotKey); !errors.Is(err, interfaces.ErrBlobNotFound) {
		t.Errorf("Expected corrupt snapshot to be cleared, got %v", err)
	}
	if _, found, _ := store.LoadDrawnName(ctx, "client-a"); found {
		t.Error("Expected memos cleared with the corrupt snapshot")
	}
}

// racingStore lets another writer commit between a manager's load and its
// conditional save.
type racingStore struct {
	*persistence.Store
	beforeSave func()
}

func (s *racingStore) SaveIfVersion(ctx context.Context, snap *types.Snapshot) error {
	if s.beforeSave != nil {
		hook := s.beforeSave
		s.beforeSave = nil
		hook()
	}
	return s.Store.SaveIfVersion(ctx, snap)
}

func TestManager_ConflictRetriedAcrossInstances(t *testing.T) {
	shared := persistence.NewStore(database.NewMemoryStore())
	ctx := context.Background()

	other, _ := newTestManager(t, shared, Config{})
	racing := &racingStore{Store: shared}
	engine := draw.NewEngine(draw.Options{Seed: 1})
	manager := NewManager(racing, shared, engine, nil, Config{Now: fixedNow})

	if _, err := manager.StartSession(ctx, "2024-06-01", "07:30", []string{"G203"}); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	var otherAssignment types.Assignment
	racing.beforeSave = func() {
		var err error
		otherAssignment, err = other.Draw(ctx, "client-bob", "Bob")
		if err != nil {
			t.Errorf("Competing draw failed: %v", err)
		}
	}

	mine, err := manager.Draw(ctx, "client-alice", "Alice")
	if err != nil {
		t.Fatalf("Draw should succeed after retry, got %v", err)
	}
	if mine.Key() == otherAssignment.Key() {
		t.Errorf("Both instances claimed %s", mine.Key())
	}

	snap, _ := manager.Current(ctx)
	if snap.Roster.Stats().Filled != 2 {
		t.Errorf("Expected both draws persisted, got %d filled", snap.Roster.Stats().Filled)
	}
	for _, name := range []string{"Alice", "Bob"} {
		if _, err := manager.AssignmentFor(ctx, name); err != nil {
			t.Errorf("%s lost their slot: %v", name, err)
		}
	}
}

func TestManager_SameNameRaceAcrossInstances(t *testing.T) {
	shared := persistence.NewStore(database.NewMemoryStore())
	ctx := context.Background()

	other, _ := newTestManager(t, shared, Config{})
	racing := &racingStore{Store: shared}
	manager := NewManager(racing, shared, draw.NewEngine(draw.Options{Seed: 2}), nil, Config{Now: fixedNow})

	if _, err := manager.StartSession(ctx, "2024-06-01", "07:30", []string{"G203"}); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	racing.beforeSave = func() {
		if _, err := other.Draw(ctx, "tab-2", "Alice"); err != nil {
			t.Errorf("Competing draw failed: %v", err)
		}
	}

	if _, err := manager.Draw(ctx, "tab-1", "Alice"); !errors.Is(err, types.ErrAlreadyDrawn) {
		t.Errorf("Expected ErrAlreadyDrawn after reloading, got %v", err)
	}
	snap, _ := manager.Current(ctx)
	if snap.Roster.Stats().Filled != 1 {
		t.Errorf("Expected one binding for Alice, got %d", snap.Roster.Stats().Filled)
	}
}

func TestManager_ProctorIDsUniqueAcrossInstances(t *testing.T) {
	shared := persistence.NewStore(database.NewMemoryStore())
	ctx := context.Background()

	// Both instances read the same millisecond.
	first := NewManager(shared, shared, draw.NewEngine(draw.Options{Seed: 1, Now: fixedNow}), nil, Config{Now: fixedNow})
	second := NewManager(shared, shared, draw.NewEngine(draw.Options{Seed: 2, Now: fixedNow}), nil, Config{Now: fixedNow})

	if _, err := first.StartSession(ctx, "2024-06-01", "07:30", []string{"G203", "G205"}); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	names := []string{"Alice", "Bob", "Carol", "Dave"}
	for i, name := range names {
		manager := first
		if i%2 == 1 {
			manager = second
		}
		if _, err := manager.Draw(ctx, "", name); err != nil {
			t.Fatalf("Draw %s failed: %v", name, err)
		}
	}

	snap, err := first.Current(ctx)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	ids := make(map[int64]string)
	for _, a := range snap.Roster {
		p, ok := a.Proctor()
		if !ok {
			continue
		}
		if holder, dup := ids[p.ID]; dup {
			t.Errorf("Proctor id %d bound to both %s and %s", p.ID, holder, p.Name)
		}
		ids[p.ID] = p.Name
	}
	if len(ids) != len(names) {
		t.Errorf("Expected %d distinct ids, got %d", len(names), len(ids))
	}
}

// afterSaveStore runs afterSave once, right after the next unconditional save.
type afterSaveStore struct {
	*persistence.Store
	afterSave func()
}

func (s *afterSaveStore) Save(ctx context.Context, snap *types.Snapshot) error {
	if err := s.Store.Save(ctx, snap); err != nil {
		return err
	}
	if hook := s.afterSave; hook != nil {
		s.afterSave = nil
		hook()
	}
	return nil
}

func TestManager_StartSessionKeepsMemosOfEarlyDraws(t *testing.T) {
	shared := persistence.NewStore(database.NewMemoryStore())
	ctx := context.Background()

	other, _ := newTestManager(t, shared, Config{})
	starting := &afterSaveStore{Store: shared}
	manager := NewManager(starting, shared, draw.NewEngine(draw.Options{Seed: 1}), nil, Config{Now: fixedNow})

	starting.afterSave = func() {
		if _, err := other.Draw(ctx, "client-bob", "Bob"); err != nil {
			t.Errorf("Draw on the new session failed: %v", err)
		}
	}
	if _, err := manager.StartSession(ctx, "2024-06-01", "07:30", []string{"G203"}); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	mine, err := other.MyAssignment(ctx, "client-bob")
	if err != nil {
		t.Fatalf("Memo of a draw made on the new session was lost: %v", err)
	}
	if p, _ := mine.Proctor(); p.Name != "Bob" {
		t.Errorf("Expected Bob's assignment, got %+v", mine)
	}
}

func TestManager_EventVersionsIncrease(t *testing.T) {
	manager, notifier := newTestManager(t, nil, Config{})
	ctx := context.Background()

	if _, err := manager.StartSession(ctx, "2024-06-01", "07:30", []string{"G203"}); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if _, err := manager.Draw(ctx, "", "Alice"); err != nil {
		t.Fatalf("Draw failed: %v", err)
	}
	if err := manager.ResetSession(ctx); err != nil {
		t.Fatalf("ResetSession failed: %v", err)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(notifier.events))
	}
	var last int64
	for _, e := range notifier.events {
		if e.Version <= last {
			t.Errorf("%s event version %d does not follow %d", e.Type, e.Version, last)
		}
		last = e.Version
	}
}

func TestManager_SyncAnnouncesForeignWrites(t *testing.T) {
	shared := persistence.NewStore(database.NewMemoryStore())
	ctx := context.Background()

	local, notifier := newTestManager(t, shared, Config{})
	remote, _ := newTestManager(t, shared, Config{})
	if err := local.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if err := local.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if len(notifier.eventTypes()) != 0 {
		t.Fatalf("Sync without changes must not publish, got %v", notifier.eventTypes())
	}

	if _, err := remote.StartSession(ctx, "2024-06-01", "07:30", []string{"G203"}); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if _, err := remote.Draw(ctx, "", "Bob"); err != nil {
		t.Fatalf("Draw failed: %v", err)
	}

	if err := local.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	notifier.mu.Lock()
	events := append([]types.RosterEvent(nil), notifier.events...)
	notifier.mu.Unlock()
	if len(events) != 1 || events[0].Type != types.EventRosterSnapshot {
		t.Fatalf("Expected one roster_snapshot, got %v", notifier.eventTypes())
	}
	if events[0].Stats.Filled != 1 || events[0].Session == nil {
		t.Errorf("Snapshot should carry the remote draw, got %+v", events[0])
	}

	// Own writes are already announced.
	if _, err := local.Draw(ctx, "", "Carol"); err != nil {
		t.Fatalf("Draw failed: %v", err)
	}
	if err := local.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	want := []string{types.EventRosterSnapshot, types.EventSlotDrawn}
	if got := notifier.eventTypes(); !reflect.DeepEqual(got, want) {
		t.Errorf("Events = %v, want %v", got, want)
	}

	if err := remote.ResetSession(ctx); err != nil {
		t.Fatalf("ResetSession failed: %v", err)
	}
	if err := local.Sync(ctx); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	notifier.mu.Lock()
	last := notifier.events[len(notifier.events)-1]
	notifier.mu.Unlock()
	if last.Type != types.EventRosterSnapshot || last.Session != nil {
		t.Errorf("Expected an empty snapshot after the remote reset, got %+v", last)
	}
}

func TestManager_WatchStops(t *testing.T) {
	manager, _ := newTestManager(t, nil, Config{})
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		manager.Watch(10*time.Millisecond, stop)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	close(stop)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after stop")
	}
}

// conflictingStore never lets a conditional save through.
type conflictingStore struct {
	*persistence.Store
	attempts int
}

func (s *conflictingStore) SaveIfVersion(ctx context.Context, snap *types.Snapshot) error {
	s.attempts++
	return interfaces.ErrVersionConflict
}

func TestManager_DrawConflictAfterMaxRetries(t *testing.T) {
	store := &conflictingStore{Store: persistence.NewStore(database.NewMemoryStore())}
	manager := NewManager(store, store, draw.NewEngine(draw.Options{Seed: 1}), nil, Config{MaxRetries: 3})
	ctx := context.Background()

	if _, err := manager.StartSession(ctx, "2024-06-01", "07:30", []string{"G203"}); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if _, err := manager.Draw(ctx, "c", "Alice"); !errors.Is(err, types.ErrDrawConflict) {
		t.Errorf("Expected ErrDrawConflict, got %v", err)
	}
	if store.attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", store.attempts)
	}
}

func TestManager_ConcurrentDraws(t *testing.T) {
	manager, _ := newTestManager(t, nil, Config{})
	ctx := context.Background()

	if _, err := manager.StartSession(ctx, "2024-06-01", "07:30", DefaultCatalog); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	const claimants = 20
	var wg sync.WaitGroup
	results := make(chan error, claimants)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := manager.Draw(ctx, fmt.Sprintf("client-%d", i), fmt.Sprintf("Proctor %d", i))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded, exhausted := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, types.ErrNoSlotsAvailable):
			exhausted++
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if succeeded != 12 || exhausted != 8 {
		t.Errorf("Expected 12 draws and 8 refusals, got %d and %d", succeeded, exhausted)
	}
}

func TestParseRoomMode(t *testing.T) {
	tests := []struct {
		input   string
		want    RoomMode
		wantErr bool
	}{
		{"", RoomModeSelect, false},
		{"select", RoomModeSelect, false},
		{"FIXED", RoomModeFixed, false},
		{"random", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRoomMode(tt.input)
		if tt.wantErr {
			if !errors.Is(err, ErrUnknownRoomMode) {
				t.Errorf("%q: expected ErrUnknownRoomMode, got %v", tt.input, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("%q: got %q, %v", tt.input, got, err)
		}
	}

	if _, err := NewRoomPolicy(RoomModeFixed, nil); !errors.Is(err, ErrEmptyCatalog) {
		t.Errorf("Expected ErrEmptyCatalog, got %v", err)
	}
}
