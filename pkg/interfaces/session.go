package interfaces

import (
	"context"

	"proctordraw/pkg/types"
)

// SnapshotStore persists the session together with its roster.
type SnapshotStore interface {
	// Load returns the stored snapshot, nil when none exists, or an error
	// wrapping types.ErrCorruptSnapshot when the stored data is unusable.
	Load(ctx context.Context) (*types.Snapshot, error)

	// Save overwrites the stored snapshot and updates snap.Version.
	Save(ctx context.Context, snap *types.Snapshot) error

	// SaveIfVersion writes snap only if the store is still at snap.Version,
	// updating snap.Version on success and returning ErrVersionConflict otherwise.
	SaveIfVersion(ctx context.Context, snap *types.Snapshot) error

	// Clear removes the stored snapshot.
	Clear(ctx context.Context) error

	// Version returns the snapshot's current stamp, including after a Clear.
	Version(ctx context.Context) (int64, error)
}

// DrawnNameMemo remembers which claimant name a client drew under so a
// returning browser can be shown its result without drawing again.
type DrawnNameMemo interface {
	SaveDrawnName(ctx context.Context, clientID, name string) error
	LoadDrawnName(ctx context.Context, clientID string) (string, bool, error)
	ClearDrawnName(ctx context.Context, clientID string) error
	ClearDrawnNames(ctx context.Context) error
}

// Notifier receives roster change events for live viewers.
type Notifier interface {
	Publish(event types.RosterEvent) error
}

// SessionManager owns the exam session lifecycle and serialises draws.
type SessionManager interface {
	StartSession(ctx context.Context, date, time string, rooms []string) (*types.Session, error)
	ResetSession(ctx context.Context) error
	Current(ctx context.Context) (*types.Snapshot, error)
	Draw(ctx context.Context, clientID, name string) (types.Assignment, error)
	MyAssignment(ctx context.Context, clientID string) (types.Assignment, error)
	Export(ctx context.Context) ([]types.ExportRow, error)
}
