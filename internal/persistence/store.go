package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"proctordraw/pkg/interfaces"
	"proctordraw/pkg/types"
)

// Blob keys. The drawn-name memo is one key per client so a reset can clear
// every memo with a single prefix delete.
const (
	SnapshotKey    = "proctordraw.app"
	DrawnKeyPrefix = "proctordraw.drawn."
)

// Store persists the session snapshot and the drawn-name memos in a BlobStore.
type Store struct {
	blobs interfaces.BlobStore
}

// NewStore creates a persistence store over blobs.
func NewStore(blobs interfaces.BlobStore) *Store {
	return &Store{blobs: blobs}
}

// Load returns the stored snapshot, or nil when no session is stored.
// Undecodable or structurally invalid data yields types.ErrCorruptSnapshot.
func (s *Store) Load(ctx context.Context) (*types.Snapshot, error) {
	data, version, err := s.blobs.Get(ctx, SnapshotKey)
	if err != nil {
		if errors.Is(err, interfaces.ErrBlobNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	snap, err := decodeSnapshot(data)
	if err != nil {
		return nil, err
	}
	snap.Version = version
	return snap, nil
}

// Save overwrites the stored snapshot.
func (s *Store) Save(ctx context.Context, snap *types.Snapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	version, err := s.blobs.Set(ctx, SnapshotKey, data)
	if err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	snap.Version = version
	return nil
}

// SaveIfVersion writes snap only if nobody else has written since it was loaded.
func (s *Store) SaveIfVersion(ctx context.Context, snap *types.Snapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	version, err := s.blobs.CompareAndSet(ctx, SnapshotKey, data, snap.Version)
	if err != nil {
		if errors.Is(err, interfaces.ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	snap.Version = version
	return nil
}

// Clear removes the stored snapshot.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.blobs.Delete(ctx, SnapshotKey); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	return nil
}

// Version returns the snapshot key's stamp. It keeps growing across clears.
func (s *Store) Version(ctx context.Context) (int64, error) {
	_, version, err := s.blobs.Get(ctx, SnapshotKey)
	if err != nil && !errors.Is(err, interfaces.ErrBlobNotFound) {
		return 0, fmt.Errorf("failed to read snapshot version: %w", err)
	}
	return version, nil
}

func (s *Store) SaveDrawnName(ctx context.Context, clientID, name string) error {
	if clientID == "" {
		return nil
	}
	if _, err := s.blobs.Set(ctx, DrawnKeyPrefix+clientID, []byte(name)); err != nil {
		return fmt.Errorf("failed to save drawn name: %w", err)
	}
	return nil
}

func (s *Store) LoadDrawnName(ctx context.Context, clientID string) (string, bool, error) {
	if clientID == "" {
		return "", false, nil
	}
	data, _, err := s.blobs.Get(ctx, DrawnKeyPrefix+clientID)
	if err != nil {
		if errors.Is(err, interfaces.ErrBlobNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to load drawn name: %w", err)
	}
	if len(data) == 0 {
		return "", false, nil
	}
	return string(data), true, nil
}

func (s *Store) ClearDrawnName(ctx context.Context, clientID string) error {
	if clientID == "" {
		return nil
	}
	if err := s.blobs.Delete(ctx, DrawnKeyPrefix+clientID); err != nil {
		return fmt.Errorf("failed to clear drawn name: %w", err)
	}
	return nil
}

// ClearDrawnNames forgets every client's drawn name.
func (s *Store) ClearDrawnNames(ctx context.Context) error {
	if err := s.blobs.DeletePrefix(ctx, DrawnKeyPrefix); err != nil {
		return fmt.Errorf("failed to clear drawn names: %w", err)
	}
	return nil
}

func encodeSnapshot(snap *types.Snapshot) ([]byte, error) {
	if snap == nil || snap.Session == nil {
		return nil, fmt.Errorf("%w: snapshot without session", types.ErrInvalidSessionConfig)
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (*types.Snapshot, error) {
	var snap types.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		if errors.Is(err, types.ErrCorruptSnapshot) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", types.ErrCorruptSnapshot, err)
	}
	if snap.Session == nil {
		return nil, fmt.Errorf("%w: missing session", types.ErrCorruptSnapshot)
	}
	if err := snap.Session.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrCorruptSnapshot, err)
	}
	if err := snap.Roster.Validate(snap.Session); err != nil {
		return nil, err
	}
	return &snap, nil
}
