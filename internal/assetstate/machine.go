package assetstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownAsset is returned by stores for ids they have never seen.
var ErrUnknownAsset = errors.New("unknown asset")

// ErrConflict is returned when concurrent writers kept winning the swap.
var ErrConflict = errors.New("state changed concurrently")

const maxSwapAttempts = 5

// SnapshotStore persists one Snapshot per asset id.
type SnapshotStore interface {
	LoadSnapshot(ctx context.Context, id string) (Snapshot, error)
	// SwapSnapshot writes next only if the stored value still equals prev.
	SwapSnapshot(ctx context.Context, id string, prev, next Snapshot) (bool, error)
}

// SwapFunc stores next in place of prev and reports false when prev is no
// longer current.
type SwapFunc func(ctx context.Context, prev, next Snapshot) (bool, error)

// Listener receives every committed transition.
type Listener func(id string, snap Snapshot)

// Machine drives asset state transitions on top of a SnapshotStore.
type Machine struct {
	store     SnapshotStore
	listeners []Listener
}

func NewMachine(store SnapshotStore, listeners ...Listener) *Machine {
	return &Machine{store: store, listeners: listeners}
}

// Current returns the stored snapshot for id.
func (m *Machine) Current(ctx context.Context, id string) (Snapshot, error) {
	return m.store.LoadSnapshot(ctx, id)
}

// Fire applies ev to the asset and returns the committed snapshot.
func (m *Machine) Fire(ctx context.Context, id string, ev Event) (Snapshot, error) {
	return m.FireWith(ctx, id, ev, func(ctx context.Context, prev, next Snapshot) (bool, error) {
		return m.store.SwapSnapshot(ctx, id, prev, next)
	})
}

// FireWith is Fire with a caller-supplied swap. Data written by swap commits
// together with the transition, and swap is never called for a rejected event.
func (m *Machine) FireWith(ctx context.Context, id string, ev Event, swap SwapFunc) (Snapshot, error) {
	for attempt := 0; attempt < maxSwapAttempts; attempt++ {
		prev, err := m.store.LoadSnapshot(ctx, id)
		if err != nil {
			return Snapshot{}, err
		}

		next, err := Advance(prev, ev)
		if err != nil {
			return prev, err
		}

		ok, err := swap(ctx, prev, next)
		if err != nil {
			return prev, fmt.Errorf("failed to store state: %w", err)
		}
		if !ok {
			continue
		}

		for _, l := range m.listeners {
			l(id, next)
		}
		return next, nil
	}
	return Snapshot{}, fmt.Errorf("%w: %s", ErrConflict, id)
}

// MemoryStore is an in-process SnapshotStore.
type MemoryStore struct {
	mu    sync.Mutex
	snaps map[string]Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]Snapshot)}
}

// Put seeds or overwrites the snapshot for id.
func (s *MemoryStore) Put(id string, snap Snapshot) {
	s.mu.Lock()
	s.snaps[id] = snap
	s.mu.Unlock()
}

func (s *MemoryStore) LoadSnapshot(_ context.Context, id string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownAsset, id)
	}
	return snap, nil
}

func (s *MemoryStore) SwapSnapshot(_ context.Context, id string, prev, next Snapshot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.snaps[id]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownAsset, id)
	}
	if cur != prev {
		return false, nil
	}
	s.snaps[id] = next
	return true, nil
}
