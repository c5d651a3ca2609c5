// Package session holds the authoritative in-memory snapshot for one event
// and the operations that mutate it. Every mutation ends by replacing the
// snapshot with freshly fetched server state; nothing here ever writes a
// locally-predicted count into state.
package session

import (
	"context"
	"sync"

	"rollcall/internal/backend"
	"rollcall/internal/metrics"
	"rollcall/internal/model"
	"rollcall/internal/partition"
)

// Snapshot is the whole of a session's server-confirmed state. It is only
// ever swapped wholesale, never patched field by field.
type Snapshot struct {
	Event   model.Event
	Roster  []model.Person
	Records []model.AttendanceRecord
}

// CheckedIn counts records with no check-out.
func (s Snapshot) CheckedIn() int {
	n := 0
	for _, rec := range s.Records {
		if rec.CheckOut == nil {
			n++
		}
	}
	return n
}

// Store owns the snapshot for one event session.
type Store struct {
	client  *backend.Client
	eventID string
	mode    partition.Mode

	mu   sync.RWMutex
	snap Snapshot
	subs []chan struct{}
}

// NewStore creates an empty store; call Refresh to load the first snapshot.
func NewStore(client *backend.Client, eventID string, mode partition.Mode) *Store {
	return &Store{client: client, eventID: eventID, mode: mode}
}

// Mode returns the session mode.
func (s *Store) Mode() partition.Mode { return s.mode }

// Snapshot returns the current server-confirmed state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Event returns the event from the current snapshot.
func (s *Store) Event() model.Event {
	return s.Snapshot().Event
}

// CheckedInCount is derived from the current snapshot only.
func (s *Store) CheckedInCount() int {
	return s.Snapshot().CheckedIn()
}

// Partitions projects the current snapshot into display sets.
func (s *Store) Partitions(search string) partition.Partitions {
	snap := s.Snapshot()
	return partition.Split(snap.Roster, snap.Records, s.mode, search)
}

// Subscribe returns a channel that receives a tick after every snapshot
// replacement, plus an unsubscribe func the caller must invoke once done.
// Ticks coalesce; a slow consumer still sees at least one.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		for i, sub := range s.subs {
			if sub == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
	}
	return ch, unsubscribe
}

// replace is the snapshot mutation entry point. It takes the whole new
// snapshot, never field deltas, and notifies subscribers.
func (s *Store) replace(snap Snapshot) {
	s.mu.Lock()
	s.snap = snap
	subs := append([]chan struct{}(nil), s.subs...)
	s.mu.Unlock()

	s.broadcast(snap, subs)
}

// swapRecords replaces only the record set, inside one critical section so a
// concurrent full Refresh is never half-overwritten with stale event or
// roster data.
func (s *Store) swapRecords(records []model.AttendanceRecord) {
	s.mu.Lock()
	s.snap.Records = records
	snap := s.snap
	subs := append([]chan struct{}(nil), s.subs...)
	s.mu.Unlock()

	s.broadcast(snap, subs)
}

func (s *Store) broadcast(snap Snapshot, subs []chan struct{}) {
	metrics.CheckedIn.Set(float64(snap.CheckedIn()))
	metrics.RosterSize.Set(float64(len(snap.Roster)))
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Refresh re-fetches event, roster (skipped in view mode) and records, and
// replaces all three at once. On any error the previous snapshot stays.
func (s *Store) Refresh(ctx context.Context) error {
	ev, err := s.client.Event(ctx, s.eventID)
	if err != nil {
		metrics.RefreshFailures.Inc()
		return err
	}
	var roster []model.Person
	if s.mode != partition.View {
		roster, err = s.client.Roster(ctx)
		if err != nil {
			metrics.RefreshFailures.Inc()
			return err
		}
	}
	records, err := s.client.Attendance(ctx, s.eventID)
	if err != nil {
		metrics.RefreshFailures.Inc()
		return err
	}
	s.replace(Snapshot{Event: ev, Roster: roster, Records: records})
	return nil
}

// CheckIn records a check-in, then replaces the record set with the server's
// answer.
func (s *Store) CheckIn(ctx context.Context, personID string) error {
	if err := s.client.CheckIn(ctx, s.eventID, personID); err != nil {
		return err
	}
	metrics.CheckIns.Inc()
	return s.refetchRecords(ctx)
}

// CheckOut mirrors CheckIn. An already-checked-out person is a backend no-op;
// there is no local pre-validation, stale local state must not veto the call.
func (s *Store) CheckOut(ctx context.Context, personID string) error {
	if err := s.client.CheckOut(ctx, s.eventID, personID); err != nil {
		return err
	}
	metrics.CheckOuts.Inc()
	return s.refetchRecords(ctx)
}

// checkOutAll is the primitive the coordinator drives: one bulk call, then a
// record re-fetch.
func (s *Store) checkOutAll(ctx context.Context) (int, error) {
	n, err := s.client.CheckOutAll(ctx, s.eventID)
	if err != nil {
		return 0, err
	}
	metrics.BulkCheckouts.Inc()
	return n, s.refetchRecords(ctx)
}

func (s *Store) refetchRecords(ctx context.Context) error {
	records, err := s.client.Attendance(ctx, s.eventID)
	if err != nil {
		metrics.RefreshFailures.Inc()
		return err
	}
	s.swapRecords(records)
	return nil
}
