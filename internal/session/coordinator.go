package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"rollcall/internal/notify"
	"rollcall/internal/schedule"
)

// AdminRole is the claim value allowed to trigger bulk checkout. The check
// here is a UX convenience; the backend authorizes its bulk endpoint
// independently.
const AdminRole = "admin"

// Validation failures. Callers display these; the network is never touched.
var (
	ErrNotAdmin      = errors.New("bulk checkout requires the admin role")
	ErrEventNotEnded = errors.New("event has not ended yet")
)

// BulkResult reports what a CheckOutAll invocation did.
type BulkResult struct {
	CheckedOut   int    `json:"checked_out"`
	FullyVacated bool   `json:"fully_vacated"`
	Skipped      bool   `json:"skipped"`
	Reason       string `json:"reason,omitempty"`
}

// Coordinator serializes bulk checkout: Idle -> InFlight -> Idle, one
// in-flight operation at a time. Once sent, a bulk request is not abortable,
// only awaitable.
type Coordinator struct {
	store    *Store
	notifier notify.Notifier
	loc      *time.Location

	mu       sync.Mutex
	inFlight bool
}

// NewCoordinator wires the coordinator over a store. loc is the organization
// timezone used to evaluate legacy event schedules.
func NewCoordinator(store *Store, notifier notify.Notifier, loc *time.Location) *Coordinator {
	return &Coordinator{store: store, notifier: notifier, loc: loc}
}

// CheckOutAll checks out everyone still in, provided the caller holds the
// admin role and the event is over. A second call while one is in flight is
// ignored, and a call with nobody checked in makes no network request at all.
// The fully-vacated signal is raised only when the backend's count matches
// the pre-call checked-in count, meaning this call emptied the event.
func (c *Coordinator) CheckOutAll(ctx context.Context, role string, now time.Time) (BulkResult, error) {
	if role != AdminRole {
		return BulkResult{}, ErrNotAdmin
	}
	if !schedule.EventEnded(c.store.Event(), now, c.loc) {
		return BulkResult{}, ErrEventNotEnded
	}

	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return BulkResult{Skipped: true, Reason: "bulk checkout already in progress"}, nil
	}
	c.inFlight = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	before := c.store.CheckedInCount()
	if before == 0 {
		// The backend's bulk endpoint is idempotent; skipping the call is an
		// optimization, not a correctness requirement.
		return BulkResult{Skipped: true, Reason: "nobody is checked in"}, nil
	}

	n, err := c.store.checkOutAll(ctx)
	if err != nil {
		return BulkResult{}, err
	}

	res := BulkResult{CheckedOut: n}
	if n == before {
		res.FullyVacated = true
		sig := notify.NewSignal(notify.FullyVacated, c.store.Event().ID, n)
		if perr := c.notifier.Publish(ctx, sig); perr != nil {
			log.Printf("fully vacated signal publish failed: %v", perr)
		}
	}
	return res, nil
}
