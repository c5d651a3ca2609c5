package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"rollcall/internal/model"
	"rollcall/internal/notify"
	"rollcall/internal/partition"
)

var org = time.FixedZone("org", -6*60*60)

// 21:00 on event day, the earliest instant the event counts as ended.
func endedNow() time.Time {
	return time.Date(2025, 10, 13, 21, 0, 0, 0, org)
}

func newCoordinatorTest(t *testing.T, records []model.AttendanceRecord) (*fakeBackend, *Store, *Coordinator, <-chan notify.Signal) {
	t.Helper()
	f := newFakeBackend(t, testEvent(), testYouth(), testLeaders(), records)
	store := NewStore(f.client(), "ev1", partition.Manage)
	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	notifier := notify.NewMemory(8)
	signals, err := notifier.Subscribe(contextFor(t))
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	return f, store, NewCoordinator(store, notifier, org), signals
}

func contextFor(t *testing.T) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

func TestCheckOutAllGuards(t *testing.T) {
	f, _, coord, _ := newCoordinatorTest(t, []model.AttendanceRecord{checkedIn("a")})
	before := f.totalRequests()

	t.Run("non-admin rejected", func(t *testing.T) {
		if _, err := coord.CheckOutAll(context.Background(), "leader", endedNow()); err != ErrNotAdmin {
			t.Errorf("err = %v, want ErrNotAdmin", err)
		}
	})

	t.Run("event not ended rejected", func(t *testing.T) {
		notYet := time.Date(2025, 10, 13, 20, 59, 0, 0, org)
		if _, err := coord.CheckOutAll(context.Background(), AdminRole, notYet); err != ErrEventNotEnded {
			t.Errorf("err = %v, want ErrEventNotEnded", err)
		}
	})

	if f.totalRequests() != before {
		t.Error("guard rejections must not reach the network")
	}
}

// First call checks out everyone and raises the signal; an immediate second
// call is a local no-op reporting zero.
func TestCheckOutAllIdempotent(t *testing.T) {
	f, store, coord, signals := newCoordinatorTest(t, []model.AttendanceRecord{
		checkedIn("a"), checkedIn("d"), checkedOut("b"),
	})

	res, err := coord.CheckOutAll(context.Background(), AdminRole, endedNow())
	if err != nil {
		t.Fatalf("bulk checkout failed: %v", err)
	}
	if res.CheckedOut != 2 || !res.FullyVacated || res.Skipped {
		t.Errorf("first call = %+v, want 2 checked out, fully vacated", res)
	}
	if store.CheckedInCount() != 0 {
		t.Errorf("checked in = %d after bulk checkout, want 0", store.CheckedInCount())
	}

	select {
	case sig := <-signals:
		if sig.Type != notify.FullyVacated || sig.EventID != "ev1" || sig.CheckedOut != 2 {
			t.Errorf("signal = %+v", sig)
		}
	case <-time.After(time.Second):
		t.Fatal("fully vacated signal not raised")
	}

	before := f.totalRequests()
	res, err = coord.CheckOutAll(context.Background(), AdminRole, endedNow())
	if err != nil {
		t.Fatalf("second bulk checkout failed: %v", err)
	}
	if !res.Skipped || res.CheckedOut != 0 {
		t.Errorf("second call = %+v, want informational skip", res)
	}
	if f.totalRequests() != before {
		t.Error("second call with nobody checked in must make zero network calls")
	}
	select {
	case sig := <-signals:
		t.Errorf("unexpected signal after no-op call: %+v", sig)
	default:
	}
}

// The server checked out more people than this kiosk knew about, so this call
// did not vacate the event by itself; no signal.
func TestCheckOutAllPartialKnowledgeNoSignal(t *testing.T) {
	f, _, coord, signals := newCoordinatorTest(t, []model.AttendanceRecord{
		checkedIn("a"), checkedIn("d"),
	})

	// A check-in from another kiosk lands after our last fetch.
	f.addRecord(checkedIn("c"))

	res, err := coord.CheckOutAll(context.Background(), AdminRole, endedNow())
	if err != nil {
		t.Fatalf("bulk checkout failed: %v", err)
	}
	if res.CheckedOut != 3 {
		t.Errorf("checked out = %d, want 3 (server truth)", res.CheckedOut)
	}
	if res.FullyVacated {
		t.Error("count mismatch with pre-call snapshot must not raise the signal")
	}
	select {
	case sig := <-signals:
		t.Errorf("unexpected signal: %+v", sig)
	default:
	}
}

func TestCheckOutAllReentrancy(t *testing.T) {
	f, _, coord, _ := newCoordinatorTest(t, []model.AttendanceRecord{
		checkedIn("a"), checkedIn("d"),
	})

	release, inFlight := f.holdNextBulk()
	done := make(chan BulkResult, 1)
	go func() {
		res, err := coord.CheckOutAll(context.Background(), AdminRole, endedNow())
		if err != nil {
			t.Errorf("first bulk checkout failed: %v", err)
		}
		done <- res
	}()
	<-inFlight // first invocation is parked at the backend

	res, err := coord.CheckOutAll(context.Background(), AdminRole, endedNow())
	if err != nil {
		t.Fatalf("second invocation errored: %v", err)
	}
	if !res.Skipped || !strings.Contains(res.Reason, "in progress") {
		t.Errorf("second invocation = %+v, want in-progress skip", res)
	}

	release()
	first := <-done
	if first.CheckedOut != 2 || !first.FullyVacated {
		t.Errorf("first invocation = %+v, want 2 checked out", first)
	}
}

// Nobody consuming signals and a saturated buffer must not wedge a bulk
// checkout.
func TestCheckOutAllWithSaturatedNotifier(t *testing.T) {
	f := newFakeBackend(t, testEvent(), testYouth(), testLeaders(), []model.AttendanceRecord{
		checkedIn("a"), checkedIn("d"),
	})
	store := NewStore(f.client(), "ev1", partition.Manage)
	if err := store.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	notifier := notify.NewMemory(1)
	if err := notifier.Publish(context.Background(), notify.NewSignal(notify.FullyVacated, "ev1", 1)); err != nil {
		t.Fatalf("priming publish failed: %v", err)
	}
	coord := NewCoordinator(store, notifier, org)

	done := make(chan BulkResult, 1)
	go func() {
		res, err := coord.CheckOutAll(context.Background(), AdminRole, endedNow())
		if err != nil {
			t.Errorf("bulk checkout failed: %v", err)
		}
		done <- res
	}()

	select {
	case res := <-done:
		if res.CheckedOut != 2 || !res.FullyVacated {
			t.Errorf("result = %+v, want 2 checked out, fully vacated", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bulk checkout blocked on the undrained notifier")
	}
}

func TestCheckOutAllBackendFailure(t *testing.T) {
	f, store, coord, signals := newCoordinatorTest(t, []model.AttendanceRecord{
		checkedIn("a"), checkedIn("d"),
	})

	f.failNext("/event/ev1/checkout-all", 1)
	if _, err := coord.CheckOutAll(context.Background(), AdminRole, endedNow()); err == nil {
		t.Fatal("expected bulk checkout error")
	}
	if store.CheckedInCount() != 2 {
		t.Errorf("checked in = %d, want 2 (snapshot untouched on failure)", store.CheckedInCount())
	}
	select {
	case sig := <-signals:
		t.Errorf("unexpected signal after failure: %+v", sig)
	default:
	}

	// A manual retry succeeds; the endpoint itself is idempotent.
	res, err := coord.CheckOutAll(context.Background(), AdminRole, endedNow())
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if res.CheckedOut != 2 || !res.FullyVacated {
		t.Errorf("retry = %+v, want 2 checked out", res)
	}
}
