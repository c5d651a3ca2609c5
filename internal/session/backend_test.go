package session

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"rollcall/internal/backend"
	"rollcall/internal/model"
)

// fakeBackend is an in-memory rendition of the attendance backend for tests.
// It can fail specific paths, and gate requests so completion order is
// controllable.
type fakeBackend struct {
	mu      sync.Mutex
	event   model.Event
	youth   []model.Person
	leaders []model.Person
	records []model.AttendanceRecord

	requests  map[string]int
	total     int
	failPaths map[string]int

	gateAttendance     chan struct{}
	attendanceInFlight chan struct{}
	gateBulk           chan struct{}
	bulkInFlight       chan struct{}

	srv *httptest.Server
}

func newFakeBackend(t *testing.T, event model.Event, youth, leaders []model.Person, records []model.AttendanceRecord) *fakeBackend {
	f := &fakeBackend{
		event:     event,
		youth:     youth,
		leaders:   leaders,
		records:   records,
		requests:  make(map[string]int),
		failPaths: make(map[string]int),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeBackend) client() *backend.Client {
	return backend.New(f.srv.URL)
}

func (f *fakeBackend) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[key]
}

func (f *fakeBackend) totalRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.total
}

// failNext makes the next n requests to path return 500.
func (f *fakeBackend) failNext(path string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPaths[path] = n
}

func (f *fakeBackend) addRecord(rec model.AttendanceRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
}

func (f *fakeBackend) addYouth(p model.Person) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.youth = append(f.youth, p)
}

// holdNextAttendance blocks the next attendance fetch until release is
// called. The returned channel closes once that fetch has arrived.
func (f *fakeBackend) holdNextAttendance() (release func(), inFlight chan struct{}) {
	gate := make(chan struct{})
	arrived := make(chan struct{})
	f.mu.Lock()
	f.gateAttendance = gate
	f.attendanceInFlight = arrived
	f.mu.Unlock()
	return func() { close(gate) }, arrived
}

// holdNextBulk is holdNextAttendance for the checkout-all endpoint.
func (f *fakeBackend) holdNextBulk() (release func(), inFlight chan struct{}) {
	gate := make(chan struct{})
	arrived := make(chan struct{})
	f.mu.Lock()
	f.gateBulk = gate
	f.bulkInFlight = arrived
	f.mu.Unlock()
	return func() { close(gate) }, arrived
}

func (f *fakeBackend) handle(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	key := r.Method + " " + path

	f.mu.Lock()
	f.requests[key]++
	f.total++
	if n := f.failPaths[path]; n > 0 {
		f.failPaths[path] = n - 1
		f.mu.Unlock()
		http.Error(w, "backend unavailable", http.StatusInternalServerError)
		return
	}
	var gate chan struct{}
	var arrived chan struct{}
	switch {
	case strings.HasSuffix(path, "/attendance") && f.gateAttendance != nil:
		gate, arrived = f.gateAttendance, f.attendanceInFlight
		f.gateAttendance, f.attendanceInFlight = nil, nil
	case strings.HasSuffix(path, "/checkout-all") && f.gateBulk != nil:
		gate, arrived = f.gateBulk, f.bulkInFlight
		f.gateBulk, f.bulkInFlight = nil, nil
	}
	f.mu.Unlock()

	if gate != nil {
		close(arrived)
		<-gate
	}

	switch {
	case r.Method == http.MethodGet && path == "/event/"+f.event.ID:
		f.writeJSON(w, f.snapshotEvent())

	case r.Method == http.MethodGet && strings.HasSuffix(path, "/attendance"):
		f.writeJSON(w, f.snapshotRecords())

	case r.Method == http.MethodGet && path == "/person/youth":
		f.mu.Lock()
		people := append([]model.Person(nil), f.youth...)
		f.mu.Unlock()
		f.writeJSON(w, people)

	case r.Method == http.MethodGet && path == "/person/leaders":
		f.mu.Lock()
		people := append([]model.Person(nil), f.leaders...)
		f.mu.Unlock()
		f.writeJSON(w, people)

	case r.Method == http.MethodPost && strings.HasSuffix(path, "/checkin"):
		var req struct {
			PersonID string `json:"person_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PersonID == "" {
			http.Error(w, "person_id required", http.StatusBadRequest)
			return
		}
		f.addRecord(model.AttendanceRecord{PersonID: req.PersonID, CheckIn: time.Now().UTC()})
		w.WriteHeader(http.StatusOK)

	case r.Method == http.MethodPut && strings.HasSuffix(path, "/checkout-all"):
		f.mu.Lock()
		n := 0
		now := time.Now().UTC()
		for i := range f.records {
			if f.records[i].CheckOut == nil {
				out := now
				f.records[i].CheckOut = &out
				n++
			}
		}
		f.mu.Unlock()
		f.writeJSON(w, map[string]int{"checked_out_count": n})

	case r.Method == http.MethodPut && strings.HasSuffix(path, "/checkout"):
		var req struct {
			PersonID string `json:"person_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PersonID == "" {
			http.Error(w, "person_id required", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		for i := range f.records {
			// Checking out an already-checked-out person is a no-op, not an
			// error.
			if f.records[i].PersonID == req.PersonID && f.records[i].CheckOut == nil {
				out := time.Now().UTC()
				f.records[i].CheckOut = &out
			}
		}
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeBackend) snapshotEvent() model.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.event
}

func (f *fakeBackend) snapshotRecords() []model.AttendanceRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.AttendanceRecord(nil), f.records...)
}

func (f *fakeBackend) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
