// Package schedule answers whether an event is over, in the event's own
// timezone terms.
package schedule

import (
	"time"

	"rollcall/internal/model"
)

const civilDateLayout = "2006-01-02"

var clockLayouts = []string{"15:04", "15:04:05"}

// EventEnded reports whether ev is over as of now. Events carrying UTC
// instants compare directly; legacy events interpret date plus end_time as
// wall clock in loc. The boundary instant counts as ended. An event with no
// parseable end never ends, so it can never trigger bulk checkout.
func EventEnded(ev model.Event, now time.Time, loc *time.Location) bool {
	if ev.EndDatetime != nil {
		return !now.Before(*ev.EndDatetime)
	}
	if ev.Date == "" || ev.EndTime == "" {
		return false
	}
	if loc == nil {
		loc = time.UTC
	}
	end, ok := parseCivil(ev.Date, ev.EndTime, loc)
	if !ok {
		return false
	}
	return !now.In(loc).Before(end)
}

func parseCivil(date, clock string, loc *time.Location) (time.Time, bool) {
	for _, layout := range clockLayouts {
		if t, err := time.ParseInLocation(civilDateLayout+" "+layout, date+" "+clock, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
