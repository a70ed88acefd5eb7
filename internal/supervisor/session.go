package supervisor

import (
	"time"

	"github.com/loykin/stackctl/internal/drain"
	"github.com/loykin/stackctl/internal/probe"
)

// DrainSession is the transient bookkeeping for one graceful-stop
// attempt. It lives from the drain acknowledgement until the stop
// concludes and is never persisted: a supervisor crash mid-drain simply
// loses it, and the backend's own persistence remains the source of
// truth for whether data was actually saved.
type DrainSession struct {
	StartedAt time.Time
	Ack       probe.Ack
	Outcome   drain.Outcome
	Elapsed   time.Duration
	LastSize  int64
	LastLine  string
}

func newDrainSession(ack probe.Ack) *DrainSession {
	return &DrainSession{StartedAt: time.Now(), Ack: ack, Outcome: drain.OutcomePending}
}

func (d *DrainSession) conclude(res drain.Result) {
	d.Outcome = res.Outcome
	d.Elapsed = res.Elapsed
	d.LastSize = res.LastSize
	d.LastLine = res.LastLine
}
