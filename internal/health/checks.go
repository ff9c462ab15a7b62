package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/voxcoach/internal/session"
)

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck returns a Checker that pings p.
func PingCheck(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// SessionCheck returns a Checker that fails when the controller has been in a
// transitional state (connecting, closing or errored) for longer than
// stuckAfter. Idle and live are always healthy.
func SessionCheck(state func() session.State, stuckAfter time.Duration, now func() time.Time) Checker {
	if now == nil {
		now = time.Now
	}
	var (
		mu    sync.Mutex
		last  = session.StateIdle
		since = now()
	)
	return Checker{
		Name: "session",
		Check: func(context.Context) error {
			s := state()
			t := now()

			mu.Lock()
			defer mu.Unlock()
			if s != last {
				last, since = s, t
			}
			switch s {
			case session.StateIdle, session.StateLive:
				return nil
			}
			if d := t.Sub(since); d > stuckAfter {
				return fmt.Errorf("stuck in %s for %s", s, d.Truncate(time.Second))
			}
			return nil
		},
	}
}
